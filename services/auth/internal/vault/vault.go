// Package vault persists hashed refresh tokens. A row's presence means the
// matching refresh token may still be exchanged; consuming or revoking the
// row ends that token's life regardless of its own expiry claim.
package vault

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no live record matches.
var ErrNotFound = errors.New("refresh token not found")

// Record is one stored refresh token.
type Record struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"userId"`
	TokenHash string    `db:"token_hash" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Active reports whether r is still usable at now.
func (r Record) Active(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
