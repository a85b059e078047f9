package users

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")

	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("user already exists")
)

// DuplicateError names the unique field that collided. Field is empty when the
// database reported the violation without saying which index fired.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return ErrDuplicate.Error()
	}
	return fmt.Sprintf("%s: %s", ErrDuplicate, e.Field)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// Role is the authorization level of an account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole accepts the exact role names only.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), true
	default:
		return "", false
	}
}

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusBanned   Status = "BANNED"
)

// User is an account as seen by the rest of the service. PasswordHash never
// leaves the process.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Gender       string    `json:"gender"`
	Birthdate    time.Time `json:"birthdate"`
	Location     string    `json:"location"`
	Interests    []string  `json:"interests"`
	Bio          *string   `json:"bio,omitempty"`
	IGURL        *string   `json:"igUrl,omitempty"`
	Role         Role      `json:"role"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateParams carries a validated signup with an already hashed password.
type CreateParams struct {
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Gender       string
	Birthdate    time.Time
	Location     string
	Interests    []string
	Bio          *string
	IGURL        *string
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
