package vault

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"outsy/services/auth/internal/tokens"
)

// MemoryVault keeps records in process memory.
type MemoryVault struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	now     func() time.Time
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{records: make(map[uuid.UUID]Record), now: time.Now}
}

func (v *MemoryVault) Store(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec := Record{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: v.now().UTC(),
	}
	v.records[rec.ID] = rec
	return rec, nil
}

func (v *MemoryVault) FindActive(_ context.Context, userID uuid.UUID, now time.Time) ([]Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []Record
	for _, rec := range v.records {
		if rec.UserID == userID && rec.Active(now) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (v *MemoryVault) Consume(_ context.Context, id uuid.UUID, tokenHash string, now time.Time) (Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.records[id]
	if !ok || !tokens.EqualHash(rec.TokenHash, tokenHash) || !rec.Active(now) {
		return Record{}, ErrNotFound
	}
	delete(v.records, id)
	return rec, nil
}

func (v *MemoryVault) Revoke(_ context.Context, userID uuid.UUID, tokenHash string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var n int64
	for id, rec := range v.records {
		if rec.UserID == userID && tokens.EqualHash(rec.TokenHash, tokenHash) {
			delete(v.records, id)
			n++
		}
	}
	return n, nil
}

func (v *MemoryVault) RevokeAll(_ context.Context, userID uuid.UUID) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var n int64
	for id, rec := range v.records {
		if rec.UserID == userID {
			delete(v.records, id)
			n++
		}
	}
	return n, nil
}

func (v *MemoryVault) Sweep(_ context.Context, now time.Time) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var n int64
	for id, rec := range v.records {
		if !rec.Active(now) {
			delete(v.records, id)
			n++
		}
	}
	return n, nil
}

func (v *MemoryVault) Ping(context.Context) error { return nil }

// Len returns the number of stored records, live or expired.
func (v *MemoryVault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.records)
}
