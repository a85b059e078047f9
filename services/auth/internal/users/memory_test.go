package users

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeParams() CreateParams {
	return CreateParams{
		Email:        gofakeit.Email(),
		Username:     gofakeit.Username(),
		PasswordHash: "hash",
		FirstName:    gofakeit.FirstName(),
		LastName:     gofakeit.LastName(),
		Gender:       "female",
		Birthdate:    time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC),
		Location:     gofakeit.City(),
	}
}

func TestMemoryStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p := fakeParams()
	p.Email = "  Mixed@Example.COM "

	created, err := store.Create(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "mixed@example.com", created.Email)
	assert.Equal(t, RoleUser, created.Role)
	assert.Equal(t, StatusActive, created.Status)
	assert.NotNil(t, created.Interests)

	byEmail, err := store.ByEmail(ctx, "MIXED@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byID, err := store.ByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Username, byID.Username)

	_, err = store.ByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDuplicateFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ig := "https://instagram.com/outsy"
	first := fakeParams()
	first.IGURL = &ig
	_, err := store.Create(ctx, first)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(p *CreateParams)
		field  string
	}{
		{name: "email", mutate: func(p *CreateParams) { p.Email = first.Email }, field: "email"},
		{name: "username", mutate: func(p *CreateParams) { p.Username = first.Username }, field: "username"},
		{name: "instagram", mutate: func(p *CreateParams) { p.IGURL = &ig }, field: "igUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fakeParams()
			tt.mutate(&p)

			_, err := store.Create(ctx, p)
			require.ErrorIs(t, err, ErrDuplicate)

			var dup *DuplicateError
			require.ErrorAs(t, err, &dup)
			assert.Equal(t, tt.field, dup.Field)
		})
	}

	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreSetRole(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u, err := store.Create(ctx, fakeParams())
	require.NoError(t, err)

	updated, err := store.SetRole(ctx, u.ID, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, updated.Role)

	_, err = store.SetRole(ctx, uuid.New(), RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("ADMIN")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, role)

	_, ok = ParseRole("admin")
	assert.False(t, ok)
	_, ok = ParseRole("")
	assert.False(t, ok)
}
