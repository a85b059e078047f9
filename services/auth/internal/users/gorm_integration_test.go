package users

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outsy/services/auth/internal/db"
	"outsy/services/auth/internal/models"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()

	dsn := os.Getenv("OUTSY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("OUTSY_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	orm, err := db.Connect(ctx, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(orm) })

	require.NoError(t, orm.WithContext(ctx).AutoMigrate(&models.User{}))

	store, err := NewGormStore(orm)
	require.NoError(t, err)
	return store
}

func TestGormStoreLifecycle(t *testing.T) {
	store := newGormStore(t)
	ctx := context.Background()

	p := fakeParams()
	p.Interests = []string{"climbing", "jazz"}

	created, err := store.Create(ctx, p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Delete(context.Background(), created.ID) })

	assert.Equal(t, RoleUser, created.Role)
	assert.Equal(t, []string{"climbing", "jazz"}, created.Interests)

	_, err = store.Create(ctx, p)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "email", dup.Field)

	got, err := store.ByEmail(ctx, p.Email)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	promoted, err := store.SetRole(ctx, created.ID, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, promoted.Role)

	_, err = store.SetRole(ctx, uuid.New(), RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, created.ID))
	_, err = store.ByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
