package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"outsy/services/auth/internal/apperr"
	"outsy/services/auth/internal/password"
	"outsy/services/auth/internal/tokens"
	"outsy/services/auth/internal/users"
	"outsy/services/auth/internal/vault"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, subject string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := v.(Event)
	ev.Subject = subject
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Subject)
	}
	return out
}

type failingVault struct {
	*vault.MemoryVault
	storeErr error
}

func (v *failingVault) Store(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (vault.Record, error) {
	if v.storeErr != nil {
		return vault.Record{}, v.storeErr
	}
	return v.MemoryVault.Store(ctx, userID, tokenHash, expiresAt)
}

type fixture struct {
	svc    *Service
	users  *users.MemoryStore
	vault  *vault.MemoryVault
	clock  *clock
	events *recorder
	opts   Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithVault(t, nil)
}

func newFixtureWithVault(t *testing.T, wrap func(*vault.MemoryVault) Vault) *fixture {
	t.Helper()

	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	iss, err := tokens.NewIssuer(tokens.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
		Now:           c.Now,
	})
	require.NoError(t, err)

	f := &fixture{
		users:  users.NewMemoryStore(),
		vault:  vault.NewMemoryVault(),
		clock:  c,
		events: &recorder{},
	}
	var v Vault = f.vault
	if wrap != nil {
		v = wrap(f.vault)
	}

	f.opts = Options{
		Users:  f.users,
		Vault:  v,
		Issuer: iss,
		Hasher: password.NewHasher(bcrypt.MinCost),
		Events: f.events,
		Logger: zerolog.Nop(),
		Now:    c.Now,
	}
	f.svc, err = New(f.opts)
	require.NoError(t, err)
	return f
}

func signupInput() SignupInput {
	return SignupInput{
		Email:     gofakeit.Email(),
		Password:  "secret123",
		Username:  gofakeit.Username() + gofakeit.DigitN(4),
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		Gender:    "female",
		Birthdate: Date{time.Date(1994, 5, 17, 0, 0, 0, 0, time.UTC)},
		Location:  gofakeit.City(),
		Interests: []string{"hiking"},
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSignupReturnsUsableSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := signupInput()
	sess, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)

	body, err := json.Marshal(sess)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "password")
	assert.NotContains(t, string(body), sess.User.PasswordHash)
	assert.Contains(t, string(body), `"accessToken"`)
	assert.Contains(t, string(body), `"refreshToken"`)

	id, err := f.svc.VerifyAccessToken(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, id.UserID)
	assert.Equal(t, users.NormalizeEmail(in.Email), id.Email)

	assert.Equal(t, 1, f.vault.Len())
	assert.Equal(t, []string{SubjectSignedUp}, f.events.subjects())
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*SignupInput)
	}{
		{"bad email", func(in *SignupInput) { in.Email = "not-an-email" }},
		{"short password", func(in *SignupInput) { in.Password = "short" }},
		{"short username", func(in *SignupInput) { in.Username = "a" }},
		{"missing first name", func(in *SignupInput) { in.FirstName = "" }},
		{"missing gender", func(in *SignupInput) { in.Gender = " " }},
		{"missing birthdate", func(in *SignupInput) { in.Birthdate = Date{} }},
		{"future birthdate", func(in *SignupInput) { in.Birthdate = Date{time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)} }},
		{"missing interests", func(in *SignupInput) { in.Interests = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := signupInput()
			tt.mutate(&in)
			_, err := f.svc.Signup(context.Background(), in)
			assert.ErrorIs(t, err, apperr.ErrBadRequest)
		})
	}

	assert.Zero(t, f.users.Len())
	assert.Zero(t, f.vault.Len())
}

func TestSignupDuplicatesCreateNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := signupInput()
	_, err := f.svc.Signup(ctx, first)
	require.NoError(t, err)

	dupEmail := signupInput()
	dupEmail.Email = first.Email
	_, err = f.svc.Signup(ctx, dupEmail)
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "email is already in use", apperr.Message(err))

	dupUsername := signupInput()
	dupUsername.Username = first.Username
	_, err = f.svc.Signup(ctx, dupUsername)
	require.ErrorIs(t, err, apperr.ErrConflict)

	assert.Equal(t, 1, f.users.Len())
	assert.Equal(t, 1, f.vault.Len())
}

func TestSignupRollsBackUserWhenVaultFails(t *testing.T) {
	f := newFixtureWithVault(t, func(m *vault.MemoryVault) Vault {
		return &failingVault{MemoryVault: m, storeErr: errors.New("disk full")}
	})

	_, err := f.svc.Signup(context.Background(), signupInput())
	require.Error(t, err)
	assert.Equal(t, 500, apperr.Status(err))
	assert.Zero(t, f.users.Len())
	assert.Empty(t, f.events.subjects())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := signupInput()
	signed, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)

	sess, err := f.svc.Login(ctx, in.Email, in.Password)
	require.NoError(t, err)
	assert.Equal(t, signed.User.ID, sess.User.ID)
	assert.NotEqual(t, signed.RefreshToken, sess.RefreshToken)
	assert.Equal(t, 2, f.vault.Len(), "each login opens its own session")

	_, err = f.svc.Login(ctx, in.Email, "wrong-password")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	wrongPassword := apperr.Message(err)

	_, err = f.svc.Login(ctx, "nobody@example.com", in.Password)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Equal(t, wrongPassword, apperr.Message(err), "unknown email must look like a wrong password")

	_, err = f.svc.Login(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

// stalledPublisher blocks every publish until released, ignoring its context.
type stalledPublisher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *stalledPublisher) Publish(context.Context, string, any) error {
	p.calls.Add(1)
	<-p.release
	return nil
}

func TestStalledPublisherDoesNotDelayOperations(t *testing.T) {
	f := newFixture(t)
	in := signupInput()
	_, err := f.svc.Signup(context.Background(), in)
	require.NoError(t, err)

	stalled := &stalledPublisher{release: make(chan struct{})}
	t.Cleanup(func() { close(stalled.release) })

	opts := f.opts
	opts.Events = stalled
	opts.PublishTimeout = 50 * time.Millisecond
	svc, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	sess, err := svc.Login(ctx, in.Email, in.Password)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second)
	assert.EqualValues(t, 2, stalled.calls.Load())
}

func TestPublishOutlivesCancelledRequest(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	var seen error
	opts := f.opts
	opts.Events = publisherFunc(func(pctx context.Context, _ string, _ any) error {
		seen = pctx.Err()
		return nil
	})
	svc, err := New(opts)
	require.NoError(t, err)

	in := signupInput()
	_, err = svc.Signup(ctx, in)
	require.NoError(t, err)
	cancel()

	_, err = svc.Login(ctx, in.Email, in.Password)
	require.NoError(t, err)
	assert.NoError(t, seen)
}

type publisherFunc func(ctx context.Context, subject string, v any) error

func (f publisherFunc) Publish(ctx context.Context, subject string, v any) error { return f(ctx, subject, v) }

func TestLoginRejectsBannedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := signupInput()
	signed, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)
	require.NoError(t, f.users.SetStatus(signed.User.ID, users.StatusBanned))

	_, err = f.svc.Login(ctx, in.Email, in.Password)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Login(ctx, in.Email, "wrong-password")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 1, f.vault.Len())
}

func TestRefreshRejectsExpiredVaultRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	subject := sess.User.ID

	// Replace the live record with one that has already lapsed while the token
	// itself is still inside its own validity window.
	_, err = f.vault.RevokeAll(ctx, subject)
	require.NoError(t, err)
	_, err = f.vault.Store(ctx, subject, tokens.HashRefreshToken(sess.RefreshToken), f.clock.Now().Add(-time.Second))
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"garbage":      "garbage",
		"empty":        "",
		"access token": sess.AccessToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Refresh(ctx, raw)
			assert.ErrorIs(t, err, apperr.ErrUnauthorized)
		})
	}

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(31 * 24 * time.Hour)
		_, err := f.svc.Refresh(ctx, sess.RefreshToken)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})
}

func TestRefreshRejectsBannedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	require.NoError(t, f.users.SetStatus(sess.User.ID, users.StatusBanned))

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Zero(t, f.vault.Len())
}

func TestConcurrentRefreshSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	var ok, unauthorized atomic.Int32
	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, sess.RefreshToken)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrUnauthorized):
				unauthorized.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 11, unauthorized.Load())
}

func TestLogoutNeverFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	other, err := f.svc.Login(ctx, sess.User.Email, "secret123")
	require.NoError(t, err)

	f.svc.Logout(ctx, sess.RefreshToken)
	assert.Equal(t, 1, f.vault.Len(), "only the presented session ends")

	f.svc.Logout(ctx, sess.RefreshToken)
	f.svc.Logout(ctx, "garbage")
	f.svc.Logout(ctx, "")

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.Refresh(ctx, other.RefreshToken)
	assert.NoError(t, err)
}

func TestLogoutAcceptsExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	f.svc.Logout(ctx, sess.RefreshToken)
	assert.Zero(t, f.vault.Len())
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := signupInput()
	sess, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, in.Email, in.Password)
	require.NoError(t, err)

	bystander, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	assert.EqualValues(t, 2, f.svc.LogoutAll(ctx, sess.User.ID))
	assert.Zero(t, f.svc.LogoutAll(ctx, sess.User.ID))

	_, err = f.svc.Refresh(ctx, bystander.RefreshToken)
	assert.NoError(t, err)
}

func TestVerifyAccessTokenIsStateless(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	f.svc.LogoutAll(ctx, sess.User.ID)
	_, err = f.svc.VerifyAccessToken(ctx, sess.AccessToken)
	require.NoError(t, err, "access tokens outlive their refresh tokens until they expire")

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.VerifyAccessToken(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestDemotionTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	_, err = f.svc.Promote(ctx, admin.User.Email)
	require.NoError(t, err)

	require.NoError(t, f.svc.RequireRole(ctx, admin.User.ID, users.RoleAdmin))

	_, err = f.svc.ChangeRole(ctx, admin.User.ID, admin.User.ID, users.RoleUser)
	require.NoError(t, err)

	id, err := f.svc.VerifyAccessToken(ctx, admin.AccessToken)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.RequireRole(ctx, id.UserID, users.RoleAdmin), apperr.ErrForbidden)
}

func TestChangeRoleUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ChangeRole(context.Background(), uuid.New(), uuid.New(), users.RoleAdmin)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Promote(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSignupRefreshReplayScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := signupInput()
	in.Email = "a@x.com"
	in.Password = "secret123"
	in.Username = "a1"

	sess, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assert.Equal(t, 401, apperr.Status(err))

	assert.Equal(t, []string{SubjectSignedUp, SubjectRefreshed}, f.events.subjects())
}
