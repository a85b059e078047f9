// Package session implements signup, login, refresh-token rotation, logout
// and access-token verification on top of the credential store, the token
// issuer and the refresh-token vault.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"outsy/services/auth/internal/apperr"
	"outsy/services/auth/internal/password"
	"outsy/services/auth/internal/tokens"
	"outsy/services/auth/internal/users"
	"outsy/services/auth/internal/vault"
)

const (
	tracerName            = "outsy/services/auth/internal/session"
	defaultPublishTimeout = 250 * time.Millisecond
)

// CredentialStore is the subset of the user store the service needs.
type CredentialStore interface {
	Create(ctx context.Context, p users.CreateParams) (users.User, error)
	ByEmail(ctx context.Context, email string) (users.User, error)
	ByID(ctx context.Context, id uuid.UUID) (users.User, error)
	SetRole(ctx context.Context, id uuid.UUID, role users.Role) (users.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Ping(ctx context.Context) error
}

// Vault persists hashed refresh tokens.
type Vault interface {
	Store(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (vault.Record, error)
	FindActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]vault.Record, error)
	Consume(ctx context.Context, id uuid.UUID, tokenHash string, now time.Time) (vault.Record, error)
	Revoke(ctx context.Context, userID uuid.UUID, tokenHash string) (int64, error)
	RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error)
	Ping(ctx context.Context) error
}

// Publisher delivers auth events. The NATS bus implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Options wires a Service. Events may be nil.
type Options struct {
	Users  CredentialStore
	Vault  Vault
	Issuer *tokens.Issuer
	Hasher *password.Hasher
	Events Publisher
	// PublishTimeout caps how long an operation waits on Events.
	PublishTimeout time.Duration
	Logger         zerolog.Logger
	Now            func() time.Time
}

// Service runs the session state machine. It keeps no per-session state of
// its own; the vault is the only authority on which refresh tokens are live.
type Service struct {
	users  CredentialStore
	vault  Vault
	issuer *tokens.Issuer
	hasher *password.Hasher
	events Publisher
	pubTTL time.Duration
	log    zerolog.Logger
	now    func() time.Time
	tracer trace.Tracer
}

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session is what signup and login hand back to the client.
type Session struct {
	User users.User `json:"user"`
	Pair
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Users == nil:
		return nil, errors.New("session: credential store is required")
	case opts.Vault == nil:
		return nil, errors.New("session: vault is required")
	case opts.Issuer == nil:
		return nil, errors.New("session: token issuer is required")
	case opts.Hasher == nil:
		return nil, errors.New("session: password hasher is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	return &Service{
		users:  opts.Users,
		vault:  opts.Vault,
		issuer: opts.Issuer,
		hasher: opts.Hasher,
		events: opts.Events,
		pubTTL: opts.PublishTimeout,
		log:    opts.Logger.With().Str("component", "session").Logger(),
		now:    opts.Now,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Signup creates the account and opens its first session. A duplicate email,
// username or Instagram URL fails Conflict before anything is written.
func (s *Service) Signup(ctx context.Context, in SignupInput) (sess Session, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Signup")
	defer func() { endSpan(span, err) }()

	if err := in.Validate(s.now()); err != nil {
		return Session{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, password.ErrTooLong) {
		return Session{}, apperr.BadRequest(err.Error())
	}
	if err != nil {
		return Session{}, fmt.Errorf("session.Signup: %w", err)
	}

	user, err := s.users.Create(ctx, in.params(hash))
	if err != nil {
		var dup *users.DuplicateError
		if errors.As(err, &dup) {
			if dup.Field == "" {
				return Session{}, apperr.Conflict("user already exists", err)
			}
			return Session{}, apperr.Conflict(dup.Field+" is already in use", err)
		}
		return Session{}, fmt.Errorf("session.Signup: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	pair, err := s.issue(ctx, user)
	if err != nil {
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.logger(ctx).Error().Err(delErr).Str("user_id", user.ID.String()).Msg("roll back signup")
		}
		return Session{}, fmt.Errorf("session.Signup: %w", err)
	}

	s.publish(ctx, Event{Subject: SubjectSignedUp, UserID: user.ID, Email: user.Email})
	return Session{User: user, Pair: pair}, nil
}

// Login opens a new session. An unknown email and a wrong password produce
// the same error and take about the same time.
func (s *Service) Login(ctx context.Context, email, plain string) (sess Session, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Login")
	defer func() { endSpan(span, err) }()

	if email == "" || plain == "" {
		return Session{}, apperr.BadRequest("email and password are required")
	}

	user, err := s.users.ByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		s.hasher.VerifyDummy(plain)
		s.logger(ctx).Info().Str("reason", "unknown_email").Msg("login rejected")
		return Session{}, apperr.Unauthorized("invalid email or password", nil)
	}
	if err != nil {
		return Session{}, fmt.Errorf("session.Login: %w", err)
	}

	if !s.hasher.Verify(user.PasswordHash, plain) {
		s.logger(ctx).Info().Str("reason", "bad_password").Str("user_id", user.ID.String()).Msg("login rejected")
		return Session{}, apperr.Unauthorized("invalid email or password", nil)
	}

	switch user.Status {
	case users.StatusBanned:
		return Session{}, apperr.Forbidden("account is banned")
	case users.StatusInactive:
		return Session{}, apperr.Forbidden("account is inactive")
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		return Session{}, fmt.Errorf("session.Login: %w", err)
	}

	s.publish(ctx, Event{Subject: SubjectLoggedIn, UserID: user.ID, Email: user.Email})
	return Session{User: user, Pair: pair}, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is consumed in the same step that proves it live, so it can succeed once.
func (s *Service) Refresh(ctx context.Context, raw string) (pair Pair, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Refresh")
	defer func() { endSpan(span, err) }()

	userID, err := s.issuer.VerifyRefreshToken(raw)
	if err != nil {
		return Pair{}, s.rejectRefresh(ctx, tokens.Reason(err), uuid.Nil, err)
	}

	now := s.now()
	hash := tokens.HashRefreshToken(raw)

	records, err := s.vault.FindActive(ctx, userID, now)
	if err != nil {
		return Pair{}, fmt.Errorf("session.Refresh: %w", err)
	}
	var match *vault.Record
	for i := range records {
		if tokens.EqualHash(records[i].TokenHash, hash) {
			match = &records[i]
			break
		}
	}
	if match == nil {
		return Pair{}, s.rejectRefresh(ctx, "reused", userID, nil)
	}

	if _, err := s.vault.Consume(ctx, match.ID, hash, now); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return Pair{}, s.rejectRefresh(ctx, "reused", userID, nil)
		}
		return Pair{}, fmt.Errorf("session.Refresh: %w", err)
	}

	user, err := s.users.ByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return Pair{}, s.rejectRefresh(ctx, "unknown_user", userID, nil)
	}
	if err != nil {
		return Pair{}, fmt.Errorf("session.Refresh: %w", err)
	}
	if user.Status != users.StatusActive {
		return Pair{}, s.rejectRefresh(ctx, "account_"+string(user.Status), userID, nil)
	}

	pair, err = s.issue(ctx, user)
	if err != nil {
		return Pair{}, fmt.Errorf("session.Refresh: %w", err)
	}

	s.publish(ctx, Event{Subject: SubjectRefreshed, UserID: user.ID})
	return pair, nil
}

func (s *Service) rejectRefresh(ctx context.Context, reason string, userID uuid.UUID, cause error) error {
	ev := s.logger(ctx).Warn().Str("reason", reason)
	if userID != uuid.Nil {
		ev = ev.Str("user_id", userID.String())
	}
	ev.Err(cause).Msg("refresh rejected")
	return apperr.Unauthorized("invalid or expired refresh token", cause)
}

// Logout revokes the vault record matching raw. It never fails: garbage,
// expired or already revoked tokens are accepted silently.
func (s *Service) Logout(ctx context.Context, raw string) {
	ctx, span := s.tracer.Start(ctx, "session.Logout")
	defer span.End()

	userID, err := s.issuer.RefreshSubject(raw)
	if err != nil {
		s.logger(ctx).Debug().Str("reason", tokens.Reason(err)).Msg("logout with unusable token")
		return
	}

	n, err := s.vault.Revoke(ctx, userID, tokens.HashRefreshToken(raw))
	if err != nil {
		span.RecordError(err)
		s.logger(ctx).Error().Err(err).Str("user_id", userID.String()).Msg("revoke refresh token")
		return
	}
	if n > 0 {
		s.publish(ctx, Event{Subject: SubjectLoggedOut, UserID: userID, Revoked: n})
	}
}

// LogoutAll revokes every refresh token of the user. Like Logout it absorbs
// failures and reports how many records it removed.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) int64 {
	ctx, span := s.tracer.Start(ctx, "session.LogoutAll")
	defer span.End()

	n, err := s.vault.RevokeAll(ctx, userID)
	if err != nil {
		span.RecordError(err)
		s.logger(ctx).Error().Err(err).Str("user_id", userID.String()).Msg("revoke all refresh tokens")
		return 0
	}
	s.publish(ctx, Event{Subject: SubjectLoggedOut, UserID: userID, ActorID: &userID, Revoked: n})
	return n
}

// VerifyAccessToken is stateless: it checks signature and expiry only.
func (s *Service) VerifyAccessToken(ctx context.Context, token string) (tokens.Identity, error) {
	id, err := s.issuer.VerifyAccessToken(token)
	if err != nil {
		s.logger(ctx).Warn().Str("reason", tokens.Reason(err)).Err(err).Msg("access token rejected")
		return tokens.Identity{}, apperr.Unauthorized("invalid or expired access token", err)
	}
	return id, nil
}

// RequireRole re-reads the caller's role from the store, so a demotion
// applies to the next request even while the caller's access token is live.
func (s *Service) RequireRole(ctx context.Context, userID uuid.UUID, role users.Role) error {
	user, err := s.users.ByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return apperr.Unauthorized("account no longer exists", err)
	}
	if err != nil {
		return fmt.Errorf("session.RequireRole: %w", err)
	}
	if user.Status != users.StatusActive {
		return apperr.Forbidden("account is not active")
	}
	if user.Role != role {
		return apperr.Forbidden("insufficient role")
	}
	return nil
}

// ChangeRole sets the role of target on behalf of actor.
func (s *Service) ChangeRole(ctx context.Context, actor, target uuid.UUID, role users.Role) (user users.User, err error) {
	ctx, span := s.tracer.Start(ctx, "session.ChangeRole", trace.WithAttributes(
		attribute.String("target.id", target.String()),
		attribute.String("role", string(role)),
	))
	defer func() { endSpan(span, err) }()

	user, err = s.users.SetRole(ctx, target, role)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return users.User{}, fmt.Errorf("session.ChangeRole: %w", err)
	}

	s.publish(ctx, Event{Subject: SubjectRoleChanged, UserID: target, ActorID: &actor, Role: string(role)})
	return user, nil
}

// Promote makes the account with the given email an ADMIN.
func (s *Service) Promote(ctx context.Context, email string) (users.User, error) {
	user, err := s.users.ByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, apperr.NotFound("no user with email " + users.NormalizeEmail(email))
	}
	if err != nil {
		return users.User{}, fmt.Errorf("session.Promote: %w", err)
	}
	if user.Role == users.RoleAdmin {
		return user, nil
	}
	return s.ChangeRole(ctx, user.ID, user.ID, users.RoleAdmin)
}

// Ready pings both stores.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.users.Ping(ctx); err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	if err := s.vault.Ping(ctx); err != nil {
		return fmt.Errorf("refresh token vault: %w", err)
	}
	return nil
}

func (s *Service) issue(ctx context.Context, user users.User) (Pair, error) {
	access, _, err := s.issuer.MintAccessToken(tokens.Subject{ID: user.ID, Email: user.Email})
	if err != nil {
		return Pair{}, err
	}
	refresh, expiresAt, err := s.issuer.MintRefreshToken(user.ID)
	if err != nil {
		return Pair{}, err
	}
	if _, err := s.vault.Store(ctx, user.ID, tokens.HashRefreshToken(refresh), expiresAt); err != nil {
		return Pair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	ev.At = s.now().UTC()

	// The operation never waits on the bus longer than pubTTL.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pubTTL)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.events.Publish(pctx, ev.Subject, ev) }()

	var err error
	select {
	case err = <-done:
	case <-pctx.Done():
		err = pctx.Err()
	}
	if err != nil {
		s.logger(ctx).Warn().Err(err).Str("subject", ev.Subject).Msg("publish auth event")
	}
}

// logger prefers the request-scoped logger installed by hlog.
func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
