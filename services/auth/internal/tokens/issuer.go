// Package tokens mints and verifies the signed access and refresh tokens.
//
// Access tokens carry {userId, email} and are never persisted. Refresh tokens
// carry {userId} plus a random token id; the raw value is handed to the client
// once and only its SHA-256 digest is stored.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"outsy/services/auth/internal/apperr"
)

const defaultIssuer = "outsy-auth"

// ErrInvalidToken is wrapped around every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Config configures an Issuer.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Now           func() time.Time
}

// Issuer signs tokens with HS256. It holds no state beyond its configuration.
type Issuer struct {
	cfg Config
}

// Subject identifies whom a token is minted for.
type Subject struct {
	ID    uuid.UUID
	Email string
}

// Identity is what a verified access token proves.
type Identity struct {
	UserID uuid.UUID `json:"userId"`
	Email  string    `json:"email"`
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// NewIssuer validates cfg. Missing secrets are a configuration error so the
// process fails at start instead of minting unverifiable tokens.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, apperr.Configuration("access token secret is not set", nil)
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, apperr.Configuration("refresh token secret is not set", nil)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, apperr.Configuration("token TTLs must be positive", nil)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{cfg: cfg}, nil
}

// RefreshTTL is the lifetime given to new refresh tokens.
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

func (i *Issuer) registered(userID uuid.UUID, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := i.cfg.Now()
	exp := now.Add(ttl)
	return jwt.RegisteredClaims{
		Issuer:    i.cfg.Issuer,
		Subject:   userID.String(),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}, exp
}

// MintAccessToken signs {userId, email} with the access secret.
func (i *Issuer) MintAccessToken(sub Subject) (string, time.Time, error) {
	reg, exp := i.registered(sub.ID, i.cfg.AccessTTL)
	claims := AccessClaims{
		UserID:           sub.ID.String(),
		Email:            sub.Email,
		RegisteredClaims: reg,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("tokens.MintAccessToken: %w", err)
	}
	return signed, exp, nil
}

// MintRefreshToken signs {userId} with the refresh secret. The returned raw
// token must not be stored; persist HashRefreshToken(raw) instead.
func (i *Issuer) MintRefreshToken(userID uuid.UUID) (string, time.Time, error) {
	reg, exp := i.registered(userID, i.cfg.RefreshTTL)
	claims := RefreshClaims{
		UserID:           userID.String(),
		RegisteredClaims: reg,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.RefreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("tokens.MintRefreshToken: %w", err)
	}
	return signed, exp, nil
}

func (i *Issuer) parserOptions() []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.cfg.Now),
	}
}

// VerifyAccessToken checks signature and expiry without consulting any store.
func (i *Issuer) VerifyAccessToken(token string) (Identity, error) {
	var claims AccessClaims
	if _, err := jwt.ParseWithClaims(token, &claims, keyFunc(i.cfg.AccessSecret), i.parserOptions()...); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w: bad user id", ErrInvalidToken, jwt.ErrTokenMalformed)
	}
	return Identity{UserID: id, Email: claims.Email}, nil
}

// VerifyRefreshToken checks the refresh token's own signature and expiry and
// returns its subject.
func (i *Issuer) VerifyRefreshToken(raw string) (uuid.UUID, error) {
	return i.refreshSubject(raw, i.parserOptions()...)
}

// RefreshSubject returns the subject of a correctly signed refresh token even
// if it has expired. Logout uses it to find the row to revoke.
func (i *Issuer) RefreshSubject(raw string) (uuid.UUID, error) {
	return i.refreshSubject(raw,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
}

func (i *Issuer) refreshSubject(raw string, opts ...jwt.ParserOption) (uuid.UUID, error) {
	var claims RefreshClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, keyFunc(i.cfg.RefreshSecret), opts...); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w: bad user id", ErrInvalidToken, jwt.ErrTokenMalformed)
	}
	return id, nil
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(*jwt.Token) (any, error) {
		return secret, nil
	}
}

// Reason classifies a verification failure for server-side logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signature"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "not_yet_valid"
	default:
		return "invalid"
	}
}
