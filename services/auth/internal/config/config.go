package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"outsy/services/auth/internal/apperr"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds runtime configuration for the auth API service.
type Config struct {
	Env       string `env:"ENV,default=development" yaml:"env"`
	Addr      string `env:"ADDR,default=:8080" yaml:"addr"`
	LogLevel  string `env:"LOG_LEVEL,default=info" yaml:"log_level"`
	LogFormat string `env:"LOG_FORMAT" yaml:"log_format"`

	StorageDriver string `env:"STORAGE_DRIVER,default=postgres" yaml:"storage_driver"`
	DBDSN         Secret `env:"DB_DSN" yaml:"db_dsn"`

	JWTAccessSecret  Secret   `env:"JWT_ACCESS_SECRET,required" yaml:"jwt_access_secret"`
	JWTRefreshSecret Secret   `env:"JWT_REFRESH_SECRET,required" yaml:"jwt_refresh_secret"`
	AccessTokenTTL   Duration `env:"ACCESS_TOKEN_EXPIRATION,default=15m" yaml:"access_token_expiration"`
	RefreshTokenTTL  Duration `env:"REFRESH_TOKEN_EXPIRATION,default=30d" yaml:"refresh_token_expiration"`
	SweepInterval    Duration `env:"REFRESH_TOKEN_SWEEP_INTERVAL,default=1h" yaml:"refresh_token_sweep_interval"`
	BcryptCost       int      `env:"BCRYPT_COST,default=10" yaml:"bcrypt_cost"`

	NATSURL        string   `env:"NATS_URL" yaml:"nats_url"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otlp_endpoint"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173" yaml:"cors_allowed_origins"`
	AuthRateLimit  int      `env:"AUTH_RATE_LIMIT,default=20" yaml:"auth_rate_limit"`
	AdminEmail     string   `env:"ADMIN_EMAIL" yaml:"admin_email"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom populates a Config from the given lookuper and validates it.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, apperr.Configuration("load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, apperr.Configuration("invalid configuration", err)
	}
	return cfg, nil
}

// Production reports whether the service runs with production error redaction.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// JSONLogs reports whether logs are written as JSON lines. LOG_FORMAT wins;
// otherwise production logs JSON and everything else uses the console writer.
func (c Config) JSONLogs() bool {
	switch strings.ToLower(c.LogFormat) {
	case "json":
		return true
	case "console":
		return false
	default:
		return c.Production()
	}
}

// YAML renders the configuration with secrets redacted.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks cross-field constraints envconfig cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(string(c.JWTAccessSecret)) == "" {
		return errors.New("JWT_ACCESS_SECRET must not be blank")
	}
	if strings.TrimSpace(string(c.JWTRefreshSecret)) == "" {
		return errors.New("JWT_REFRESH_SECRET must not be blank")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_EXPIRATION must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return errors.New("REFRESH_TOKEN_EXPIRATION must be positive")
	}
	if c.SweepInterval < 0 {
		return errors.New("REFRESH_TOKEN_SWEEP_INTERVAL must not be negative")
	}

	switch c.StorageDriver {
	case DriverPostgres:
		if c.DBDSN == "" {
			return errors.New("DB_DSN is required for the postgres storage driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.AuthRateLimit <= 0 {
		return errors.New("AUTH_RATE_LIMIT must be positive")
	}
	return nil
}
