package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for mesa-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Control-plane database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Tenant datasource connection management
	Datasource DatasourceConfig `yaml:"datasource"`

	// Generator (LLM) configuration
	Generator GeneratorConfig `yaml:"generator"`

	// Query execution limits
	Execution ExecutionConfig `yaml:"execution"`

	// Session behavior
	Session SessionConfig `yaml:"session"`

	// Optional path to a YAML business-rules catalog overriding the built-in
	// restaurant semantics.
	SemanticsPath string `yaml:"semantics_path" env:"SEMANTICS_PATH" env-default:""`

	// Credential encryption key for tenant DSNs. Must be a 32-byte key,
	// base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	TenantCredentialsKey string `yaml:"-" env:"TENANT_CREDENTIALS_KEY"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// TokenSecret signs locally issued HS256 bearer tokens.
	TokenSecret string `yaml:"-" env:"AUTH_TOKEN_SECRET"` // Secret - not in YAML

	// SessionSecret signs the browser session cookie. Falls back to
	// TokenSecret when unset.
	SessionSecret string `yaml:"-" env:"AUTH_SESSION_SECRET"` // Secret - not in YAML

	// Issuer is the iss claim stamped on locally issued tokens.
	Issuer string `yaml:"issuer" env:"AUTH_ISSUER" env-default:"mesa-engine"`

	// TokenTTLHours bounds the lifetime of issued tokens.
	TokenTTLHours int `yaml:"token_ttl_hours" env:"AUTH_TOKEN_TTL_HOURS" env-default:"24"`

	// BaseURL is the public URL the API is served from. Session cookie
	// security and scoping derive from it.
	BaseURL string `yaml:"base_url" env:"AUTH_BASE_URL" env-default:"http://localhost:8080"`

	// CookieDomain optionally widens the session cookie beyond the
	// BaseURL host, e.g. ".example.com" for subdomain sharing.
	CookieDomain string `yaml:"cookie_domain" env:"AUTH_COOKIE_DOMAIN" env-default:""`

	// EnableJWKS controls whether externally issued tokens are verified
	// against the configured JWKS endpoints in addition to the local secret.
	EnableJWKS bool `yaml:"enable_jwks" env:"AUTH_ENABLE_JWKS" env-default:"false"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"AUTH_JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds control-plane PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"mesa"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"mesa_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// DatasourceConfig holds tenant datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle tenant connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the maximum number of connections per tenant pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per tenant pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
	// SchemaCacheTTLMinutes bounds how long introspected tenant metadata is reused.
	SchemaCacheTTLMinutes int `yaml:"schema_cache_ttl_minutes" env:"DATASOURCE_SCHEMA_CACHE_TTL_MINUTES" env-default:"15"`
	// AllowedSchemas restricts introspection to these database schemas.
	AllowedSchemas string `yaml:"allowed_schemas" env:"DATASOURCE_ALLOWED_SCHEMAS" env-default:"public"`
}

// GeneratorConfig holds settings for the external text-completion generator.
type GeneratorConfig struct {
	// Provider selects the client: "openai", "anthropic", or "none" for the
	// deterministic fallback planner only.
	Provider string `yaml:"provider" env:"GENERATOR_PROVIDER" env-default:"openai"`
	Model    string `yaml:"model" env:"GENERATOR_MODEL" env-default:"gpt-4o-mini"`
	BaseURL  string `yaml:"base_url" env:"GENERATOR_BASE_URL" env-default:""`
	APIKey   string `yaml:"-" env:"GENERATOR_API_KEY"` // Secret - not in YAML

	// TimeoutSeconds bounds one generator call.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"GENERATOR_TIMEOUT_SECONDS" env-default:"30"`

	// MaxRetries bounds planner retries after unusable generator output.
	MaxRetries int `yaml:"max_retries" env:"GENERATOR_MAX_RETRIES" env-default:"1"`
}

// ExecutionConfig holds query execution limits.
type ExecutionConfig struct {
	// StatementTimeoutMS bounds ordinary statements.
	StatementTimeoutMS int `yaml:"statement_timeout_ms" env:"STATEMENT_TIMEOUT_MS" env-default:"8000"`
	// AskStatementTimeoutMS bounds statements on the ask path, which may
	// aggregate over long ranges.
	AskStatementTimeoutMS int `yaml:"ask_statement_timeout_ms" env:"STATEMENT_TIMEOUT_MS_ASK" env-default:"30000"`
	// PreviewLimit is the row limit wrapped around unlimited queries.
	PreviewLimit int `yaml:"preview_limit" env:"DEFAULT_PREVIEW_LIMIT" env-default:"200"`
	// MaxReturnedRows caps any result set regardless of the query's own limit.
	MaxReturnedRows int `yaml:"max_returned_rows" env:"MAX_RETURNED_ROWS" env-default:"5000"`
	// MaxRetries bounds retries of transient execution failures.
	MaxRetries int `yaml:"max_retries" env:"EXECUTION_MAX_RETRIES" env-default:"2"`
}

// SessionConfig holds session store behavior.
type SessionConfig struct {
	// InactivityTTLHours evicts sessions idle longer than this.
	InactivityTTLHours int `yaml:"inactivity_ttl_hours" env:"SESSION_INACTIVITY_TTL_HOURS" env-default:"720"`
	// DefaultLanguage is the display language for new sessions.
	DefaultLanguage string `yaml:"default_language" env:"SESSION_DEFAULT_LANGUAGE" env-default:"en"`
	// DefaultTenant optionally pre-selects a tenant by name on login.
	DefaultTenant string `yaml:"default_tenant" env:"SESSION_DEFAULT_TENANT" env-default:""`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Secrets (PGPASSWORD, TENANT_CREDENTIALS_KEY,
// AUTH_TOKEN_SECRET, AUTH_SESSION_SECRET, GENERATOR_API_KEY) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Generator.Provider {
	case "openai", "anthropic", "none":
	default:
		return fmt.Errorf("unknown generator provider %q", c.Generator.Provider)
	}
	if c.Execution.StatementTimeoutMS <= 0 || c.Execution.AskStatementTimeoutMS <= 0 {
		return fmt.Errorf("statement timeouts must be positive")
	}
	if c.Session.DefaultLanguage != "en" && c.Session.DefaultLanguage != "es" {
		return fmt.Errorf("unsupported default language %q", c.Session.DefaultLanguage)
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.Split(pair, "=")
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string for the control store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// StatementTimeout returns the base statement timeout as a duration.
func (c *ExecutionConfig) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutMS) * time.Millisecond
}

// AskStatementTimeout returns the ask-path statement timeout as a duration.
func (c *ExecutionConfig) AskStatementTimeout() time.Duration {
	return time.Duration(c.AskStatementTimeoutMS) * time.Millisecond
}

// GeneratorTimeout returns the generator call timeout as a duration.
func (c *GeneratorConfig) GeneratorTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnectionTTL returns the idle tenant-connection lifetime as a duration.
func (c *DatasourceConfig) ConnectionTTL() time.Duration {
	return time.Duration(c.ConnectionTTLMinutes) * time.Minute
}

// SchemaCacheTTL returns the introspected-metadata cache lifetime as a duration.
func (c *DatasourceConfig) SchemaCacheTTL() time.Duration {
	return time.Duration(c.SchemaCacheTTLMinutes) * time.Minute
}

// SchemaList returns AllowedSchemas split into individual schema names.
func (c *DatasourceConfig) SchemaList() []string {
	var schemas []string
	for _, s := range strings.Split(c.AllowedSchemas, ",") {
		if s = strings.TrimSpace(s); s != "" {
			schemas = append(schemas, s)
		}
	}
	return schemas
}

// SessionTTL returns the inactivity eviction window as a duration.
func (c *SessionConfig) SessionTTL() time.Duration {
	return time.Duration(c.InactivityTTLHours) * time.Hour
}

// TokenTTL returns the issued-token lifetime as a duration.
func (c *AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// CookieSecret returns the secret that signs browser session cookies.
func (c *AuthConfig) CookieSecret() string {
	if c.SessionSecret != "" {
		return c.SessionSecret
	}
	return c.TokenSecret
}
