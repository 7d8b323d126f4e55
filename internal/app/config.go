package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Backends of the document store.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// Identity verification modes.
const (
	AuthDev      = "dev"
	AuthFirebase = "firebase"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Backend     string `default:"memory" usage:"Document store backend: memory, firestore or postgres"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Firestore   FirestoreConfig
	Auth        AuthConfig
	Cart        CartConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// FirestoreConfig selects the Firestore project.
type FirestoreConfig struct {
	ProjectID       string `usage:"Firebase/GCP project id" flag:"firestore-project"`
	CredentialsFile string `usage:"Service account JSON; empty uses application default credentials" flag:"firestore-credentials"`
	MaxAttempts     int    `default:"5" usage:"Transaction attempts on contention"`
}

// AuthConfig controls shopper sign-in and admin API keys.
type AuthConfig struct {
	Mode           string `default:"dev" usage:"ID token verification: dev or firebase"`
	AdminKeyPepper string `usage:"HMAC pepper for admin API key hashing (KART_AUTH_ADMIN_KEY_PEPPER)" flag:"admin-key-pepper"`
}

// CartConfig tunes cart persistence and stock holds.
type CartConfig struct {
	FlushDelay time.Duration `default:"500ms" usage:"Debounce delay of cart writes"`
	HoldTTL    time.Duration `default:"15m" usage:"Advisory hold recorded on reserved cart lines"`
}

// SessionConfig controls shopper session expiry.
type SessionConfig struct {
	IdleTTL       time.Duration `default:"30m" usage:"Idle time before a session is evicted"`
	SweepInterval time.Duration `default:"1m" usage:"Interval of the idle session sweep"`
}

// RateLimitConfig controls the per-session sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option combinations.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres backend: set KART_DATABASE_URL or DATABASE_URL")
		}
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return errors.New("firestore project id is required: set KART_FIRESTORE_PROJECT_ID")
		}
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}

	switch c.Auth.Mode {
	case AuthDev:
	case AuthFirebase:
		if c.Firestore.ProjectID == "" {
			return errors.New("firebase auth needs the project id: set KART_FIRESTORE_PROJECT_ID")
		}
	default:
		return errors.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	if c.Cart.FlushDelay <= 0 {
		return errors.New("cart flush delay must be positive")
	}
	if c.Session.IdleTTL <= 0 || c.Session.SweepInterval <= 0 {
		return errors.New("session idle ttl and sweep interval must be positive")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
