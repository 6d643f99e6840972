package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Google   GoogleConfig  `yaml:"google"`
	Mongo    MongoConfig   `yaml:"mongo"`
	Sessions SessionConfig `yaml:"sessions"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	StaticDir       string    `yaml:"static_dir"`
	SecretsPath     string    `yaml:"secrets_path"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains []string `yaml:"domains"`
	Email   string   `yaml:"email"`
}

// GoogleConfig holds the OAuth client registration with the identity
// provider. Issuer is overridable so tests can point at a local provider.
type GoogleConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// MongoConfig selects the durable document store. An empty URI in dev mode
// falls back to the in-memory store.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// SessionConfig tunes the session store and its cache.
type SessionConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	CacheSize        int           `yaml:"cache_size"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	LastSeenInterval time.Duration `yaml:"last_seen_interval"`
	AttemptTTL       time.Duration `yaml:"attempt_ttl"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			StaticDir:       "static",
			SecretsPath:     ".secrets",
		},
		Google: GoogleConfig{
			Issuer: "https://accounts.google.com",
		},
		Mongo: MongoConfig{
			Database: "taskd",
		},
		Sessions: SessionConfig{
			TTL:              DefaultSessionTTL,
			CacheSize:        DefaultCacheSize,
			CacheTTL:         DefaultCacheTTL,
			LastSeenInterval: DefaultLastSeenInterval,
			AttemptTTL:       DefaultAttemptTTL,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"TASKD_PUBLIC_URL":           func(v string) { cfg.Server.PublicURL = v },
		"TASKD_DEV_LISTEN_ADDR":      func(v string) { cfg.Server.DevListenAddr = v },
		"TASKD_HTTP_LISTEN_ADDR":     func(v string) { cfg.Server.HTTPListenAddr = v },
		"TASKD_HTTPS_LISTEN_ADDR":    func(v string) { cfg.Server.HTTPSListenAddr = v },
		"TASKD_DEV_MODE":             func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"TASKD_COOKIE_DOMAIN":        func(v string) { cfg.Server.CookieDomain = v },
		"TASKD_STATIC_DIR":           func(v string) { cfg.Server.StaticDir = v },
		"TASKD_TLS_DOMAINS":          func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"TASKD_TLS_EMAIL":            func(v string) { cfg.Server.TLS.Email = v },
		"TASKD_GOOGLE_ISSUER":        func(v string) { cfg.Google.Issuer = v },
		"TASKD_GOOGLE_CLIENT_ID":     func(v string) { cfg.Google.ClientID = v },
		"TASKD_GOOGLE_CLIENT_SECRET": func(v string) { cfg.Google.ClientSecret = v },
		"TASKD_MONGO_URI":            func(v string) { cfg.Mongo.URI = v },
		"TASKD_MONGO_DATABASE":       func(v string) { cfg.Mongo.Database = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if c.Google.Issuer == "" {
		return errors.New("google.issuer is required")
	}
	if c.Google.ClientID == "" {
		return errors.New("google.client_id is required")
	}

	if !c.Server.DevMode {
		if len(c.Server.TLS.Domains) == 0 {
			return errors.New("server.tls.domains must be provided in production")
		}
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri is required in production")
		}
	}

	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		return errors.New("mongo.database is required when mongo.uri is set")
	}

	return nil
}

// CallbackURL is the registered OAuth redirect target.
func (c Config) CallbackURL() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/api/auth/google/callback"
}
