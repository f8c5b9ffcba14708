package config

import (
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Persona   PersonaConfig
	Profile   ProfileConfig
	Providers ProvidersConfig
	Routing   RoutingConfig
	Notify    NotifyConfig
	Storage   StorageConfig
}

type ServerConfig struct {
	Host string
	Port int
	// RateLimit is the number of chat requests allowed per client IP per minute.
	// Zero disables limiting.
	RateLimit int
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that overwrites them.
	TrustProxyHeaders bool
}

type LogConfig struct {
	Level string
}

type PersonaConfig struct {
	Name string
	Path string // optional persona template file; the embedded default is used when empty
}

type ProfileConfig struct {
	Dir            string
	BiographyFile  string
	ResumeFile     string
	S3Bucket       string
	S3Region       string
	S3BiographyKey string
	S3ResumeKey    string
}

type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     string
}

type ProvidersConfig struct {
	Primary  ProviderConfig
	Fallback ProviderConfig
}

type RoutingConfig struct {
	RestrictedCountry string
	DefaultCountry    string
	GeoURL            string
	GeoToken          string
	GeoTimeout        string
}

type NotifyConfig struct {
	ResendAPIKey string
	AlertEmail   string
	From         string
}

type StorageConfig struct {
	DataDir     string
	Transcripts bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
		Persona: PersonaConfig{
			Name: "Hernan 'Al' Mateus",
		},
		Profile: ProfileConfig{
			Dir:           "me",
			BiographyFile: "summary.txt",
			ResumeFile:    "linkedin.pdf",
		},
		Providers: ProvidersConfig{
			Primary: ProviderConfig{
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o",
				Temperature: 0.85,
				Timeout:     "30s",
			},
			Fallback: ProviderConfig{
				BaseURL:     "https://api.deepseek.com/v1",
				Model:       "deepseek-chat",
				Temperature: 0.85,
				Timeout:     "30s",
			},
		},
		Routing: RoutingConfig{
			RestrictedCountry: "cn",
			DefaultCountry:    "us",
			GeoURL:            "https://ipinfo.io",
			GeoTimeout:        "3s",
		},
		Notify: NotifyConfig{
			From: "twin@localhost",
		},
		Storage: StorageConfig{
			DataDir:     defaultDataDir(),
			Transcripts: true,
		},
	}
}

// Load reads configuration from the TOML config file, environment variables,
// and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/twin/config.toml. Environment
// variables (TWIN_*, plus the conventional names such as OPENAI_API_KEY)
// override file values. Secrets still empty after that are read from
// $XDG_DATA_HOME/twin/secrets.json.
//
// Missing provider credentials are not an error: routing degrades to the
// fallback provider. See Config.Warnings.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// keychain abstracts secret lookup for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	cfg.Routing.RestrictedCountry = strings.ToLower(strings.TrimSpace(cfg.Routing.RestrictedCountry))
	cfg.Routing.DefaultCountry = strings.ToLower(strings.TrimSpace(cfg.Routing.DefaultCountry))

	return cfg, nil
}

// Warnings reports degraded-but-valid configuration.
func (c Config) Warnings() []string {
	var out []string
	if c.Providers.Primary.APIKey == "" {
		out = append(out, "primary provider API key not set (OPENAI_API_KEY); all requests use the fallback provider")
	}
	if c.Providers.Fallback.APIKey == "" {
		out = append(out, "fallback provider API key not set (DEEPSEEK_API_KEY); requests routed to it will fail")
	}
	if c.Notify.ResendAPIKey == "" || c.Notify.AlertEmail == "" {
		out = append(out, "email notifications disabled (RESEND_API_KEY and ALERT_EMAIL required)")
	}
	return out
}

// Duration parses a duration config value, falling back to def when the value
// is empty or invalid.
func Duration(name, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in config, using default", "key", name, "value", value, "default", def)
		return def
	}
	return d
}
