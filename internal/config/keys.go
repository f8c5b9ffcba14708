package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // conventional env names honoured after env
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "TWIN_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "TWIN_SERVER_PORT", aliases: []string{"PORT"},
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit", typ: kInt, env: "TWIN_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "server.trust_proxy_headers", typ: kBool, env: "TWIN_SERVER_TRUST_PROXY_HEADERS",
		apply:   func(cfg *Config, v any) { cfg.Server.TrustProxyHeaders = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.TrustProxyHeaders },
	},
	{
		key: "log.level", typ: kString, env: "TWIN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "persona.name", typ: kString, env: "TWIN_PERSONA_NAME",
		apply:   func(cfg *Config, v any) { cfg.Persona.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Persona.Name },
	},
	{
		key: "persona.path", typ: kString, env: "TWIN_PERSONA_PATH",
		apply:   func(cfg *Config, v any) { cfg.Persona.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Persona.Path },
	},
	{
		key: "profile.dir", typ: kString, env: "TWIN_PROFILE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Profile.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.Dir },
	},
	{
		key: "profile.biography_file", typ: kString, env: "TWIN_PROFILE_BIOGRAPHY_FILE",
		apply:   func(cfg *Config, v any) { cfg.Profile.BiographyFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.BiographyFile },
	},
	{
		key: "profile.resume_file", typ: kString, env: "TWIN_PROFILE_RESUME_FILE",
		apply:   func(cfg *Config, v any) { cfg.Profile.ResumeFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.ResumeFile },
	},
	{
		key: "profile.s3_bucket", typ: kString, env: "TWIN_PROFILE_S3_BUCKET", aliases: []string{"S3_BUCKET"},
		apply:   func(cfg *Config, v any) { cfg.Profile.S3Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.S3Bucket },
	},
	{
		key: "profile.s3_region", typ: kString, env: "TWIN_PROFILE_S3_REGION", aliases: []string{"AWS_REGION"},
		apply:   func(cfg *Config, v any) { cfg.Profile.S3Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.S3Region },
	},
	{
		key: "profile.s3_biography_key", typ: kString, env: "TWIN_PROFILE_S3_BIOGRAPHY_KEY", aliases: []string{"SUMMARY_KEY"},
		apply:   func(cfg *Config, v any) { cfg.Profile.S3BiographyKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.S3BiographyKey },
	},
	{
		key: "profile.s3_resume_key", typ: kString, env: "TWIN_PROFILE_S3_RESUME_KEY", aliases: []string{"LINKEDIN_KEY"},
		apply:   func(cfg *Config, v any) { cfg.Profile.S3ResumeKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.S3ResumeKey },
	},
	{
		key: "providers.primary.api_key", typ: kString, env: "TWIN_OPENAI_API_KEY", aliases: []string{"OPENAI_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.Primary.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Primary.APIKey },
	},
	{
		key: "providers.primary.base_url", typ: kString, env: "TWIN_PRIMARY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.Primary.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Primary.BaseURL },
	},
	{
		key: "providers.primary.model", typ: kString, env: "TWIN_PRIMARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.Primary.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Primary.Model },
	},
	{
		key: "providers.primary.temperature", typ: kFloat, env: "TWIN_PRIMARY_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Providers.Primary.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Providers.Primary.Temperature },
	},
	{
		key: "providers.primary.timeout", typ: kString, env: "TWIN_PRIMARY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Providers.Primary.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Primary.Timeout },
	},
	{
		key: "providers.fallback.api_key", typ: kString, env: "TWIN_DEEPSEEK_API_KEY", aliases: []string{"DEEPSEEK_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.Fallback.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Fallback.APIKey },
	},
	{
		key: "providers.fallback.base_url", typ: kString, env: "TWIN_FALLBACK_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.Fallback.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Fallback.BaseURL },
	},
	{
		key: "providers.fallback.model", typ: kString, env: "TWIN_FALLBACK_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.Fallback.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Fallback.Model },
	},
	{
		key: "providers.fallback.temperature", typ: kFloat, env: "TWIN_FALLBACK_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Providers.Fallback.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Providers.Fallback.Temperature },
	},
	{
		key: "providers.fallback.timeout", typ: kString, env: "TWIN_FALLBACK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Providers.Fallback.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Fallback.Timeout },
	},
	{
		key: "routing.restricted_country", typ: kString, env: "TWIN_RESTRICTED_COUNTRY",
		apply:   func(cfg *Config, v any) { cfg.Routing.RestrictedCountry = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.RestrictedCountry },
	},
	{
		key: "routing.default_country", typ: kString, env: "TWIN_DEFAULT_COUNTRY",
		apply:   func(cfg *Config, v any) { cfg.Routing.DefaultCountry = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.DefaultCountry },
	},
	{
		key: "routing.geo_url", typ: kString, env: "TWIN_GEO_URL",
		apply:   func(cfg *Config, v any) { cfg.Routing.GeoURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.GeoURL },
	},
	{
		key: "routing.geo_token", typ: kString, env: "TWIN_GEO_TOKEN", aliases: []string{"IPINFO_TOKEN"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Routing.GeoToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.GeoToken },
	},
	{
		key: "routing.geo_timeout", typ: kString, env: "TWIN_GEO_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Routing.GeoTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.GeoTimeout },
	},
	{
		key: "notify.resend_api_key", typ: kString, env: "TWIN_RESEND_API_KEY", aliases: []string{"RESEND_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Notify.ResendAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.ResendAPIKey },
	},
	{
		key: "notify.alert_email", typ: kString, env: "TWIN_ALERT_EMAIL", aliases: []string{"ALERT_EMAIL"},
		apply:   func(cfg *Config, v any) { cfg.Notify.AlertEmail = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.AlertEmail },
	},
	{
		key: "notify.from", typ: kString, env: "TWIN_NOTIFY_FROM",
		apply:   func(cfg *Config, v any) { cfg.Notify.From = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.From },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TWIN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.transcripts", typ: kBool, env: "TWIN_STORAGE_TRANSCRIPTS",
		apply:   func(cfg *Config, v any) { cfg.Storage.Transcripts = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.Transcripts },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

// lookupEnv returns the first non-empty value among the key's env var and
// its aliases.
func (s keySpec) lookupEnv() (string, string) {
	for _, name := range append([]string{s.env}, s.aliases...) {
		if name == "" {
			continue
		}
		if v := os.Getenv(name); v != "" {
			return name, v
		}
	}
	return "", ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.lookupEnv()
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		}
	}
}

// applySecrets fills secrets that are still empty from the secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := kc.Get("twin", s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
