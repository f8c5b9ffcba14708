package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m.values[account]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearProviderEnv blanks every env var that could leak into a test from the host.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		for _, name := range append([]string{s.env}, s.aliases...) {
			if name != "" {
				t.Setenv(name, "")
			}
		}
	}
}

func TestDefaults(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `# empty config`)

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.TrustProxyHeaders {
		t.Error("proxy headers must not be trusted by default")
	}
	if cfg.Providers.Primary.Model != "gpt-4o" {
		t.Errorf("Primary.Model = %q, want gpt-4o", cfg.Providers.Primary.Model)
	}
	if cfg.Providers.Fallback.BaseURL != "https://api.deepseek.com/v1" {
		t.Errorf("Fallback.BaseURL = %q", cfg.Providers.Fallback.BaseURL)
	}
	if cfg.Providers.Primary.Temperature != 0.85 {
		t.Errorf("Primary.Temperature = %v, want 0.85", cfg.Providers.Primary.Temperature)
	}
	if cfg.Routing.RestrictedCountry != "cn" {
		t.Errorf("RestrictedCountry = %q, want cn", cfg.Routing.RestrictedCountry)
	}
	if cfg.Routing.DefaultCountry != "us" {
		t.Errorf("DefaultCountry = %q, want us", cfg.Routing.DefaultCountry)
	}
	if cfg.Profile.BiographyFile != "summary.txt" || cfg.Profile.ResumeFile != "linkedin.pdf" {
		t.Errorf("profile files = %q, %q", cfg.Profile.BiographyFile, cfg.Profile.ResumeFile)
	}
	if !cfg.Storage.Transcripts {
		t.Error("Storage.Transcripts should default to true")
	}
}

// TestMissingCredentialsNotFatal verifies that absent provider keys degrade instead of failing.
func TestMissingCredentialsNotFatal(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `# empty config`)

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Primary.APIKey != "" {
		t.Errorf("Primary.APIKey = %q, want empty", cfg.Providers.Primary.APIKey)
	}

	warnings := strings.Join(cfg.Warnings(), "\n")
	if !strings.Contains(warnings, "fallback provider") {
		t.Errorf("warnings = %q, want mention of fallback provider", warnings)
	}
}

func TestEnvOverride(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `
[providers.primary]
model = "file-model"
`)

	t.Setenv("TWIN_PRIMARY_MODEL", "env-model")

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Providers.Primary.Model != "env-model" {
		t.Errorf("Primary.Model = %q, want %q", cfg.Providers.Primary.Model, "env-model")
	}
}

// TestEnvAliases verifies the conventional env names used by vendor SDKs are honoured.
func TestEnvAliases(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `# empty config`)

	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("DEEPSEEK_API_KEY", "sk-deepseek")
	t.Setenv("ALERT_EMAIL", "me@example.com")
	t.Setenv("S3_BUCKET", "profile-bucket")
	t.Setenv("IPINFO_TOKEN", "tok")

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Providers.Primary.APIKey != "sk-openai" {
		t.Errorf("Primary.APIKey = %q", cfg.Providers.Primary.APIKey)
	}
	if cfg.Providers.Fallback.APIKey != "sk-deepseek" {
		t.Errorf("Fallback.APIKey = %q", cfg.Providers.Fallback.APIKey)
	}
	if cfg.Notify.AlertEmail != "me@example.com" {
		t.Errorf("AlertEmail = %q", cfg.Notify.AlertEmail)
	}
	if cfg.Profile.S3Bucket != "profile-bucket" {
		t.Errorf("S3Bucket = %q", cfg.Profile.S3Bucket)
	}
	if cfg.Routing.GeoToken != "tok" {
		t.Errorf("GeoToken = %q", cfg.Routing.GeoToken)
	}
}

// TestPrefixedEnvWins verifies TWIN_* takes precedence over the conventional alias.
func TestPrefixedEnvWins(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `# empty config`)

	t.Setenv("OPENAI_API_KEY", "alias")
	t.Setenv("TWIN_OPENAI_API_KEY", "prefixed")

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Primary.APIKey != "prefixed" {
		t.Errorf("Primary.APIKey = %q, want prefixed", cfg.Providers.Primary.APIKey)
	}
}

func TestTOMLParsing(t *testing.T) {
	clearProviderEnv(t)
	content := `
[server]
host = "0.0.0.0"
port = 9090
rate_limit = 5
trust_proxy_headers = true

[persona]
name = "Ada"

[profile]
dir = "/srv/profile"
s3_bucket = "bucket"

[providers.fallback]
model = "deepseek-reasoner"
temperature = 0.3
timeout = "10s"

[routing]
restricted_country = "CN"

[storage]
transcripts = false
`
	path := writeTempConfig(t, content)

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 5 {
		t.Errorf("Server.RateLimit = %d, want 5", cfg.Server.RateLimit)
	}
	if !cfg.Server.TrustProxyHeaders {
		t.Error("Server.TrustProxyHeaders = false, want true")
	}
	if cfg.Persona.Name != "Ada" {
		t.Errorf("Persona.Name = %q", cfg.Persona.Name)
	}
	if cfg.Profile.Dir != "/srv/profile" {
		t.Errorf("Profile.Dir = %q", cfg.Profile.Dir)
	}
	if cfg.Providers.Fallback.Model != "deepseek-reasoner" {
		t.Errorf("Fallback.Model = %q", cfg.Providers.Fallback.Model)
	}
	if cfg.Providers.Fallback.Temperature != 0.3 {
		t.Errorf("Fallback.Temperature = %v", cfg.Providers.Fallback.Temperature)
	}
	if cfg.Routing.RestrictedCountry != "cn" {
		t.Errorf("RestrictedCountry = %q, want lower-cased cn", cfg.Routing.RestrictedCountry)
	}
	if cfg.Storage.Transcripts {
		t.Error("Storage.Transcripts = true, want false")
	}
}

// TestSecretsFallback verifies the secrets store is consulted when no key is in env.
func TestSecretsFallback(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `# no api key in file`)

	kc := mockKeychain{values: map[string]string{
		"providers.primary.api_key": "stored-secret",
	}}
	cfg, err := loadWith(newFileBackend(path), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Providers.Primary.APIKey != "stored-secret" {
		t.Errorf("Primary.APIKey = %q, want %q", cfg.Providers.Primary.APIKey, "stored-secret")
	}
}

// TestSecretsNotReadFromFile verifies secrets in the plain config file are ignored.
func TestSecretsNotReadFromFile(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `
[providers.primary]
api_key = "leaked"
`)

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Primary.APIKey != "" {
		t.Errorf("Primary.APIKey = %q, want empty", cfg.Providers.Primary.APIKey)
	}
}

func TestSecretsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")
	if err := os.WriteFile(path, []byte(`{"twin":{"notify.resend_api_key":"re_123"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	f := secretsFile{path: path}
	v, err := f.Get("twin", "notify.resend_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "re_123" {
		t.Errorf("value = %q", v)
	}
	if _, err := f.Get("twin", "missing"); err == nil {
		t.Error("expected error for missing account")
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	clearProviderEnv(t)
	path := filepath.Join(t.TempDir(), "twin", "config.toml")

	if err := setKeyWith(newFileBackend(path), "providers.primary.model", "gpt-4o-mini"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), "server.port", "7000"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), "providers.primary.temperature", "0.2"); err != nil {
		t.Fatalf("set temperature: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.Primary.Model != "gpt-4o-mini" {
		t.Errorf("Primary.Model = %q", cfg.Providers.Primary.Model)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Providers.Primary.Temperature != 0.2 {
		t.Errorf("Primary.Temperature = %v", cfg.Providers.Primary.Temperature)
	}
}

func TestSetKeyRejections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	b := newFileBackend(path)

	if err := setKeyWith(b, "providers.primary.api_key", "sk"); err == nil {
		t.Error("expected error setting a secret")
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestUnsetKey(t *testing.T) {
	clearProviderEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := setKeyWith(newFileBackend(path), "server.port", "7000"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if err := unsetKeyWith(newFileBackend(path), "server.port"); err != nil {
		t.Fatalf("unset port: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}

	if err := unsetKeyWith(newFileBackend(path), "providers.primary.api_key"); err == nil {
		t.Error("expected error unsetting a secret")
	}
	if err := unsetKeyWith(newFileBackend(path), "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Providers.Primary.APIKey = "sk-secret"

	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-secret") {
			t.Fatalf("secret leaked in %s", ki.Key)
		}
		if ki.Key == "providers.primary.api_key" && ki.Value != "(set)" {
			t.Errorf("api key value = %q, want (set)", ki.Value)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("x", "", 3*time.Second); got != 3*time.Second {
		t.Errorf("empty = %v", got)
	}
	if got := Duration("x", "250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("250ms = %v", got)
	}
	if got := Duration("x", "soon", time.Second); got != time.Second {
		t.Errorf("invalid = %v", got)
	}
}
