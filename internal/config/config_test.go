package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_SignatureBypassOnlyInDevelopment(t *testing.T) {
	cfg := Defaults()
	cfg.Webhook.VerifySignatures = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("bypass should be allowed in development: %v", err)
	}

	for _, env := range []string{EnvProduction, "staging", "test"} {
		cfg.Env = env
		if err := Validate(cfg); err == nil {
			t.Errorf("bypass must be rejected in %s", env)
		}
	}
}

func TestValidate_PublicBaseURLRequiredWhenVerifying(t *testing.T) {
	cfg := Defaults()
	if cfg.Webhook.PublicBaseURL != "" || !cfg.Webhook.VerifySignatures {
		t.Fatal("defaults changed; test assumes verification on without a public URL")
	}

	for _, env := range []string{EnvProduction, "staging", "test"} {
		cfg.Env = env
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: missing public_base_url must be rejected", env)
		}
	}

	cfg.Env = EnvProduction
	cfg.Webhook.PublicBaseURL = "https://gw.example.com"
	if err := Validate(cfg); err != nil {
		t.Errorf("production with a public URL should validate: %v", err)
	}
}

func TestValidate_RetryPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.Dispatch.MaxAttempts = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for max_attempts=0")
	}

	cfg = Defaults()
	cfg.Dispatch.MaxBackoff = cfg.Dispatch.BaseBackoff - 1
	if err := Validate(cfg); err == nil {
		t.Error("expected error for max_backoff < base_backoff")
	}
}

func TestValidate_Store(t *testing.T) {
	cfg := Defaults()
	cfg.Store = "mongo"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown store")
	}

	cfg = Defaults()
	cfg.Store = StoreMemory
	cfg.Env = EnvProduction
	if err := Validate(cfg); err == nil {
		t.Error("memory store must be rejected in production")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "staging")
	t.Setenv("WEBHOOK_PUBLIC_BASE_URL", "https://gw.example.com")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("DISPATCH_MAX_ATTEMPTS", "5")
	t.Setenv("PROVIDER_SEND_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Env != "staging" || cfg.Providers.Twilio.AccountSID != "AC1" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Dispatch.MaxAttempts != 5 || cfg.Providers.SendTimeout != 3*time.Second {
		t.Errorf("numeric overrides not applied: %+v", cfg.Dispatch)
	}
}

func TestLoad_BadNumber(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DISPATCH_MAX_ATTEMPTS", "three")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric attempts")
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	data := []byte(`
env: development
store: memory
providers:
  send_timeout: 4s
  resend:
    api_key: re_file
webhook:
  verify_signatures: false
dispatch:
  max_attempts: 2
  base_backoff: 100ms
  max_backoff: 1s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RESEND_API_KEY", "re_env")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StoreMemory || cfg.Webhook.VerifySignatures {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Providers.SendTimeout != 4*time.Second || cfg.Dispatch.BaseBackoff != 100*time.Millisecond {
		t.Errorf("durations not parsed: %+v", cfg)
	}
	if cfg.Providers.Resend.APIKey != "re_env" {
		t.Errorf("env should override file, got %q", cfg.Providers.Resend.APIKey)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("defaults should survive partial file, got %q", cfg.HTTPAddr)
	}
}

func TestLoad_RejectsBypassOutsideDevelopment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("WEBHOOK_VERIFY_SIGNATURES", "false")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}
