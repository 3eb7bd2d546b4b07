package config

import (
	"testing"
	"time"
)

// clearEnv unsets every variable the loader reads so defaults apply.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT",
		"MAX_HEADER_BYTES", "GIN_MODE", "LOG_LEVEL", "LOG_PRETTY", "SWAGGER_ENABLED",
		"API_BASE_PATH", "DB_PATH", "VERBOSE_FALLBACKS",
		"WA_VERIFY_TOKEN", "WA_APP_SECRET", "WA_ACCESS_TOKEN", "WA_PHONE_NUMBER_ID",
		"WA_BOT_NUMBER", "WA_API_BASE",
		"AGENT_API_BASE", "AGENT_API_KEY", "AGENT_MODEL", "AGENT_VISION_MODEL",
		"AGENT_TEMPERATURE", "AGENT_TIMEOUT", "AGENT_MAX_ATTEMPTS", "AGENT_RETRY_DELAY",
		"EMBED_MODEL", "RECEIPT_SIM_THRESHOLD", "RECEIPT_TOP_K", "RECEIPT_MIN_TEXT_LEN",
		"MEDIA_DIR", "MEDIA_BASE_URL", "MEDIA_TIMEOUT",
		"RATE_RPS", "RATE_BURST", "CORS_ALLOWED_ORIGINS",
		"ENABLE_HSTS", "HSTS_MAX_AGE", "STATE_TTL",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLER_ARG",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Agent.MaxAttempts != 3 {
		t.Errorf("Agent.MaxAttempts = %d, want 3", cfg.Agent.MaxAttempts)
	}
	if cfg.Agent.RetryDelay != time.Second {
		t.Errorf("Agent.RetryDelay = %v, want 1s", cfg.Agent.RetryDelay)
	}
	// The write deadline covers the worst-case agent retry budget.
	if want := time.Duration(cfg.Agent.MaxAttempts) * cfg.Agent.Timeout; cfg.WriteTimeout < want {
		t.Errorf("WriteTimeout = %v, below agent budget %v", cfg.WriteTimeout, want)
	}
	if cfg.Receipts.Threshold != 0.92 {
		t.Errorf("Receipts.Threshold = %v, want 0.92", cfg.Receipts.Threshold)
	}
	if cfg.Receipts.TopK != 2 {
		t.Errorf("Receipts.TopK = %d, want 2", cfg.Receipts.TopK)
	}
	if cfg.Receipts.MinTextLen != 20 {
		t.Errorf("Receipts.MinTextLen = %d, want 20", cfg.Receipts.MinTextLen)
	}
	if cfg.WhatsApp.APIBase != "https://graph.facebook.com/v21.0" {
		t.Errorf("WhatsApp.APIBase = %q", cfg.WhatsApp.APIBase)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Errorf("APIBasePath = %q", cfg.APIBasePath)
	}
}

func TestLoad_NormalizesAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("GIN_MODE", "bogus")
	t.Setenv("WA_API_BASE", "https://graph.example.test/v21.0/")
	t.Setenv("API_BASE_PATH", "admin/")
	t.Setenv("AGENT_RETRY_DELAY", "250ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.test , https://b.test ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q, want release", cfg.GinMode)
	}
	if cfg.WhatsApp.APIBase != "https://graph.example.test/v21.0" {
		t.Errorf("trailing slash not stripped: %q", cfg.WhatsApp.APIBase)
	}
	if cfg.APIBasePath != "/admin" {
		t.Errorf("APIBasePath = %q, want /admin", cfg.APIBasePath)
	}
	if cfg.Agent.RetryDelay != 250*time.Millisecond {
		t.Errorf("Agent.RetryDelay = %v", cfg.Agent.RetryDelay)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[0] != "https://a.test" {
		t.Errorf("CORS origins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"bad log level", "LOG_LEVEL", "loud"},
		{"zero attempts", "AGENT_MAX_ATTEMPTS", "0"},
		{"threshold above one", "RECEIPT_SIM_THRESHOLD", "1.5"},
		{"zero topk", "RECEIPT_TOP_K", "0"},
		{"negative rps", "RATE_RPS", "-1"},
		{"zero burst", "RATE_BURST", "0"},
		{"bad sampler", "OTEL_TRACES_SAMPLER_ARG", "2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error for %s=%s", tc.key, tc.val)
			}
		})
	}
}

func TestMustLoad_PanicsOnInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENT_MAX_ATTEMPTS", "0")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustLoad()
}
