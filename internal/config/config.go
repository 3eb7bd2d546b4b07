// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, WhatsApp Cloud API credentials, generation-agent
// parameters, the receipt-duplicate policy, and observability switches.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the admin API.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "wa-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WhatsAppConfig carries the Cloud API credentials and webhook secrets.
//
// AppSecret signs webhook deliveries (X-Hub-Signature-256). When empty,
// signature verification is skipped, an explicit insecure mode intended
// for local development only.
type WhatsAppConfig struct {
	VerifyToken   string // WA_VERIFY_TOKEN (GET handshake token)
	AppSecret     string // WA_APP_SECRET (HMAC secret; empty disables verification)
	AccessToken   string // WA_ACCESS_TOKEN (Graph API bearer token)
	PhoneNumberID string // WA_PHONE_NUMBER_ID (sender phone-number id)
	BotNumber     string // WA_BOT_NUMBER (own wa_id; self-sent messages are dropped)
	APIBase       string // WA_API_BASE (Graph API base URL)
}

// AgentConfig configures the generation agent and the vision/OCR model.
type AgentConfig struct {
	APIBase     string        // AGENT_API_BASE (OpenAI-compatible endpoint)
	APIKey      string        // AGENT_API_KEY
	Model       string        // AGENT_MODEL
	VisionModel string        // AGENT_VISION_MODEL (image text extraction)
	Temperature float64       // AGENT_TEMPERATURE
	Timeout     time.Duration // AGENT_TIMEOUT (per-attempt bound)
	MaxAttempts int           // AGENT_MAX_ATTEMPTS (text handler retry budget)
	RetryDelay  time.Duration // AGENT_RETRY_DELAY (fixed inter-attempt delay)
}

// ReceiptConfig holds the duplicate-receipt detection policy.
type ReceiptConfig struct {
	EmbedModel string  // EMBED_MODEL (text-embedding model id)
	Threshold  float64 // RECEIPT_SIM_THRESHOLD (min cosine similarity)
	TopK       int     // RECEIPT_TOP_K (matches returned to the user)
	MinTextLen int     // RECEIPT_MIN_TEXT_LEN (below this, skip the check)
}

// MediaConfig configures the media download/store pipeline.
type MediaConfig struct {
	Dir     string        // MEDIA_DIR (filesystem store root)
	BaseURL string        // MEDIA_BASE_URL (public prefix for stored files)
	Timeout time.Duration // MEDIA_TIMEOUT (download+store bound)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // must cover the agent retry budget, e.g. 150s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for the admin API routes

	// App
	DBPath           string // SQLite path
	VerboseFallbacks bool   // diagnostic fallback messages instead of generic ones

	// Collaborators
	WhatsApp WhatsAppConfig
	Agent    AgentConfig
	Receipts ReceiptConfig
	Media    MediaConfig

	// Rate limiting (admin API only; webhook deliveries are never limited)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Conversation-state bookkeeping
	StateTTL time.Duration // expiry stamped on flow state rows (cleanup is external)

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		// Webhook handling is synchronous, so the write deadline must cover a
		// full agent budget: AGENT_MAX_ATTEMPTS * AGENT_TIMEOUT plus retry
		// delays (3 * 45s by default).
		WriteTimeout: getdur("WRITE_TIMEOUT", 150*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:           getenv("DB_PATH", "app.db"),
		VerboseFallbacks: getbool("VERBOSE_FALLBACKS", false),

		WhatsApp: WhatsAppConfig{
			VerifyToken:   getenv("WA_VERIFY_TOKEN", ""),
			AppSecret:     getenv("WA_APP_SECRET", ""),
			AccessToken:   getenv("WA_ACCESS_TOKEN", ""),
			PhoneNumberID: getenv("WA_PHONE_NUMBER_ID", ""),
			BotNumber:     getenv("WA_BOT_NUMBER", ""),
			APIBase:       getenv("WA_API_BASE", "https://graph.facebook.com/v21.0"),
		},

		Agent: AgentConfig{
			APIBase:     getenv("AGENT_API_BASE", "https://api.openai.com/v1"),
			APIKey:      getenv("AGENT_API_KEY", ""),
			Model:       getenv("AGENT_MODEL", "gpt-4o-mini"),
			VisionModel: getenv("AGENT_VISION_MODEL", "gpt-4o"),
			Temperature: getfloat("AGENT_TEMPERATURE", 0.3),
			Timeout:     getdur("AGENT_TIMEOUT", 45*time.Second),
			MaxAttempts: getint("AGENT_MAX_ATTEMPTS", 3),
			RetryDelay:  getdur("AGENT_RETRY_DELAY", time.Second),
		},

		Receipts: ReceiptConfig{
			EmbedModel: getenv("EMBED_MODEL", "text-embedding-3-small"),
			Threshold:  getfloat("RECEIPT_SIM_THRESHOLD", 0.92),
			TopK:       getint("RECEIPT_TOP_K", 2),
			MinTextLen: getint("RECEIPT_MIN_TEXT_LEN", 20),
		},

		Media: MediaConfig{
			Dir:     getenv("MEDIA_DIR", "data/media"),
			BaseURL: getenv("MEDIA_BASE_URL", "/media"),
			Timeout: getdur("MEDIA_TIMEOUT", 30*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Conversation-state bookkeeping
		StateTTL: getdur("STATE_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "wa-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.WhatsApp.APIBase = strings.TrimRight(cfg.WhatsApp.APIBase, "/")
	cfg.Agent.APIBase = strings.TrimRight(cfg.Agent.APIBase, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Agent.MaxAttempts < 1 {
		return cfg, errors.New("AGENT_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Agent.RetryDelay < 0 {
		return cfg, errors.New("AGENT_RETRY_DELAY must be >= 0")
	}
	if cfg.Agent.Timeout <= 0 {
		return cfg, errors.New("AGENT_TIMEOUT must be > 0")
	}
	if cfg.Receipts.Threshold < 0 || cfg.Receipts.Threshold > 1 {
		return cfg, errors.New("RECEIPT_SIM_THRESHOLD must be between 0 and 1")
	}
	if cfg.Receipts.TopK < 1 {
		return cfg, errors.New("RECEIPT_TOP_K must be >= 1")
	}
	if cfg.Receipts.MinTextLen < 0 {
		return cfg, errors.New("RECEIPT_MIN_TEXT_LEN must be >= 0")
	}
	if cfg.Media.Timeout <= 0 {
		return cfg, errors.New("MEDIA_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.StateTTL <= 0 {
		return cfg, errors.New("STATE_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
