// Package config loads exporter settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIBase     = "https://api.robinhood.com"
	DefaultOrigin      = "https://robinhood.com"
	DefaultAPIVersion  = "1.66.64"
	DefaultTimezone    = "America/Los_Angeles"
	DefaultAcceptLang  = "en-GB,en-US;q=0.9,en;q=0.8"
	DefaultUserAgent   = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Mobile Safari/537.36"
	defaultBindAddr    = "127.0.0.1:8190"
	defaultTabFilter   = "robinhood.com"
	minEvalTimeoutMS   = 1000
	defaultJournalBody = 1 << 20
)

// Config holds every exporter setting.
type Config struct {
	// CDP connection
	CDPAddress   string
	CDPPort      int
	TabURLFilter string
	EvalTimeout  time.Duration

	// Brokerage API
	APIBase        string
	Origin         string
	APIVersion     string
	AcceptLanguage string
	UserAgent      string
	Timezone       string
	HTTPTimeout    time.Duration

	// Upstream pacing
	RatingsBatchSize  int
	RateLimitEvery    int
	RateLimitDelay    time.Duration
	TokenPollAttempts int
	TokenPollInterval time.Duration
	ReinstallInterval time.Duration

	// Control API
	BindAddr         string
	PortAutoFallback bool
	PortCandidates   []string

	// Logging and storage
	LogLevel            string
	LogFile             string
	ExportDir           string
	JournalDir          string
	JournalMaxBodyBytes int

	// Extras
	NtfyEndpoint      string
	SeedSymbolsFile   string
	LaunchBrowser     bool
	BrowserProfileDir string
	InjectPanel       bool
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:   getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:      getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter: getEnvOrDefault("TAB_URL_FILTER", defaultTabFilter),
		EvalTimeout:  getEnvMillisOrDefault("EVAL_TIMEOUT_MS", 15000),

		APIBase:        strings.TrimRight(getEnvOrDefault("BROKER_API_BASE", DefaultAPIBase), "/"),
		Origin:         strings.TrimRight(getEnvOrDefault("BROKER_ORIGIN", DefaultOrigin), "/"),
		APIVersion:     getEnvOrDefault("BROKER_API_VERSION", DefaultAPIVersion),
		AcceptLanguage: getEnvOrDefault("BROKER_ACCEPT_LANGUAGE", DefaultAcceptLang),
		UserAgent:      getEnvOrDefault("BROKER_USER_AGENT", DefaultUserAgent),
		Timezone:       getEnvOrDefault("DEFAULT_TIMEZONE", DefaultTimezone),
		HTTPTimeout:    getEnvMillisOrDefault("HTTP_TIMEOUT_MS", 30000),

		RatingsBatchSize:  getEnvIntOrDefault("RATINGS_BATCH_SIZE", 50),
		RateLimitEvery:    getEnvIntOrDefault("RATE_LIMIT_EVERY", 10),
		RateLimitDelay:    getEnvMillisOrDefault("RATE_LIMIT_DELAY_MS", 1000),
		TokenPollAttempts: getEnvIntOrDefault("TOKEN_POLL_ATTEMPTS", 5),
		TokenPollInterval: getEnvMillisOrDefault("TOKEN_POLL_INTERVAL_MS", 200),
		ReinstallInterval: getEnvMillisOrDefault("REINSTALL_INTERVAL_MS", 2000),

		BindAddr:         getEnvOrDefault("CONTROLLER_BIND_ADDR", defaultBindAddr),
		PortAutoFallback: getEnvBoolOrDefault("PORT_AUTO_FALLBACK", true),
		PortCandidates:   splitList(getEnvOrDefault("PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192,127.0.0.1:8193")),

		LogLevel:            strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFile:             getEnvOrDefault("LOG_FILE", "logs/rh_exporter.log"),
		ExportDir:           getEnvOrDefault("EXPORT_DIR", "./exports"),
		JournalDir:          os.Getenv("JOURNAL_DIR"),
		JournalMaxBodyBytes: getEnvIntOrDefault("JOURNAL_MAX_BODY_BYTES", defaultJournalBody),

		NtfyEndpoint:      os.Getenv("NTFY_ENDPOINT"),
		SeedSymbolsFile:   os.Getenv("SEED_SYMBOLS_FILE"),
		LaunchBrowser:     getEnvBoolOrDefault("LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("BROWSER_PROFILE_DIR", "./browser_profile"),
		InjectPanel:       getEnvBoolOrDefault("INJECT_PANEL", true),
	}

	if cfg.EvalTimeout < minEvalTimeoutMS*time.Millisecond {
		cfg.EvalTimeout = minEvalTimeoutMS * time.Millisecond
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the exporter cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.RatingsBatchSize < 1:
		return fmt.Errorf("RATINGS_BATCH_SIZE must be positive, got %d", c.RatingsBatchSize)
	case c.RateLimitEvery < 1:
		return fmt.Errorf("RATE_LIMIT_EVERY must be positive, got %d", c.RateLimitEvery)
	case c.TokenPollAttempts < 0:
		return fmt.Errorf("TOKEN_POLL_ATTEMPTS must not be negative, got %d", c.TokenPollAttempts)
	case c.ReinstallInterval <= 0:
		return fmt.Errorf("REINSTALL_INTERVAL_MS must be positive")
	case !strings.HasPrefix(c.APIBase, "http"):
		return fmt.Errorf("BROKER_API_BASE must be an http(s) URL, got %q", c.APIBase)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	return nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

// APIHost returns the host part of APIBase, used to recognise brokerage calls.
func (c *Config) APIHost() string {
	host := strings.TrimPrefix(strings.TrimPrefix(c.APIBase, "https://"), "http://")
	if i := strings.IndexAny(host, "/?"); i >= 0 {
		host = host[:i]
	}
	return host
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvMillisOrDefault(key string, defaultMS int) time.Duration {
	return time.Duration(getEnvIntOrDefault(key, defaultMS)) * time.Millisecond
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
