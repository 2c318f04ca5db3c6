// Package config loads and validates environment configuration before the
// server starts. A process with a bad environment refuses to boot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ICEServer is one STUN/TURN entry handed to clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config holds validated environment configuration.
type Config struct {
	// Server
	Port           string
	AllowedOrigins []string
	GoEnv          string
	Development    bool

	// Credentials
	APIKey    string
	APISecret string
	TokenTTL  time.Duration

	// Optional JWKS validation instead of the shared secret.
	AuthDomain   string
	AuthAudience string

	// Media engine
	EngineWorkers int

	// Room limits
	MaxRooms               int
	MaxParticipantsPerRoom int
	RoomCleanupGrace       time.Duration

	// Calls
	AllowMultipleCalls bool
	CallGCInterval     time.Duration
	CallGCMaxAge       time.Duration

	// Adapter
	AdapterOpTimeout    time.Duration
	AdapterSweepEvery   time.Duration
	AdapterResourceTTL  time.Duration

	// State store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Rate limits in ulule/limiter formatted notation, e.g. "100-M".
	RateLimitAPI    string
	RateLimitWsIP   string
	RateLimitWsUser string

	// Tracing
	OTLPEndpoint string

	ICEServers []ICEServer
}

// ValidateEnv reads and validates every variable, collecting all problems
// into one error so operators fix the environment in a single pass.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var problems []string

	cfg.APISecret = os.Getenv("API_SECRET")
	if cfg.APISecret == "" {
		problems = append(problems, "API_SECRET is required")
	} else if len(cfg.APISecret) < 32 {
		problems = append(problems, fmt.Sprintf("API_SECRET must be at least 32 characters (got %d)", len(cfg.APISecret)))
	}

	cfg.APIKey = os.Getenv("API_KEY")
	if cfg.APIKey == "" {
		problems = append(problems, "API_KEY is required")
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT must be a valid port number (got %q)", cfg.Port))
	}

	origins := getEnvOrDefault("ALLOWED_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.Development = cfg.GoEnv != "production"

	cfg.AuthDomain = os.Getenv("AUTH_DOMAIN")
	cfg.AuthAudience = os.Getenv("AUTH_AUDIENCE")
	if cfg.AuthDomain != "" && cfg.AuthAudience == "" {
		problems = append(problems, "AUTH_AUDIENCE is required when AUTH_DOMAIN is set")
	}

	var err error
	if cfg.TokenTTL, err = parseDuration("TOKEN_TTL", time.Hour); err != nil {
		problems = append(problems, err.Error())
	}

	cfg.EngineWorkers = parseIntOrDefault("ENGINE_WORKERS", 4)
	if cfg.EngineWorkers < 1 {
		problems = append(problems, fmt.Sprintf("ENGINE_WORKERS must be positive (got %d)", cfg.EngineWorkers))
	}

	cfg.MaxRooms = parseIntOrDefault("MAX_ROOMS", 0)
	cfg.MaxParticipantsPerRoom = parseIntOrDefault("MAX_PARTICIPANTS_PER_ROOM", 0)
	if cfg.RoomCleanupGrace, err = parseDuration("ROOM_CLEANUP_GRACE", 30*time.Second); err != nil {
		problems = append(problems, err.Error())
	}

	cfg.AllowMultipleCalls = os.Getenv("ALLOW_MULTIPLE_CALLS") == "true"
	if cfg.CallGCInterval, err = parseDuration("CALL_GC_INTERVAL", time.Hour); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.CallGCMaxAge, err = parseDuration("CALL_GC_MAX_AGE", time.Hour); err != nil {
		problems = append(problems, err.Error())
	}

	if cfg.AdapterOpTimeout, err = parseDuration("ADAPTER_OP_TIMEOUT", 10*time.Second); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.AdapterSweepEvery, err = parseDuration("ADAPTER_SWEEP_INTERVAL", 5*time.Minute); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.AdapterResourceTTL, err = parseDuration("ADAPTER_RESOURCE_MAX_AGE", time.Hour); err != nil {
		problems = append(problems, err.Error())
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			problems = append(problems, fmt.Sprintf("REDIS_ADDR must be host:port (got %q)", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
		cfg.RedisDB = parseIntOrDefault("REDIS_DB", 0)
	}

	cfg.RateLimitAPI = getEnvOrDefault("RATE_LIMIT_API", "1000-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	if raw := os.Getenv("ICE_SERVERS"); raw != "" {
		if jerr := json.Unmarshal([]byte(raw), &cfg.ICEServers); jerr != nil {
			problems = append(problems, fmt.Sprintf("ICE_SERVERS must be a JSON array of ICE server objects: %v", jerr))
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return cfg, nil
}

// Redacted returns loggable key/value pairs with secrets masked.
func (c *Config) Redacted() map[string]string {
	return map[string]string{
		"port":            c.Port,
		"go_env":          c.GoEnv,
		"api_key":         c.APIKey,
		"api_secret":      redactSecret(c.APISecret),
		"auth_domain":     c.AuthDomain,
		"engine_workers":  strconv.Itoa(c.EngineWorkers),
		"redis_enabled":   strconv.FormatBool(c.RedisEnabled),
		"redis_addr":      c.RedisAddr,
		"rate_limit_api":  c.RateLimitAPI,
		"allowed_origins": strings.Join(c.AllowedOrigins, ","),
	}
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

func parseDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s or 5m (got %q)", key, raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive (got %q)", key, raw)
	}
	return d, nil
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
