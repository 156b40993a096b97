package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all environment configuration for the chat subsystem.
// These values are loaded from a .env file at startup when present.
type Config struct {
	// RelayWSURL is the websocket endpoint of the chat relay,
	// e.g. ws://localhost:8080/ws
	RelayWSURL string

	// RelayHTTPURL is the base HTTP URL of the chat relay, used for the
	// history endpoint, e.g. http://localhost:8080
	RelayHTTPURL string

	// Token is the bearer credential attached to the connection handshake
	// and to history fetches. Token issuance is owned by the host app.
	Token string

	// ServerPort is the port the relay server listens on
	ServerPort string

	// TypingExpiry is how long a member stays in the typing set without a
	// renewed typing signal
	TypingExpiry time.Duration

	// ReconnectDelay is the fixed delay before the single reconnect
	// attempt after a transport failure
	ReconnectDelay time.Duration

	// HighlightFor is how long a resolved reply target stays highlighted
	HighlightFor time.Duration
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment
// variables, falling back to defaults where values are not set.
func Load() *Config {
	// Not an error if the .env file doesn't exist - production runs with
	// real environment variables
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	return &Config{
		RelayWSURL:     getEnv("CHAT_RELAY_WS_URL", "ws://localhost:8080/ws"),
		RelayHTTPURL:   getEnv("CHAT_RELAY_HTTP_URL", "http://localhost:8080"),
		Token:          getEnv("CHAT_TOKEN", ""),
		ServerPort:     getEnv("PORT", "8080"),
		TypingExpiry:   getEnvDuration("CHAT_TYPING_EXPIRY_SECONDS", 3*time.Second),
		ReconnectDelay: getEnvDuration("CHAT_RECONNECT_DELAY_SECONDS", 3*time.Second),
		HighlightFor:   getEnvDuration("CHAT_HIGHLIGHT_SECONDS", 2*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration reads a whole-second environment variable as a duration
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}
