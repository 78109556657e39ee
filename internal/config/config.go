package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerURL       string        // base URL of the REST API
	WebSocketURL    string        // base URL of the websocket endpoint
	HTTPTimeout     time.Duration // per-request timeout for REST calls
	DialTimeout     time.Duration // websocket handshake timeout
	PresencePoll    time.Duration // interval between online-set refreshes
	ReconnectBase   time.Duration // first reconnect backoff step
	ReconnectCap    time.Duration // backoff ceiling
	ReconnectTries  int           // retries before giving up (manual retry after)
	LogLevel        string
}

func Load() *Config {
	serverURL := getEnv("SERVER_URL", "http://localhost:8000")

	return &Config{
		ServerURL:      strings.TrimRight(serverURL, "/"),
		WebSocketURL:   strings.TrimRight(getEnv("WS_URL", deriveWSURL(serverURL)), "/"),
		HTTPTimeout:    getDuration("HTTP_TIMEOUT", 10*time.Second),
		DialTimeout:    getDuration("WS_DIAL_TIMEOUT", 10*time.Second),
		PresencePoll:   getDuration("PRESENCE_POLL_INTERVAL", 15*time.Second),
		ReconnectBase:  getDuration("RECONNECT_BACKOFF_BASE", time.Second),
		ReconnectCap:   getDuration("RECONNECT_BACKOFF_CAP", 30*time.Second),
		ReconnectTries: getInt("RECONNECT_MAX_RETRIES", 5),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// deriveWSURL maps the REST base URL onto the websocket scheme so a single
// SERVER_URL is enough in the common case.
func deriveWSURL(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "ws://localhost:8000"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
