package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultNATSURL   = "nats://localhost:4222"
	DefaultSocketURL = "ws://localhost:4000/realtime"
	DefaultAPIURL    = "http://localhost:4000/api"
	DefaultAgentAddr = ":8090"
	DefaultWorkspace = "default"
)

func String(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func Int(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func Duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// Bool accepts the strconv.ParseBool spellings plus yes/no and on/off.
func Bool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return fallback
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
