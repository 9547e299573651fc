// Package config assembles the sync agent's settings from the environment, an optional
// .env file and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pulsecrm/realtime/internal/app/syncengine"
	"github.com/pulsecrm/realtime/internal/navigation"
	"github.com/pulsecrm/realtime/internal/platform/env"
	"github.com/pulsecrm/realtime/internal/realtime"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Transports the agent can speak.
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
	TransportMemory    = "memory"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Transport          string
	NATSURL            string
	NATSConnectTimeout time.Duration
	SocketURL          string
	Workspace          string
	APIURL             string
	APITimeout         time.Duration
	CalendarTimeout    time.Duration
	Addr               string
	AllowedOrigin      string
	DatabaseURL        string
	ApplyPolicy        string
	Token              string
	JWTSecret          string
	ReconnectAttempts  int
	ReconnectDelay     time.Duration
	HighlightFor       time.Duration
	PendingTTL         time.Duration
	ToastLimit         int
	ShutdownTimeout    time.Duration
	LogLevel           string
	LogJSON            bool
}

// LoadDotEnv reads the given files (".env" when none) into the process environment.
// Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv reads every setting from the environment with the documented defaults.
func FromEnv() Config {
	return Config{
		Transport:          env.String("CRM_TRANSPORT", TransportNATS),
		NATSURL:            env.String("NATS_URL", env.DefaultNATSURL),
		NATSConnectTimeout: env.Duration("NATS_CONNECT_TIMEOUT", 30*time.Second),
		SocketURL:          env.String("CRM_SOCKET_URL", env.DefaultSocketURL),
		Workspace:          env.String("CRM_WORKSPACE", env.DefaultWorkspace),
		APIURL:             env.String("CRM_API_URL", env.DefaultAPIURL),
		APITimeout:         env.Duration("CRM_API_TIMEOUT", 15*time.Second),
		CalendarTimeout:    env.Duration("CRM_CALENDAR_SYNC_TIMEOUT", 5*time.Minute),
		Addr:               env.String("CRM_SYNC_ADDR", env.DefaultAgentAddr),
		AllowedOrigin:      env.String("CORS_ALLOWED_ORIGIN", ""),
		DatabaseURL:        env.String("DATABASE_URL", ""),
		ApplyPolicy:        env.String("CRM_APPLY_POLICY", string(syncengine.PolicyPatch)),
		Token:              env.String("CRM_TOKEN", ""),
		JWTSecret:          env.String("JWT_SECRET", ""),
		ReconnectAttempts:  env.Int("CRM_RECONNECT_ATTEMPTS", realtime.DefaultReconnectAttempts),
		ReconnectDelay:     env.Duration("CRM_RECONNECT_DELAY", realtime.DefaultReconnectDelay),
		HighlightFor:       env.Duration("CRM_HIGHLIGHT_FOR", navigation.DefaultHighlightFor),
		PendingTTL:         env.Duration("CRM_PENDING_LINK_TTL", navigation.DefaultPendingTTL),
		ToastLimit:         env.Int("CRM_TOAST_LIMIT", syncengine.DefaultToastLimit),
		ShutdownTimeout:    env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:           env.String("LOG_LEVEL", "info"),
		LogJSON:            env.Bool("LOG_JSON", false),
	}
}

// BindFlags registers a flag per setting on cmd, defaulting to the current values so
// that only flags given on the command line override the environment.
func (c *Config) BindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&c.Transport, "transport", c.Transport, "realtime transport: nats, websocket or memory")
	f.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server URL")
	f.StringVar(&c.SocketURL, "socket-url", c.SocketURL, "realtime WebSocket URL")
	f.StringVar(&c.Workspace, "workspace", c.Workspace, "workspace whose events are synced")
	f.StringVar(&c.APIURL, "api-url", c.APIURL, "CRM REST API base URL")
	f.StringVar(&c.Addr, "addr", c.Addr, "listen address of the local HTTP API")
	f.StringVar(&c.AllowedOrigin, "allowed-origin", c.AllowedOrigin, "CORS origin allowed to call the local API")
	f.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "Postgres URL for pending links and preferences; in-memory when empty")
	f.StringVar(&c.ApplyPolicy, "apply-policy", c.ApplyPolicy, "how events reach the view: patch or refetch")
	f.StringVar(&c.Token, "token", c.Token, "access token to sign in with at startup")
	f.IntVar(&c.ReconnectAttempts, "reconnect-attempts", c.ReconnectAttempts, "reconnect attempts before giving up")
	f.DurationVar(&c.ReconnectDelay, "reconnect-delay", c.ReconnectDelay, "fixed delay between reconnect attempts")
	f.DurationVar(&c.HighlightFor, "highlight-for", c.HighlightFor, "how long a navigated-to item stays highlighted")
	f.StringVar(&c.LogLevel, "log-level", c.LogLevel, "zerolog level")
	f.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "write JSON logs instead of console output")
}

func (c Config) Validate() error {
	var problems []string
	switch c.Transport {
	case TransportNATS, TransportWebSocket, TransportMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown transport %q", c.Transport))
	}
	if _, err := syncengine.ParsePolicy(c.ApplyPolicy); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(c.Workspace) == "" {
		problems = append(problems, "workspace is required")
	}
	if c.Transport == TransportNATS && c.NATSURL == "" {
		problems = append(problems, "nats url is required")
	}
	if c.Transport == TransportWebSocket && c.SocketURL == "" {
		problems = append(problems, "socket url is required")
	}
	if c.ReconnectAttempts < 0 {
		problems = append(problems, "reconnect attempts must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log level %q", c.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Logger builds the process logger. Console output is the default for local runs.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if !c.LogJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
