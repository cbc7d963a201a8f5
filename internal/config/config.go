package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/config"
)

// ErrConfiguration marks an invalid or incomplete startup configuration
var ErrConfiguration = errors.New("invalid configuration")

// Config is the relay configuration, read from the environment
type Config struct {
	Port string

	JWTSecret string
	TokenTTL  time.Duration

	TokenRateLimit float64
	TokenRateBurst int

	Protect  ProtectConfig
	Upstream UpstreamConfig
	Socket   SocketConfig
}

// ProtectConfig locates and authenticates against the camera console
type ProtectConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	VerifyTLS bool
}

// UpstreamConfig tunes the upstream connector
type UpstreamConfig struct {
	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	SyntheticInterval        time.Duration
	SyntheticConnectedFactor int

	CamerasFile    string
	CameraCacheTTL time.Duration
}

// SocketConfig tunes downstream websocket connections
type SocketConfig struct {
	IdleTimeout      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	SendBuffer       int
}

// Load reads the configuration from the environment and validates it
func Load() (Config, error) {
	cfg := Config{
		Port:           config.GetEnv("PORT", "3001"),
		JWTSecret:      strings.TrimSpace(config.GetEnv("JWT_SECRET", "")),
		TokenTTL:       config.GetEnvDuration("TOKEN_TTL", 7*24*time.Hour),
		TokenRateLimit: config.GetEnvFloat("TOKEN_RATE_LIMIT", 1),
		TokenRateBurst: config.GetEnvInt("TOKEN_RATE_BURST", 5),
		Protect: ProtectConfig{
			Host:      strings.TrimSpace(config.GetEnv("PROTECT_HOST", "")),
			Port:      config.GetEnvInt("PROTECT_PORT", 443),
			Username:  config.GetEnv("PROTECT_USERNAME", ""),
			Password:  config.GetEnv("PROTECT_PASSWORD", ""),
			VerifyTLS: config.GetEnvBool("PROTECT_VERIFY_TLS", false),
		},
		Upstream: UpstreamConfig{
			HeartbeatInterval:        config.GetEnvDuration("UPSTREAM_HEARTBEAT_INTERVAL", 30*time.Second),
			ReconnectInitial:         config.GetEnvDuration("UPSTREAM_RECONNECT_INITIAL", 2*time.Second),
			ReconnectMax:             config.GetEnvDuration("UPSTREAM_RECONNECT_MAX", 60*time.Second),
			SyntheticInterval:        config.GetEnvDuration("SYNTHETIC_EVENT_INTERVAL", 30*time.Second),
			SyntheticConnectedFactor: config.GetEnvInt("SYNTHETIC_CONNECTED_FACTOR", 4),
			CamerasFile:              config.GetEnv("CAMERAS_FILE", ""),
			CameraCacheTTL:           config.GetEnvDuration("CAMERA_CACHE_TTL", 5*time.Minute),
		},
		Socket: SocketConfig{
			IdleTimeout:      config.GetEnvDuration("WS_IDLE_TIMEOUT", 90*time.Second),
			PingInterval:     config.GetEnvDuration("WS_PING_INTERVAL", 30*time.Second),
			HandshakeTimeout: config.GetEnvDuration("WS_HANDSHAKE_TIMEOUT", 90*time.Second),
			MaxMessageSize:   int64(config.GetEnvInt("WS_MAX_MESSAGE_SIZE", 64*1024)),
			SendBuffer:       config.GetEnvInt("WS_SEND_BUFFER", 256),
		},
	}
	return cfg, cfg.Validate()
}

// Validate reports every problem at once, wrapped in ErrConfiguration
func (c Config) Validate() error {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.Protect.Host == "" {
		problems = append(problems, "PROTECT_HOST is required")
	}
	if c.Protect.Port <= 0 || c.Protect.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PROTECT_PORT %d out of range", c.Protect.Port))
	}
	if c.TokenTTL <= 0 {
		problems = append(problems, "TOKEN_TTL must be positive")
	}
	if c.TokenRateLimit <= 0 || c.TokenRateBurst <= 0 {
		problems = append(problems, "TOKEN_RATE_LIMIT and TOKEN_RATE_BURST must be positive")
	}

	u := c.Upstream
	if u.HeartbeatInterval <= 0 {
		problems = append(problems, "UPSTREAM_HEARTBEAT_INTERVAL must be positive")
	}
	if u.ReconnectInitial <= 0 || u.ReconnectMax < u.ReconnectInitial {
		problems = append(problems, "UPSTREAM_RECONNECT_INITIAL must be positive and not exceed UPSTREAM_RECONNECT_MAX")
	}
	if u.SyntheticInterval <= 0 {
		problems = append(problems, "SYNTHETIC_EVENT_INTERVAL must be positive")
	}
	if u.SyntheticConnectedFactor < 1 {
		problems = append(problems, "SYNTHETIC_CONNECTED_FACTOR must be at least 1")
	}

	s := c.Socket
	if s.IdleTimeout <= 0 || s.PingInterval <= 0 || s.HandshakeTimeout <= 0 {
		problems = append(problems, "WS_IDLE_TIMEOUT, WS_PING_INTERVAL and WS_HANDSHAKE_TIMEOUT must be positive")
	}
	if s.MaxMessageSize <= 0 {
		problems = append(problems, "WS_MAX_MESSAGE_SIZE must be positive")
	}
	if s.SendBuffer <= 0 {
		problems = append(problems, "WS_SEND_BUFFER must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// BaseURL is the https origin of the camera console
func (p ProtectConfig) BaseURL() string {
	if p.Port == 443 {
		return "https://" + p.Host
	}
	return fmt.Sprintf("https://%s:%d", p.Host, p.Port)
}
