package server

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds the runtime settings of the hub service. Values come from the
// environment (optionally a .env file); Sanitize fills in anything missing
// so a zero configuration still yields a working dev server.
type Config struct {
	Addr           string        `env:"SERVER_ADDR,default=:8080"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	JWTSecret      string        `env:"JWT_SECRET"`
	BadgerPath     string        `env:"BADGER_FILEPATH,default=./data/messages"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	SendQueueSize  int           `env:"SEND_QUEUE_SIZE,default=256"`
	HistoryLimit   int           `env:"HISTORY_LIMIT,default=50"`
	RateBurst      int           `env:"RATE_LIMIT_BURST,default=10"`
	RateInterval   time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	PongWait       time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait      time.Duration `env:"WRITE_WAIT,default=10s"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE,default=10s"`
}

// LoadConfig reads .env if present, then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg.Sanitize()
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	return cfg, nil
}

// Sanitize replaces out-of-range values with defaults.
func (c *Config) Sanitize() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.HistoryLimit < 0 {
		c.HistoryLimit = 0
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 10
	}
	if c.RateInterval <= 0 {
		c.RateInterval = time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
}

// Origins splits the comma-separated allow-list.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// PingInterval derives the keepalive cadence from the pong window; pings
// must arrive comfortably before the read deadline expires.
func (c *Config) PingInterval() time.Duration {
	return c.PongWait * 9 / 10
}
