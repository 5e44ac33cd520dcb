// Package relay implements the store-and-forward server that ferries opaque
// document blobs between devices sharing a DocumentID.
package relay

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Host      string `validate:"required"`
	Port      int    `validate:"min=0,max=65535"`
	DBPath    string `validate:"required"`
	LogLevel  string `validate:"oneof=trace debug info warn error"`
	WebSocket WebSocketConfig
}

type WebSocketConfig struct {
	MaxMessageSize int64         `validate:"gt=0"`
	WriteWait      time.Duration `validate:"gt=0"`
	PongWait       time.Duration `validate:"gt=0"`
	PingPeriod     time.Duration `validate:"gt=0,ltfield=PongWait"`
	SendBuffer     int           `validate:"gt=0"`
}

// DefaultConfig returns the settings used when no environment is set
func DefaultConfig() Config {
	return Config{
		Host:     "0.0.0.0",
		Port:     8787,
		DBPath:   "relay.db",
		LogLevel: "info",
		WebSocket: WebSocketConfig{
			MaxMessageSize: 10 << 20,
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingPeriod:     54 * time.Second,
			SendBuffer:     64,
		},
	}
}

// LoadConfig reads the relay settings from the environment, after loading a
// .env file from the working directory if one exists.
func LoadConfig() (Config, error) {
	godotenv.Load()

	cfg := DefaultConfig()
	var err error

	cfg.Host = getEnv("RELAY_HOST", cfg.Host)
	cfg.DBPath = getEnv("RELAY_DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("RELAY_LOG_LEVEL", cfg.LogLevel)

	if cfg.Port, err = getEnvAsInt("RELAY_PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	if cfg.WebSocket.SendBuffer, err = getEnvAsInt("WS_SEND_BUFFER", cfg.WebSocket.SendBuffer); err != nil {
		return Config{}, err
	}
	maxSize, err := getEnvAsInt("WS_MAX_MESSAGE_SIZE", int(cfg.WebSocket.MaxMessageSize))
	if err != nil {
		return Config{}, err
	}
	cfg.WebSocket.MaxMessageSize = int64(maxSize)

	if cfg.WebSocket.WriteWait, err = getEnvAsDuration("WS_WRITE_WAIT", cfg.WebSocket.WriteWait); err != nil {
		return Config{}, err
	}
	if cfg.WebSocket.PongWait, err = getEnvAsDuration("WS_PONG_WAIT", cfg.WebSocket.PongWait); err != nil {
		return Config{}, err
	}
	if cfg.WebSocket.PingPeriod, err = getEnvAsDuration("WS_PING_PERIOD", cfg.WebSocket.PingPeriod); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges. PingPeriod must be shorter than PongWait.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid relay config: %w", err)
	}
	return nil
}

// Addr is the listen address
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
