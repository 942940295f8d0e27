package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config lists the tunable parameters for the huntsync server.
type Config struct {
	RemoteURL       string
	AccessKey       string
	HTTPPort        int
	CallTimeout     time.Duration
	LogLevel        string
	LogFile         string
	MQTTBroker      string
	MQTTTopicPrefix string
	MDNS            bool
	InitSchema      bool
}

const (
	defaultHTTPPort        = 8080
	defaultCallTimeout     = 5 * time.Second
	defaultLogLevel        = "info"
	defaultMQTTTopicPrefix = "huntsync"
)

// ErrMissing is wrapped by Load for each required variable that is unset.
var ErrMissing = errors.New("required setting missing")

// DefaultEnvPaths are the .env locations LoadDotEnv tries in order.
var DefaultEnvPaths = []string{".env", "../.env", "../../.env"}

// LoadDotEnv loads the first .env file found among paths and returns its path, or ""
// if none exists. Variables already set in the environment are kept.
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = DefaultEnvPaths
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// Load derives configuration values from environment variables, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		RemoteURL:       os.Getenv("HUNTSYNC_REMOTE_URL"),
		AccessKey:       os.Getenv("HUNTSYNC_ACCESS_KEY"),
		HTTPPort:        defaultHTTPPort,
		CallTimeout:     defaultCallTimeout,
		LogLevel:        defaultLogLevel,
		LogFile:         os.Getenv("HUNTSYNC_LOG_FILE"),
		MQTTBroker:      os.Getenv("HUNTSYNC_MQTT_BROKER"),
		MQTTTopicPrefix: defaultMQTTTopicPrefix,
		InitSchema:      true,
	}

	var missing []error
	if cfg.RemoteURL == "" {
		missing = append(missing, fmt.Errorf("%w: HUNTSYNC_REMOTE_URL", ErrMissing))
	}
	if cfg.AccessKey == "" {
		missing = append(missing, fmt.Errorf("%w: HUNTSYNC_ACCESS_KEY", ErrMissing))
	}
	if len(missing) > 0 {
		return Config{}, errors.Join(missing...)
	}

	if v := os.Getenv("HUNTSYNC_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HUNTSYNC_HTTP_PORT: %w", err)
		}
		if port < 1 || port > 65535 {
			return Config{}, fmt.Errorf("invalid HUNTSYNC_HTTP_PORT: %d out of range", port)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("HUNTSYNC_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HUNTSYNC_CALL_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid HUNTSYNC_CALL_TIMEOUT: %s must be positive", v)
		}
		cfg.CallTimeout = d
	}

	if v := os.Getenv("HUNTSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("HUNTSYNC_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTTTopicPrefix = v
	}

	if v := os.Getenv("HUNTSYNC_MDNS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HUNTSYNC_MDNS: %w", err)
		}
		cfg.MDNS = b
	}

	if v := os.Getenv("HUNTSYNC_INIT_SCHEMA"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HUNTSYNC_INIT_SCHEMA: %w", err)
		}
		cfg.InitSchema = b
	}

	return cfg, nil
}
