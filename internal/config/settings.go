package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tapop105/internal/coordinator"
	"tapop105/internal/tapocli"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Defaults for settings not present in the environment.
const (
	DefaultConfigDir       = "/config"
	DefaultHTTPPort        = 8081
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultLogLevel        = "info"
)

// Settings are the process-wide options read from the environment.
type Settings struct {
	HAURL    string
	HAToken  string
	ReadOnly bool

	ConfigDir     string
	HelperPath    string
	PollInterval  time.Duration
	HelperTimeout time.Duration
	HTTPPort      int

	MQTTBroker          string
	MQTTUsername        string
	MQTTPassword        string
	MQTTDiscoveryPrefix string

	LogLevel string
}

// HAEnabled reports whether a Home Assistant connection is configured.
func (s Settings) HAEnabled() bool {
	return s.HAURL != "" && s.HAToken != ""
}

// MQTTEnabled reports whether an MQTT broker is configured.
func (s Settings) MQTTEnabled() bool {
	return s.MQTTBroker != ""
}

// LoadSettings loads .env files into the environment, then reads Settings.
// Missing .env files are not an error.
func LoadSettings(logger *zap.Logger, envFiles ...string) (Settings, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}
	return SettingsFromEnv(os.LookupEnv)
}

// SettingsFromEnv builds Settings from lookup, applying defaults.
func SettingsFromEnv(lookup func(string) (string, bool)) (Settings, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	s := Settings{
		HAURL:               get("HA_URL", ""),
		HAToken:             get("HA_TOKEN", ""),
		ReadOnly:            get("READ_ONLY", "false") == "true",
		ConfigDir:           get("CONFIG_DIR", DefaultConfigDir),
		MQTTBroker:          get("MQTT_BROKER", ""),
		MQTTUsername:        get("MQTT_USERNAME", ""),
		MQTTPassword:        get("MQTT_PASSWORD", ""),
		MQTTDiscoveryPrefix: get("MQTT_DISCOVERY_PREFIX", DefaultDiscoveryPrefix),
		LogLevel:            strings.ToLower(get("LOG_LEVEL", DefaultLogLevel)),
	}
	s.HelperPath = get("TAPO_HELPER", tapocli.HelperPath(s.ConfigDir))

	var err error
	if s.PollInterval, err = time.ParseDuration(get("POLL_INTERVAL", coordinator.DefaultInterval.String())); err != nil {
		return Settings{}, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}
	if s.PollInterval <= 0 {
		return Settings{}, fmt.Errorf("invalid POLL_INTERVAL: must be positive")
	}
	if s.HelperTimeout, err = time.ParseDuration(get("HELPER_TIMEOUT", tapocli.DefaultTimeout.String())); err != nil {
		return Settings{}, fmt.Errorf("invalid HELPER_TIMEOUT: %w", err)
	}
	if s.HTTPPort, err = strconv.Atoi(get("HTTP_PORT", strconv.Itoa(DefaultHTTPPort))); err != nil {
		return Settings{}, fmt.Errorf("invalid HTTP_PORT: %w", err)
	}
	if (s.HAURL == "") != (s.HAToken == "") {
		return Settings{}, fmt.Errorf("HA_URL and HA_TOKEN must be set together")
	}

	return s, nil
}
