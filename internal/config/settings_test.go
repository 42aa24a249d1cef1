package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestSettingsFromEnv_Defaults(t *testing.T) {
	s, err := SettingsFromEnv(mapLookup(nil))
	require.NoError(t, err)

	assert.Equal(t, "/config", s.ConfigDir)
	assert.Equal(t, "/config/custom_components/tapo_p105/bin/tapo2", s.HelperPath)
	assert.Equal(t, 2*time.Minute, s.PollInterval)
	assert.Equal(t, 10*time.Second, s.HelperTimeout)
	assert.Equal(t, 8081, s.HTTPPort)
	assert.Equal(t, "homeassistant", s.MQTTDiscoveryPrefix)
	assert.Equal(t, "info", s.LogLevel)
	assert.False(t, s.ReadOnly)
	assert.False(t, s.HAEnabled())
	assert.False(t, s.MQTTEnabled())
}

func TestSettingsFromEnv_Overrides(t *testing.T) {
	s, err := SettingsFromEnv(mapLookup(map[string]string{
		"HA_URL":        "wss://ha.local/api/websocket",
		"HA_TOKEN":      "token",
		"READ_ONLY":     "true",
		"CONFIG_DIR":    "/data",
		"TAPO_HELPER":   "/usr/local/bin/tapo2",
		"POLL_INTERVAL": "30s",
		"HTTP_PORT":     "9000",
		"MQTT_BROKER":   "tcp://mqtt:1883",
		"LOG_LEVEL":     "DEBUG",
	}))
	require.NoError(t, err)

	assert.True(t, s.HAEnabled())
	assert.True(t, s.ReadOnly)
	assert.Equal(t, "/usr/local/bin/tapo2", s.HelperPath)
	assert.Equal(t, 30*time.Second, s.PollInterval)
	assert.Equal(t, 9000, s.HTTPPort)
	assert.True(t, s.MQTTEnabled())
	assert.Equal(t, "debug", s.LogLevel)
}

func TestSettingsFromEnv_Errors(t *testing.T) {
	tests := map[string]map[string]string{
		"bad interval":      {"POLL_INTERVAL": "soon"},
		"zero interval":     {"POLL_INTERVAL": "0s"},
		"bad timeout":       {"HELPER_TIMEOUT": "x"},
		"bad port":          {"HTTP_PORT": "eighty"},
		"token without url": {"HA_TOKEN": "t"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := SettingsFromEnv(mapLookup(env))
			assert.Error(t, err)
		})
	}
}

func TestLoadSettings_DotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TAPO_TEST_ONLY=1\nPOLL_INTERVAL=45s\n"), 0644))

	// godotenv does not override variables that are already set.
	t.Setenv("HTTP_PORT", "9100")
	t.Cleanup(func() {
		os.Unsetenv("TAPO_TEST_ONLY")
		os.Unsetenv("POLL_INTERVAL")
	})
	os.Unsetenv("POLL_INTERVAL")

	logger, _ := zap.NewDevelopment()
	s, err := LoadSettings(logger, envFile)
	require.NoError(t, err)

	assert.Equal(t, "1", os.Getenv("TAPO_TEST_ONLY"))
	assert.Equal(t, 45*time.Second, s.PollInterval)
	assert.Equal(t, 9100, s.HTTPPort)
}
