package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, BrokerLocal, cfg.Broker.Kind)
	assert.Equal(t, AuthJWT, cfg.Auth.Mode)
	assert.Equal(t, []string{"*"}, cfg.WS.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.WS.MaxMessageSize)
	assert.Equal(t, 256, cfg.WS.SendBuffer)
	assert.Equal(t, 54*time.Second, cfg.WS.PingInterval)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("BROKER", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WS_SEND_BUFFER", "8")
	t.Setenv("WS_PONG_WAIT", "30s")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, BrokerRedis, cfg.Broker.Kind)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Broker.RedisURL)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WS.AllowedOrigins)
	assert.Equal(t, 8, cfg.WS.SendBuffer)
	assert.Equal(t, 30*time.Second, cfg.WS.PongWait)
	assert.Equal(t, 27*time.Second, cfg.WS.PingInterval)
}

func TestLoadFromFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\nauth_mode: grpc\nlog_level: debug\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("port", "", "")
	require.NoError(t, flags.Parse([]string{"--port=7100"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "7100", cfg.Port)
	assert.Equal(t, AuthGRPC, cfg.Auth.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestSanitizeReplacesInvalidValues(t *testing.T) {
	cfg := sanitize(Config{
		Database:     DatabaseConfig{Driver: "mysql"},
		Broker:       BrokerConfig{Kind: "kafka"},
		Auth:         AuthConfig{Mode: "basic"},
		MediaBaseURL: "not a url",
		WS:           WSConfig{MaxMessageSize: -1, PingInterval: time.Minute, PongWait: time.Second},
	})

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, BrokerLocal, cfg.Broker.Kind)
	assert.Equal(t, AuthJWT, cfg.Auth.Mode)
	assert.Empty(t, cfg.MediaBaseURL)
	assert.Equal(t, int64(4096), cfg.WS.MaxMessageSize)
	assert.Less(t, cfg.WS.PingInterval, cfg.WS.PongWait)
	assert.Len(t, cfg.Warnings, 4)
}

func TestValidateProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("BROKER", "amqp")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
	assert.Contains(t, err.Error(), "JWT_SIGNING_KEY")
	assert.Contains(t, err.Error(), "AMQP_URL")
}
