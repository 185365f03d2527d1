package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
db:
  driver: postgres
  dsn: postgres://file
auth:
  jwtSecret: from-file
ws:
  sendBuffer: 8
  pingInterval: 5s
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	err = applyEnv(cfg, envMap(map[string]string{
		"PORT":         "7000",
		"DB_DSN":       "postgres://env",
		"LOG_DEBUG":    "true",
		"DEBUG_ROUTES": "1",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "postgres://env", cfg.DB.DSN)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 8, cfg.WS.SendBuffer)
	assert.Equal(t, 5*time.Second, cfg.WS.PingInterval)
	assert.True(t, cfg.Logging.Debug)
	assert.True(t, cfg.DebugRoutes)
	assert.Equal(t, "im.events", cfg.AMQP.Exchange)
}

func TestValidateDefaults(t *testing.T) {
	cfg := &Config{DB: DB{Driver: DriverMemory}, Auth: Auth{JWTSecret: "s"}}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8083", cfg.HTTP.Addr)
	assert.Equal(t, 64, cfg.WS.SendBuffer)
	assert.Equal(t, 30*time.Second, cfg.WS.PingInterval)
	assert.Equal(t, 40, cfg.WS.Burst)
}

func TestValidateErrors(t *testing.T) {
	cfg := &Config{Auth: Auth{JWTSecret: "s"}}
	assert.ErrorContains(t, cfg.Validate(), "db.dsn")

	cfg = &Config{DB: DB{Driver: "mysql"}, Auth: Auth{JWTSecret: "s"}}
	assert.ErrorContains(t, cfg.Validate(), "db.driver")

	cfg = &Config{DB: DB{Driver: DriverMemory}}
	assert.ErrorContains(t, cfg.Validate(), "jwtSecret")
}

func TestApplyEnvRejectsBadBool(t *testing.T) {
	err := applyEnv(&Config{}, envMap(map[string]string{"LOG_DEBUG": "maybe"}))
	assert.ErrorContains(t, err, "LOG_DEBUG")
}

func TestHTTPAddrWinsOverPort(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, applyEnv(cfg, envMap(map[string]string{"PORT": "1", "HTTP_ADDR": "127.0.0.1:2"})))
	assert.Equal(t, "127.0.0.1:2", cfg.HTTP.Addr)
}
