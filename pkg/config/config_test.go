package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAPIConfig(t *testing.T) {
	c := DefaultAPIConfig()

	assert.Equal(t, ":3001", c.Addr)
	assert.Equal(t, "/api", c.BasePath)
	assert.Equal(t, DriverSQLite, c.DatabaseDriver)
	assert.Equal(t, 7*24*time.Hour, c.TokenTTL)
	assert.Equal(t, 10, c.BcryptCost)
	assert.False(t, c.AuthCheckUserExists)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:5174"}, c.CORSOrigins)
	require.NoError(t, c.Validate())
}

func TestLoadAPIConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "todolist.toml")
	content := `
base_path = "/v1"
jwt_secret = "from-file"
bcrypt_cost = 12
cors_origins = ["https://todo.example.com"]
auth_check_user_exists = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("TOKEN_TTL_HOURS", "24")

	c, err := LoadAPIConfig()
	require.NoError(t, err)

	assert.Equal(t, "/v1", c.BasePath)
	assert.Equal(t, "from-env", c.JWTSecret)
	assert.Equal(t, 12, c.BcryptCost)
	assert.Equal(t, 24*time.Hour, c.TokenTTL)
	assert.Equal(t, []string{"https://todo.example.com"}, c.CORSOrigins)
	assert.True(t, c.AuthCheckUserExists)
}

func TestLoadAPIConfig_BadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := LoadAPIConfig()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := DefaultAPIConfig()
	c.DatabaseDriver = "mysql"
	assert.Error(t, c.Validate())

	c = DefaultAPIConfig()
	c.JWTSecret = " "
	assert.Error(t, c.Validate())

	c = DefaultAPIConfig()
	c.BcryptCost = 2
	assert.Error(t, c.Validate())
}

func TestGetList(t *testing.T) {
	t.Setenv("TODO_TEST_LIST", " a, ,b ,c")
	assert.Equal(t, []string{"a", "b", "c"}, GetList("TODO_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, GetList("TODO_TEST_LIST_UNSET", []string{"x"}))
}

func TestGetDuration(t *testing.T) {
	t.Setenv("TODO_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, GetDuration("TODO_TEST_DURATION", time.Minute))

	t.Setenv("TODO_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, GetDuration("TODO_TEST_DURATION", time.Minute))
}

func TestLoadAPIConfig_FileTokenTTLKeepsMinutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todolist.toml")
	require.NoError(t, os.WriteFile(path, []byte(`token_ttl = "90m"`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	c, err := LoadAPIConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, c.TokenTTL)

	require.NoError(t, os.WriteFile(path, []byte(`token_ttl = "30m"`), 0o600))
	c, err = LoadAPIConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, c.TokenTTL)
}

func TestLoadAPIConfig_TokenTTLEnv(t *testing.T) {
	t.Setenv("TOKEN_TTL", "45m")
	c, err := LoadAPIConfig()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, c.TokenTTL)

	t.Setenv("TOKEN_TTL_HOURS", "2")
	t.Setenv("TOKEN_TTL", "")
	c, err = LoadAPIConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, c.TokenTTL)
}

func TestLoadAPIConfig_TrustedProxies(t *testing.T) {
	c, err := LoadAPIConfig()
	require.NoError(t, err)
	assert.Empty(t, c.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")
	c, err = LoadAPIConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, c.TrustedProxies)
}
