package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("env overrides defaults", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("FRIENDCHAT_DATABASE__DSN", "postgres://localhost/friendchat")
		t.Setenv("FRIENDCHAT_AUTH__JWT_SECRET", "secret")
		t.Setenv("FRIENDCHAT_REDIS__ADDR", "redis:6379")
		t.Setenv("FRIENDCHAT_FANOUT__HANDLER_TIMEOUT", "3s")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "postgres://localhost/friendchat", cfg.Database.DSN)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, 3*time.Second, cfg.Fanout.HandlerTimeout)
		assert.Equal(t, "users", cfg.Tables.Users, "expected default table name")
		assert.Equal(t, 32, cfg.Fanout.MaxConcurrency)
	})

	t.Run("file then env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := "database:\n  dsn: postgres://file/db\nauth:\n  jwt_secret: from-file\ntables:\n  friends: friendships\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		t.Setenv(ConfigPathEnvVar, path)
		t.Setenv("FRIENDCHAT_AUTH__JWT_SECRET", "from-env")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "postgres://file/db", cfg.Database.DSN)
		assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
		assert.Equal(t, "friendships", cfg.Tables.Friends)
	})

	t.Run("missing dsn is fatal", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("FRIENDCHAT_AUTH__JWT_SECRET", "secret")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DSN")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := defaultConfig()
		c.Database.DSN = "postgres://localhost/db"
		c.Auth.JWTSecret = "secret"
		return c
	}

	tcases := []struct {
		name   string
		mutate func(c *Config)
		err    bool
	}{
		{name: "valid", mutate: func(c *Config) {}, err: false},
		{name: "empty users table", mutate: func(c *Config) { c.Tables.Users = "" }, err: true},
		{name: "custom table names", mutate: func(c *Config) { c.Tables.Users = "app_users"; c.Tables.Friends = "friendships" }, err: false},
		{name: "table name with sql", mutate: func(c *Config) { c.Tables.Friends = "friends; drop table users" }, err: true},
		{name: "notify channel with quote", mutate: func(c *Config) { c.Changes.Channel = "chan'nel" }, err: true},
		{name: "empty push channel prefix", mutate: func(c *Config) { c.Push.ChannelPrefix = "" }, err: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.Fanout.MaxConcurrency = 0 }, err: true},
		{name: "zero handler timeout", mutate: func(c *Config) { c.Fanout.HandlerTimeout = 0 }, err: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, err: true},
		{name: "empty registry prefix", mutate: func(c *Config) { c.Registry.KeyPrefix = "" }, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func Test_envKey(t *testing.T) {
	assert.Equal(t, "redis.addr", envKey("FRIENDCHAT_REDIS__ADDR"))
	assert.Equal(t, "fanout.max_concurrency", envKey("FRIENDCHAT_FANOUT__MAX_CONCURRENCY"))
}
