package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentials(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dl.cfg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clearEnv unsets variables that would otherwise leak into the tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
		"SONGLAKE_AWS_KEY", "SONGLAKE_AWS_SECRET", "SONGLAKE_OUTPUT",
		"SONGLAKE_INPUT", "SONGLAKE_THREADS", "SONGLAKE_LOG_FORMAT",
		"SONGLAKE_WRITE_RETRIES", "SONGLAKE_HISTORY_RETENTION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(NewFlagSet("test"), []string{"--config", filepath.Join(t.TempDir(), "missing.cfg")})
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.InputRoot)
	assert.Equal(t, "output", cfg.OutputRoot)
	assert.Equal(t, 3, cfg.WriteRetries)
	assert.Equal(t, "songlake_history.db", cfg.HistoryPath)
	assert.Equal(t, 720*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.AWS.UseSSL)
	assert.Empty(t, cfg.AWS.KeyID)
	assert.Empty(t, cfg.Engine.DBPath)
}

func TestLoadPrecedence(t *testing.T) {
	cfgFile := writeCredentials(t, `
[AWS]
KEY = file-key
SECRET = file-secret
ENDPOINT = localhost:9000
USE_SSL = false
`)

	tests := []struct {
		name   string
		env    map[string]string
		args   []string
		assert func(t *testing.T, cfg Config)
	}{
		{
			name: "credentials file",
			assert: func(t *testing.T, cfg Config) {
				assert.Equal(t, "file-key", cfg.AWS.KeyID)
				assert.Equal(t, "file-secret", cfg.AWS.Secret)
				assert.Equal(t, "localhost:9000", cfg.AWS.Endpoint)
				assert.False(t, cfg.AWS.UseSSL)
			},
		},
		{
			name: "standard aws variables override the file",
			env:  map[string]string{"AWS_ACCESS_KEY_ID": "env-key", "AWS_SECRET_ACCESS_KEY": "env-secret"},
			assert: func(t *testing.T, cfg Config) {
				assert.Equal(t, "env-key", cfg.AWS.KeyID)
				assert.Equal(t, "env-secret", cfg.AWS.Secret)
			},
		},
		{
			name: "prefixed variables",
			env:  map[string]string{"SONGLAKE_INPUT": "/env/in", "SONGLAKE_THREADS": "4", "SONGLAKE_HISTORY_RETENTION": "24h"},
			assert: func(t *testing.T, cfg Config) {
				assert.Equal(t, "/env/in", cfg.InputRoot)
				assert.Equal(t, 4, cfg.Engine.Threads)
				assert.Equal(t, 24*time.Hour, cfg.HistoryRetention)
			},
		},
		{
			name: "flags override environment",
			env:  map[string]string{"SONGLAKE_INPUT": "/env/in"},
			args: []string{"--input", "/flag/in", "--aws-endpoint", "minio:9000"},
			assert: func(t *testing.T, cfg Config) {
				assert.Equal(t, "/flag/in", cfg.InputRoot)
				assert.Equal(t, "minio:9000", cfg.AWS.Endpoint)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			args := append([]string{"--config", cfgFile}, tt.args...)
			cfg, err := Load(NewFlagSet("test"), args)
			require.NoError(t, err)
			tt.assert(t, cfg)
		})
	}
}

func TestLoadValidation(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.cfg")

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{
			name:    "object store without credentials",
			args:    []string{"--output", "s3://lake/songs"},
			wantErr: ErrMissingCredentials,
		},
		{
			name:    "bad log format",
			args:    []string{"--log-format", "xml"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "zero retries",
			args:    []string{"--write-retries", "0"},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(NewFlagSet("test"), append([]string{"--config", missing}, tt.args...))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadObjectStoreWithCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("SONGLAKE_AWS_KEY", "k")
	t.Setenv("SONGLAKE_AWS_SECRET", "s")

	cfg, err := Load(NewFlagSet("test"), []string{
		"--config", filepath.Join(t.TempDir(), "missing.cfg"),
		"--output", "s3://lake/songs",
	})
	require.NoError(t, err)

	creds := cfg.Credentials()
	assert.Equal(t, "k", creds.AccessKeyID)
	assert.Equal(t, "s", creds.SecretAccessKey)
}

func TestLoadBadCredentialsFile(t *testing.T) {
	clearEnv(t)
	path := writeCredentials(t, "[AWS]\nUSE_SSL = maybe\n")

	_, err := Load(NewFlagSet("test"), []string{"--config", path})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
