package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/clubhouse/internal/club/service"
	"github.com/aussiebroadwan/clubhouse/internal/club/session"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"ENV", "PORT", "SESSION_STORE", "UPLOAD_STORAGE", "CLUB_BASE_URL", "SESSION_SECURE_COOKIE"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "http://localhost:8080", cfg.BaseURL)
	require.Equal(t, "memory", cfg.SessionStore)
	require.Equal(t, "local", cfg.UploadStorage)
	require.Equal(t, session.DefaultLifetime, cfg.SessionLifetime)
	require.Equal(t, service.DefaultMaxLoginAttempts, cfg.LoginMaxAttempts)
	require.Equal(t, service.DefaultLockout, cfg.LoginLockout)
	require.False(t, cfg.SessionSecure, "plain http cookies in dev")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("PORT", "9090")
	t.Setenv("CLUB_BASE_URL", "https://club.example/")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "3")
	t.Setenv("LOGIN_LOCKOUT", "30") // bare integers are minutes
	t.Setenv("SESSION_LIFETIME", "90m")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("UPLOAD_MAX_BYTES", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "https://club.example", cfg.BaseURL)
	require.Equal(t, "redis", cfg.SessionStore)
	require.Equal(t, 3, cfg.LoginMaxAttempts)
	require.Equal(t, 30*time.Minute, cfg.LoginLockout)
	require.Equal(t, 90*time.Minute, cfg.SessionLifetime)
	require.True(t, cfg.MinIOUseSSL)
	require.True(t, cfg.SessionSecure)
	require.EqualValues(t, 2<<20, cfg.UploadMaxBytes)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown session store", map[string]string{"SESSION_STORE": "memcached"}},
		{"unknown upload storage", map[string]string{"UPLOAD_STORAGE": "ftp"}},
		{"minio without endpoint", map[string]string{"UPLOAD_STORAGE": "minio", "MINIO_ENDPOINT": ""}},
		{"plain http base url in prod", map[string]string{"ENV": "prod", "CLUB_BASE_URL": "http://club.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestNewServesReadiness(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Env:                 "dev",
		LogLevel:            "error",
		LogFormat:           "text",
		DatabaseFile:        filepath.Join(dir, "club.db"),
		PepperFile:          filepath.Join(dir, "pepper"),
		SecretFile:          filepath.Join(dir, "secret.key"),
		BaseURL:             "http://localhost",
		SessionStore:        "memory",
		UploadStorage:       "local",
		UploadDir:           filepath.Join(dir, "uploads"),
		UploadMaxBytes:      1 << 20,
		ShutdownGracePeriod: time.Second,
	}

	application, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.close() })

	require.NotNil(t, application.housekeepingService.Sessions, "memory sessions are swept")
	require.Empty(t, application.readyChecks)
	require.Same(t, application.secrets, application.mfaService.Secrets)

	srv := httptest.NewServer(application.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "ok", body.Checks["database"])

	// The pepper is created once and reused.
	h1, err := NewHasher(cfg)
	require.NoError(t, err)
	require.Equal(t, application.hasher.Pepper, h1.Pepper)
}
