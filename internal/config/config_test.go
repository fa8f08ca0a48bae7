package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 2, cfg.Board.PageSize)
	assert.Equal(t, 6, cfg.Board.CaptchaLength)
	assert.Equal(t, 3*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, 72*time.Hour, cfg.Auth.ActivationTTL)
	assert.Equal(t, []string{"image/png", "image/jpeg", "image/webp", "image/gif"}, cfg.Board.AllowedImageTypes)
	assert.Empty(t, cfg.API.AllowedOrigins)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadReadsEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BOARD_PAGE_SIZE", "20")
	t.Setenv("BOARD_SITE_URL", "https://board.example")
	t.Setenv("API_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BOARD_ALLOWED_IMAGE_TYPES", "image/png")
	t.Setenv("NOTIFY_TIMEOUT", "5s")
	t.Setenv("POSTGRES_DB", "classifieds")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Board.PageSize)
	assert.Equal(t, "https://board.example", cfg.Board.SiteURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
	assert.Equal(t, []string{"image/png"}, cfg.Board.AllowedImageTypes)
	assert.Equal(t, 5*time.Second, cfg.Notify.Timeout)
	assert.Contains(t, cfg.Database.DSN(), "dbname=classifieds")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("missing minio credentials", func(t *testing.T) {
		t.Setenv("MINIO_ACCESS_KEY_ID", "")
		t.Setenv("MINIO_SECRET_ACCESS_KEY", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("non-positive page size", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("BOARD_PAGE_SIZE", "0")
		_, err := Load()
		assert.ErrorContains(t, err, "page size")
	})
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "", " c "}))
	assert.Empty(t, splitList(nil))
}
