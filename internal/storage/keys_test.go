package storage

import (
	"errors"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestNewImageKey(t *testing.T) {
	key := NewImageKey(7, "image/jpeg")
	assert.True(t, strings.HasPrefix(key, "ads/7/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	assert.True(t, IsImageKey(key))
	assert.NotEqual(t, key, NewImageKey(7, "image/jpeg"))
}

func TestIsImageKey(t *testing.T) {
	cases := map[string]bool{
		"ads/1/abc.png":       true,
		"ads/1/abc.WEBP":      true,
		"ads/1/abc.exe":       false,
		"ads/1/../secret.png": false,
		"ads//abc.png":        false,
		"other/1/abc.png":     false,
		"":                    false,
	}
	for key, want := range cases {
		assert.Equal(t, want, IsImageKey(key), key)
	}
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, IsNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, IsNoSuchKey(errors.New("The specified key does not exist.")))
	assert.False(t, IsNoSuchKey(errors.New("access denied")))
	assert.False(t, IsNoSuchKey(nil))
}
