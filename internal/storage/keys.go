package storage

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const imagePrefix = "ads/"

var extensionByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// NewImageKey 为用户上传的图片生成对象 key：ads/<owner>/<uuid>.<ext>。
func NewImageKey(ownerID uint, contentType string) string {
	ext, ok := extensionByType[contentType]
	if !ok {
		ext = ".bin"
	}
	return fmt.Sprintf("%s%d/%s%s", imagePrefix, ownerID, uuid.NewString(), ext)
}

// IsImageKey 判断 key 是否为本服务生成的图片 key。
func IsImageKey(key string) bool {
	if key == "" || !utf8.ValidString(key) || len(key) > 200 {
		return false
	}
	if !strings.HasPrefix(key, imagePrefix) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	lower := strings.ToLower(key)
	for _, ext := range extensionByType {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
