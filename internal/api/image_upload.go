package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/minio/minio-go/v7"

	"bboard/internal/metrics"
	"bboard/internal/storage"
)

var (
	errImageTooLarge   = errors.New("image too large")
	errImageType       = errors.New("unsupported image type")
	errImageInfected   = errors.New("malicious file detected")
	errImageUnreadable = errors.New("image unreadable")
)

// ImageStorage 是广告图片存储，*storage.Client 满足该接口。
type ImageStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	RemoveImage(ctx context.Context, objectKey string) error
}

// Scanner 对上传内容做病毒扫描。
type Scanner interface {
	Scan(r io.Reader) error
}

// ClamdScanner 通过 clamd 的 INSTREAM 扫描上传内容。
type ClamdScanner struct {
	Addr string
}

// NewScanner 根据地址返回扫描器；未配置 clamd 时不扫描。
func NewScanner(addr string) Scanner {
	if addr == "" {
		return nil
	}
	return ClamdScanner{Addr: addr}
}

// Scan 实现 Scanner。
func (s ClamdScanner) Scan(r io.Reader) error {
	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := clamd.NewClamd(s.Addr).ScanStream(r, abortChan)
	if err != nil {
		metrics.UploadScan("error")
		return fmt.Errorf("scan stream: %w", err)
	}
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			metrics.UploadScan("infected")
			return errImageInfected
		}
	}
	metrics.UploadScan("clean")
	return nil
}

// imageUploader 校验、扫描并上传广告图片。
type imageUploader struct {
	storage  ImageStorage
	scanner  Scanner
	maxBytes int64
	allowed  []string
}

func (u *imageUploader) upload(ctx context.Context, ownerID uint, file *multipart.FileHeader) (string, error) {
	if u.maxBytes > 0 && file.Size > u.maxBytes {
		return "", errImageTooLarge
	}

	contentType, err := sniffContentType(file)
	if err != nil {
		return "", err
	}
	if !slices.Contains(u.allowed, contentType) {
		return "", errImageType
	}

	if u.scanner != nil {
		reader, err := file.Open()
		if err != nil {
			return "", errImageUnreadable
		}
		err = u.scanner.Scan(reader)
		reader.Close()
		if err != nil {
			return "", err
		}
	}

	reader, err := file.Open()
	if err != nil {
		return "", errImageUnreadable
	}
	defer reader.Close()

	objectKey := storage.NewImageKey(ownerID, contentType)
	if _, err := u.storage.UploadFile(ctx, objectKey, reader, file.Size, contentType); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return objectKey, nil
}

// uploadAll 依次上传，任一失败时回滚已上传的图片。
func (u *imageUploader) uploadAll(ctx context.Context, log *slog.Logger, ownerID uint, files []*multipart.FileHeader) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, file := range files {
		key, err := u.upload(ctx, ownerID, file)
		if err != nil {
			u.discard(ctx, log, keys)
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (u *imageUploader) discard(ctx context.Context, log *slog.Logger, keys []string) {
	for _, key := range keys {
		if err := u.storage.RemoveImage(ctx, key); err != nil {
			log.Warn("discard uploaded image failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

func sniffContentType(file *multipart.FileHeader) (string, error) {
	reader, err := file.Open()
	if err != nil {
		return "", errImageUnreadable
	}
	defer reader.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", errImageUnreadable
	}
	return http.DetectContentType(head[:n]), nil
}

// uploadFieldError 把上传错误转成字段错误文案；非上传类错误返回 false。
func uploadFieldError(err error) (string, bool) {
	switch {
	case errors.Is(err, errImageTooLarge):
		return "file is too large", true
	case errors.Is(err, errImageType):
		return "upload a valid image", true
	case errors.Is(err, errImageInfected):
		return "file rejected by virus scan", true
	case errors.Is(err, errImageUnreadable):
		return "file could not be read", true
	}
	return "", false
}
