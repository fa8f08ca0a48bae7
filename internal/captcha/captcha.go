// Package captcha 为匿名评论提供一次性的数字验证码，答案保存在 Redis 中。
package captcha

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dchest/captcha"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "captcha:"

// ErrNotFound 表示验证码不存在或已过期。
var ErrNotFound = errors.New("captcha not found")

// Commands 是 Store 用到的 Redis 命令子集，*redis.Client 满足该接口。
type Commands interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// Store 签发、渲染并校验验证码。
type Store struct {
	rdb    Commands
	ttl    time.Duration
	length int
}

// NewStore 创建 Store。
func NewStore(rdb Commands, ttl time.Duration, length int) *Store {
	if length <= 0 {
		length = captcha.DefaultLen
	}
	return &Store{rdb: rdb, ttl: ttl, length: length}
}

// Issue 生成新的验证码并返回其 ID。
func (s *Store) Issue(ctx context.Context) (string, error) {
	id := uuid.NewString()
	digits := captcha.RandomDigits(s.length)
	if err := s.rdb.Set(ctx, keyPrefix+id, encode(digits), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store captcha: %w", err)
	}
	return id, nil
}

// Verify 校验答案，无论结果如何验证码都会被删除。
func (s *Store) Verify(ctx context.Context, id, answer string) (bool, error) {
	want, err := s.rdb.GetDel(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load captcha: %w", err)
	}
	return want == normalize(answer), nil
}

// WriteImage 将验证码渲染为 PNG 写入 w。
func (s *Store) WriteImage(ctx context.Context, w io.Writer, id string, width, height int) error {
	value, err := s.rdb.Get(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load captcha: %w", err)
	}
	if width <= 0 || height <= 0 {
		width, height = captcha.StdWidth, captcha.StdHeight
	}
	if _, err := captcha.NewImage(id, decode(value), width, height).WriteTo(w); err != nil {
		return fmt.Errorf("render captcha: %w", err)
	}
	return nil
}

func encode(digits []byte) string {
	var b strings.Builder
	for _, d := range digits {
		b.WriteByte('0' + d)
	}
	return b.String()
}

func decode(value string) []byte {
	digits := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		digits = append(digits, value[i]-'0')
	}
	return digits
}

func normalize(answer string) string {
	var b strings.Builder
	for _, r := range answer {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
