package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Board    BoardConfig    `mapstructure:"board"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int           `mapstructure:"port"`
	CookieDomain   string        `mapstructure:"cookie_domain"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	MaxInFlight    int64         `mapstructure:"max_in_flight"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	Bucket           string `mapstructure:"bucket"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 描述令牌签名密钥与登录保护参数。
type AuthConfig struct {
	PrivateKeyPEM         string        `mapstructure:"private_key_pem"`
	PublicKeyPEM          string        `mapstructure:"public_key_pem"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	ActivationTTL         time.Duration `mapstructure:"activation_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
}

// BoardConfig 控制列表分页、评论限流与图片上传。
type BoardConfig struct {
	PageSize           int           `mapstructure:"page_size"`
	LatestCount        int           `mapstructure:"latest_count"`
	CommentRatePerHour int           `mapstructure:"comment_rate_per_hour"`
	MaxUploadBytes     int64         `mapstructure:"max_upload_bytes"`
	AllowedImageTypes  []string      `mapstructure:"allowed_image_types"`
	ClamdAddr          string        `mapstructure:"clamd_addr"`
	PresignTTL         time.Duration `mapstructure:"presign_ttl"`
	RubricCacheTTL     time.Duration `mapstructure:"rubric_cache_ttl"`
	SiteURL            string        `mapstructure:"site_url"`
	CaptchaTTL         time.Duration `mapstructure:"captcha_ttl"`
	CaptchaLength      int           `mapstructure:"captcha_length"`
}

// NotifyConfig 描述通知网关（队列 + SMTP）。
type NotifyConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetry     int           `mapstructure:"max_retry"`
	SMTPHost     string        `mapstructure:"smtp_host"`
	SMTPPort     int           `mapstructure:"smtp_port"`
	SMTPUser     string        `mapstructure:"smtp_user"`
	SMTPPassword string        `mapstructure:"smtp_password"`
	From         string        `mapstructure:"from"`
}

// WorkerConfig contains asynq consumer settings.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Board.AllowedImageTypes = splitList(cfg.Board.AllowedImageTypes)
	cfg.API.AllowedOrigins = splitList(cfg.API.AllowedOrigins)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.idle_timeout", 60*time.Second)
	v.SetDefault("api.rate_limit_rps", 200)
	v.SetDefault("api.rate_limit_burst", 400)
	v.SetDefault("api.max_in_flight", 300)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "bboard")
	v.SetDefault("database.user", "bboard")
	v.SetDefault("database.password", "bboard")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.bucket", "bboard-media")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.activation_ttl", 72*time.Hour)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("board.page_size", 2)
	v.SetDefault("board.latest_count", 10)
	v.SetDefault("board.comment_rate_per_hour", 30)
	v.SetDefault("board.max_upload_bytes", 5*1024*1024)
	v.SetDefault("board.allowed_image_types", []string{"image/png", "image/jpeg", "image/webp", "image/gif"})
	v.SetDefault("board.presign_ttl", 15*time.Minute)
	v.SetDefault("board.rubric_cache_ttl", 10*time.Minute)
	v.SetDefault("board.site_url", "http://localhost:8080")
	v.SetDefault("board.captcha_ttl", 10*time.Minute)
	v.SetDefault("board.captcha_length", 6)
	v.SetDefault("notify.timeout", 3*time.Second)
	v.SetDefault("notify.max_retry", 5)
	v.SetDefault("notify.smtp_port", 25)
	v.SetDefault("notify.from", "noreply@bboard.local")
	v.SetDefault("worker.concurrency", 10)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                       "API_PORT",
		"api.cookie_domain":              "API_COOKIE_DOMAIN",
		"api.allowed_origins":            "API_ALLOWED_ORIGINS",
		"api.read_timeout":               "API_READ_TIMEOUT",
		"api.write_timeout":              "API_WRITE_TIMEOUT",
		"api.idle_timeout":               "API_IDLE_TIMEOUT",
		"api.rate_limit_rps":             "API_RATE_LIMIT_RPS",
		"api.rate_limit_burst":           "API_RATE_LIMIT_BURST",
		"api.max_in_flight":              "API_MAX_IN_FLIGHT",
		"database.host":                  "DATABASE_HOST",
		"database.port":                  "DATABASE_PORT",
		"database.name":                  "POSTGRES_DB",
		"database.user":                  "POSTGRES_USER",
		"database.password":              "POSTGRES_PASSWORD",
		"database.sslmode":               "DATABASE_SSLMODE",
		"redis.host":                     "REDIS_HOST",
		"redis.port":                     "REDIS_PORT",
		"minio.endpoint":                 "MINIO_ENDPOINT",
		"minio.public_endpoint":          "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":            "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":        "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                  "MINIO_USE_SSL",
		"minio.region":                   "MINIO_REGION",
		"minio.bucket_lookup":            "MINIO_BUCKET_LOOKUP",
		"minio.bucket":                   "MINIO_BUCKET",
		"minio.auto_create_bucket":       "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_pem":           "AUTH_PRIVATE_KEY_PEM",
		"auth.public_key_pem":            "AUTH_PUBLIC_KEY_PEM",
		"auth.access_token_ttl":          "AUTH_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":         "AUTH_REFRESH_TOKEN_TTL",
		"auth.activation_ttl":            "AUTH_ACTIVATION_TTL",
		"auth.login_rate_limit_per_hour": "AUTH_LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":      "AUTH_LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":            "AUTH_LOGIN_LOCK_TTL",
		"board.page_size":                "BOARD_PAGE_SIZE",
		"board.latest_count":             "BOARD_LATEST_COUNT",
		"board.comment_rate_per_hour":    "BOARD_COMMENT_RATE_PER_HOUR",
		"board.max_upload_bytes":         "BOARD_MAX_UPLOAD_BYTES",
		"board.allowed_image_types":      "BOARD_ALLOWED_IMAGE_TYPES",
		"board.clamd_addr":               "CLAMD_ADDR",
		"board.presign_ttl":              "BOARD_PRESIGN_TTL",
		"board.rubric_cache_ttl":         "BOARD_RUBRIC_CACHE_TTL",
		"board.site_url":                 "BOARD_SITE_URL",
		"board.captcha_ttl":              "BOARD_CAPTCHA_TTL",
		"board.captcha_length":           "BOARD_CAPTCHA_LENGTH",
		"notify.timeout":                 "NOTIFY_TIMEOUT",
		"notify.max_retry":               "NOTIFY_MAX_RETRY",
		"notify.smtp_host":               "SMTP_HOST",
		"notify.smtp_port":               "SMTP_PORT",
		"notify.smtp_user":               "SMTP_USER",
		"notify.smtp_password":           "SMTP_PASSWORD",
		"notify.from":                    "NOTIFY_FROM",
		"worker.concurrency":             "WORKER_CONCURRENCY",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// splitList 兼容环境变量中以逗号分隔的列表。
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Board.PageSize <= 0 {
		return errors.New("board page size must be positive")
	}
	if cfg.Board.LatestCount <= 0 {
		return errors.New("board latest count must be positive")
	}
	if cfg.Board.CaptchaLength <= 0 {
		return errors.New("board captcha length must be positive")
	}
	if cfg.Notify.Timeout <= 0 {
		return errors.New("notify timeout must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
