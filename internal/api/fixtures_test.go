package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bboard/internal/auth"
	"bboard/internal/captcha"
	"bboard/internal/config"
	"bboard/internal/database"
	"bboard/internal/notify"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type fakeStorage struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	removed  []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[objectName] = b
	return &minio.UploadInfo{Key: objectName}, nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://media.example.invalid/" + objectKey, nil
}

func (s *fakeStorage) RemoveImage(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func (s *fakeStorage) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.uploaded))
	for k := range s.uploaded {
		out = append(out, k)
	}
	return out
}

type fakeScanner struct{ infected bool }

func (f fakeScanner) Scan(r io.Reader) error {
	_, _ = io.Copy(io.Discard, r)
	if f.infected {
		return errImageInfected
	}
	return nil
}

// fakeCaptcha 的答案固定为 123456，校验一次后作废。
type fakeCaptcha struct {
	mu      sync.Mutex
	issued  int
	answers map[string]string
}

func newFakeCaptcha() *fakeCaptcha {
	return &fakeCaptcha{answers: map[string]string{}}
}

func (c *fakeCaptcha) Issue(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	id := fmt.Sprintf("challenge-%d", c.issued)
	c.answers[id] = "123456"
	return id, nil
}

func (c *fakeCaptcha) Verify(_ context.Context, id, answer string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want, ok := c.answers[id]
	delete(c.answers, id)
	return ok && want == answer, nil
}

func (c *fakeCaptcha) WriteImage(_ context.Context, w io.Writer, id string, _, _ int) error {
	c.mu.Lock()
	_, ok := c.answers[id]
	c.mu.Unlock()
	if !ok {
		return captcha.ErrNotFound
	}
	_, err := w.Write(pngHeader)
	return err
}

type fakeGateway struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (g *fakeGateway) Notify(_ context.Context, msg notify.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, msg)
	return g.err
}

func (g *fakeGateway) sent() []notify.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]notify.Message(nil), g.messages...)
}

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	auth    *auth.AuthService
	storage *fakeStorage
	captcha *fakeCaptcha
	gateway *fakeGateway
}

type serverOption func(*Deps)

func withScanner(s Scanner) serverOption {
	return func(d *Deps) { d.Scanner = s }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, database.AutoMigrate(db), "migrate")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	// 不可达的 Redis：计数器失败时按未超限处理。
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		API: config.APIConfig{},
		Auth: config.AuthConfig{
			LoginRateLimitPerHour: 100,
			LoginLockThreshold:    100,
			LoginLockTTL:          time.Minute,
		},
		Board: config.BoardConfig{
			PageSize:           2,
			LatestCount:        10,
			CommentRatePerHour: 100,
			MaxUploadBytes:     1 << 20,
			AllowedImageTypes:  []string{"image/png", "image/jpeg"},
			PresignTTL:         time.Minute,
			SiteURL:            "http://board.test",
		},
		Notify: config.NotifyConfig{Timeout: time.Second},
	}

	ts := &testServer{
		db:      db,
		auth:    newTestAuthService(t),
		storage: newFakeStorage(),
		captcha: newFakeCaptcha(),
		gateway: &fakeGateway{},
	}
	deps := Deps{
		Config:  cfg,
		DB:      db,
		Auth:    ts.auth,
		Redis:   rdb,
		Storage: ts.storage,
		Captcha: ts.captcha,
		Gateway: ts.gateway,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	ts.router = NewRouter(cfg, deps.Logger)
	RegisterRoutes(ts.router, deps)
	return ts
}

func newTestAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	svc, err := auth.NewAuthService(privatePEM, publicPEM, 15*time.Minute, 24*time.Hour, time.Hour)
	require.NoError(t, err)
	return svc
}

func (ts *testServer) token(t *testing.T, user database.User) string {
	t.Helper()
	pair, err := ts.auth.GenerateTokenPair(identityOf(user))
	require.NoError(t, err)
	return pair.AccessToken
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.serve(req, token)
}

func (ts *testServer) serve(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

type formFile struct {
	field   string
	name    string
	content []byte
}

func multipartRequest(t *testing.T, method, path string, fields map[string][]string, files ...formFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, values := range fields {
		for _, v := range values {
			require.NoError(t, writer.WriteField(name, v))
		}
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type userSeed struct {
	username  string
	active    bool
	activated bool
	staff     bool
	notify    bool
	password  string
	joined    time.Time
}

func seedUser(t *testing.T, db *gorm.DB, s userSeed) database.User {
	t.Helper()
	user := database.User{
		Username:          s.username,
		Email:             s.username + "@example.com",
		IsActive:          s.active,
		IsActivated:       s.activated,
		IsStaff:           s.staff,
		SendNotifications: s.notify,
		CreatedAt:         s.joined,
	}
	if s.password != "" {
		hashed, err := auth.HashPassword(s.password)
		require.NoError(t, err)
		user.PasswordHash = hashed
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func activeUser(t *testing.T, db *gorm.DB, username string) database.User {
	t.Helper()
	return seedUser(t, db, userSeed{username: username, active: true, activated: true, notify: true})
}

func seedRubric(t *testing.T, db *gorm.DB, name string, parent *database.Rubric) database.Rubric {
	t.Helper()
	rubric := database.Rubric{Name: name}
	if parent != nil {
		rubric.ParentID = &parent.ID
	}
	require.NoError(t, db.Omit("Parent").Create(&rubric).Error)
	return rubric
}

func seedAd(t *testing.T, db *gorm.DB, owner database.User, rubric database.Rubric, title string, active bool) database.Ad {
	t.Helper()
	ad := database.Ad{
		RubricID:    rubric.ID,
		Title:       title,
		Description: title + " for sale",
		ContactInfo: "call me",
		OwnerID:     owner.ID,
		IsActive:    active,
	}
	require.NoError(t, db.Omit("Rubric", "Owner", "Images", "Comments").Create(&ad).Error)
	return ad
}

func uintToString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
