package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bboard/internal/database"
	"bboard/internal/notify"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, database.AutoMigrate(db), "migrate")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// eventLog 记录删除与清理的先后顺序。
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func recordDeletes(t *testing.T, db *gorm.DB, log *eventLog) {
	t.Helper()
	err := db.Callback().Delete().After("gorm:delete").Register("test:record_delete", func(tx *gorm.DB) {
		if tx.Error == nil {
			log.add("delete:" + tx.Statement.Table)
		}
	})
	require.NoError(t, err)
}

type fakeCleaner struct {
	log     *eventLog
	removed []string
	err     error
}

func (c *fakeCleaner) RemoveImage(_ context.Context, key string) error {
	c.removed = append(c.removed, key)
	if c.log != nil {
		c.log.add("cleanup:" + key)
	}
	return c.err
}

type fakeChallenge struct {
	issued  int
	answers map[string]string
}

func newFakeChallenge() *fakeChallenge {
	return &fakeChallenge{answers: map[string]string{}}
}

func (c *fakeChallenge) Issue(context.Context) (string, error) {
	c.issued++
	id := fmt.Sprintf("challenge-%d", c.issued)
	c.answers[id] = "123456"
	return id, nil
}

func (c *fakeChallenge) Verify(_ context.Context, id, answer string) (bool, error) {
	want, ok := c.answers[id]
	delete(c.answers, id)
	return ok && want == answer, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
	deadline bool
}

func (g *fakeGateway) Notify(ctx context.Context, msg notify.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, g.deadline = ctx.Deadline()
	g.messages = append(g.messages, msg)
	return g.err
}

var errGatewayDown = errors.New("smtp unreachable")

func seedUser(t *testing.T, db *gorm.DB, username string, sendNotifications bool) database.User {
	t.Helper()
	user := database.User{
		Username:          username,
		Email:             username + "@example.com",
		IsActive:          true,
		IsActivated:       true,
		SendNotifications: sendNotifications,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedRubric(t *testing.T, db *gorm.DB, name string, order int16, parent *database.Rubric) database.Rubric {
	t.Helper()
	rubric := database.Rubric{Name: name, Order: order}
	if parent != nil {
		rubric.ParentID = &parent.ID
	}
	require.NoError(t, db.Omit("Parent").Create(&rubric).Error)
	return rubric
}

type adSeed struct {
	title       string
	description string
	active      bool
	createdAt   time.Time
	images      []string
	primary     string
}

func seedAd(t *testing.T, db *gorm.DB, owner database.User, rubric database.Rubric, s adSeed) database.Ad {
	t.Helper()
	if s.description == "" {
		s.description = s.title + " for sale"
	}
	ad := database.Ad{
		RubricID:     rubric.ID,
		Title:        s.title,
		Description:  s.description,
		ContactInfo:  "call me",
		PrimaryImage: s.primary,
		OwnerID:      owner.ID,
		IsActive:     s.active,
		CreatedAt:    s.createdAt,
	}
	require.NoError(t, db.Omit("Rubric", "Owner", "Images", "Comments").Create(&ad).Error)
	for _, key := range s.images {
		require.NoError(t, db.Create(&database.AdditionalImage{AdID: ad.ID, ImageKey: key}).Error)
	}
	return ad
}

func titles(ads []database.Ad) []string {
	out := make([]string, 0, len(ads))
	for _, ad := range ads {
		out = append(out, ad.Title)
	}
	return out
}

func count(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}
