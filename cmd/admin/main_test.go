package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"bboard/internal/auth"
	"bboard/internal/board"
	"bboard/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func TestCreateStaff(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	password, err := createStaff(ctx, db, "  root ", "root@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, password)

	var user database.User
	require.NoError(t, db.Where("username = ?", "root").First(&user).Error)
	assert.True(t, user.IsStaff)
	assert.True(t, user.IsActive)
	assert.True(t, user.IsActivated)
	assert.True(t, user.MustChangePassword)
	assert.True(t, auth.CheckPasswordHash(password, user.PasswordHash))

	_, err = createStaff(ctx, db, "root", "")
	assert.ErrorContains(t, err, "already exists")

	_, err = createStaff(ctx, db, " ", "")
	assert.Error(t, err)
}

func TestCreateRubric(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	general, err := createRubric(ctx, db, "Electronics", "", 1)
	require.NoError(t, err)
	assert.Nil(t, general.ParentID)

	sub, err := createRubric(ctx, db, "Phones", "Electronics", 0)
	require.NoError(t, err)
	require.NotNil(t, sub.ParentID)
	assert.Equal(t, general.ID, *sub.ParentID)

	_, err = createRubric(ctx, db, "Laptops", "Missing", 0)
	assert.ErrorContains(t, err, "not found")

	// 子类不能再挂子类。
	_, err = createRubric(ctx, db, "Android", "Phones", 0)
	assert.ErrorContains(t, err, "not found")

	_, err = createRubric(ctx, db, "Phones", "Electronics", 0)
	var verr *board.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "name")
}

func TestDatabaseConfig(t *testing.T) {
	env := map[string]string{
		"POSTGRES_DB":       "board",
		"POSTGRES_USER":     "board",
		"POSTGRES_PASSWORD": "secret",
		"DATABASE_PORT":     "6543",
	}
	getenv := func(k string) string { return env[k] }

	cfg, err := databaseConfig(dbFlags{host: "db.internal"}, getenv)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)

	cfg, err = databaseConfig(dbFlags{port: 5433, name: "other"}, getenv)
	require.NoError(t, err)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "other", cfg.Name)
	assert.Equal(t, "localhost", cfg.Host)

	delete(env, "POSTGRES_PASSWORD")
	_, err = databaseConfig(dbFlags{}, getenv)
	assert.ErrorContains(t, err, "password")

	env["POSTGRES_PASSWORD"] = "secret"
	env["DATABASE_PORT"] = "x"
	_, err = databaseConfig(dbFlags{}, getenv)
	assert.Error(t, err)
}
