// Command admin 是运维用的命令行：创建初始员工账号、预置分类树。
//
//	admin staff  --username alice [--email alice@example.com]
//	admin rubric --name Phones --parent Electronics [--order 1]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"bboard/internal/auth"
	"bboard/internal/board"
	"bboard/internal/config"
	"bboard/internal/database"
)

const usage = `usage:
  admin staff  --username NAME [--email EMAIL]
  admin rubric --name NAME [--parent GENERAL] [--order N]
database flags (--db-host, --db-port, --db-name, --db-user, --db-password, --db-sslmode)
fall back to DATABASE_HOST, DATABASE_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, DATABASE_SSLMODE.`

type dbFlags struct {
	host, name, user, password, sslmode string
	port                                int
}

func (f *dbFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.host, "db-host", "", "数据库 Host")
	fs.IntVar(&f.port, "db-port", 0, "数据库 Port")
	fs.StringVar(&f.name, "db-name", "", "数据库名")
	fs.StringVar(&f.user, "db-user", "", "数据库用户")
	fs.StringVar(&f.password, "db-password", "", "数据库密码")
	fs.StringVar(&f.sslmode, "db-sslmode", "", "数据库 SSLMODE")
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "staff":
		err = runStaff(os.Args[2:])
	case "rubric":
		err = runRubric(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runStaff(args []string) error {
	fs := flag.NewFlagSet("staff", flag.ExitOnError)
	username := fs.String("username", "", "员工用户名（必填）")
	email := fs.String("email", "", "员工邮箱")
	var dbf dbFlags
	dbf.register(fs)
	_ = fs.Parse(args)

	db, err := openDatabase(dbf)
	if err != nil {
		return err
	}
	password, err := createStaff(context.Background(), db, *username, *email)
	if err != nil {
		return err
	}

	fmt.Printf("已创建员工账号（首次登录需强制改密）：\n")
	fmt.Printf("用户名: %s\n", strings.TrimSpace(*username))
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：该密码仅显示一次。\n")
	return nil
}

func runRubric(args []string) error {
	fs := flag.NewFlagSet("rubric", flag.ExitOnError)
	name := fs.String("name", "", "分类名（必填）")
	parent := fs.String("parent", "", "所属大类名；为空时创建大类")
	order := fs.Int("order", 0, "排序值")
	var dbf dbFlags
	dbf.register(fs)
	_ = fs.Parse(args)

	db, err := openDatabase(dbf)
	if err != nil {
		return err
	}
	rubric, err := createRubric(context.Background(), db, *name, *parent, int16(*order))
	if err != nil {
		return err
	}
	fmt.Printf("已创建分类 #%d: %s\n", rubric.ID, *name)
	return nil
}

// createStaff 创建已激活的员工账号并返回一次性初始密码。
func createStaff(ctx context.Context, db *gorm.DB, username, email string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", errors.New("missing required flag: --username")
	}

	var existing database.User
	switch err := db.WithContext(ctx).Where("username = ?", username).First(&existing).Error; {
	case err == nil:
		return "", fmt.Errorf("user %q already exists", username)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return "", fmt.Errorf("query user: %w", err)
	}

	password, err := auth.GenerateRandomPassword(24)
	if err != nil {
		return "", err
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}

	user := database.User{
		Username:           username,
		Email:              strings.TrimSpace(email),
		PasswordHash:       hashed,
		IsActive:           true,
		IsActivated:        true,
		SendNotifications:  true,
		IsStaff:            true,
		MustChangePassword: true,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return password, nil
}

// createRubric 通过 RubricService 创建分类，沿用与接口相同的校验。
func createRubric(ctx context.Context, db *gorm.DB, name, parentName string, order int16) (*database.Rubric, error) {
	in := board.RubricInput{Name: name, Order: order}
	if parentName = strings.TrimSpace(parentName); parentName != "" {
		var parent database.Rubric
		err := db.WithContext(ctx).Where("name = ? AND parent_id IS NULL", parentName).First(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("general category %q not found", parentName)
		}
		if err != nil {
			return nil, fmt.Errorf("query parent: %w", err)
		}
		in.ParentID = &parent.ID
	}
	return board.NewRubricService(db).Create(ctx, in)
}

func openDatabase(f dbFlags) (*gorm.DB, error) {
	cfg, err := databaseConfig(f, os.Getenv)
	if err != nil {
		return nil, err
	}
	db, err := database.InitDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// databaseConfig 合并命令行参数与环境变量，参数优先。
func databaseConfig(f dbFlags, getenv func(string) string) (config.DatabaseConfig, error) {
	pick := func(flagValue, env, fallback string) string {
		if v := strings.TrimSpace(flagValue); v != "" {
			return v
		}
		if v := strings.TrimSpace(getenv(env)); v != "" {
			return v
		}
		return fallback
	}

	cfg := config.DatabaseConfig{
		Host:     pick(f.host, "DATABASE_HOST", "localhost"),
		Port:     f.port,
		Name:     pick(f.name, "POSTGRES_DB", ""),
		User:     pick(f.user, "POSTGRES_USER", ""),
		Password: pick(f.password, "POSTGRES_PASSWORD", ""),
		SSLMode:  pick(f.sslmode, "DATABASE_SSLMODE", "disable"),
	}
	if cfg.Port <= 0 {
		port, err := strconv.Atoi(pick("", "DATABASE_PORT", "5432"))
		if err != nil {
			return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
		}
		cfg.Port = port
	}

	switch {
	case cfg.Name == "":
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	case cfg.User == "":
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	case cfg.Password == "":
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}
	return cfg, nil
}
