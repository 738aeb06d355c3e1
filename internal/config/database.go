package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/visitpay/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/visitpay/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// Database is an opened store together with its lifecycle hooks.
type Database struct {
	Store   ledger.Store
	Ping    func(ctx context.Context) error
	Migrate func(ctx context.Context) error
	Close   func() error
}

// OpenDatabase opens the configured store driver.
func OpenDatabase(ctx context.Context, cfg *Config) (*Database, error) {
	if cfg.StoreDriver == StoreDriverPgx {
		return openPgx(ctx, cfg.DatabaseURL)
	}
	return openGorm(ctx, cfg.DatabaseURL)
}

func openPgx(ctx context.Context, dsn string) (*Database, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	store := pgstore.New(pool)
	return &Database{
		Store: store,
		Ping:  store.Ping,
		Migrate: func(ctx context.Context) error {
			return pgstore.Migrate(ctx, pool)
		},
		Close: func() error {
			pool.Close()
			return nil
		},
	}, nil
}

func openGorm(ctx context.Context, dsn string) (*Database, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, err
	}
	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	}
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == driverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY under concurrent transactions.
		sqlDB.SetMaxOpenConns(1)
	}
	return &Database{
		Store: gormstore.New(db.WithContext(ctx)),
		Ping:  sqlDB.PingContext,
		Migrate: func(ctx context.Context) error {
			return gormstore.AutoMigrate(db.WithContext(ctx))
		},
		Close: sqlDB.Close,
	}, nil
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func resolveDriver(dsn string) (string, string, error) {
	if isPostgresURL(dsn) {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "visitpay.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
