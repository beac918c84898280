package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/iamwavecut/forumwarden/resources"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Client struct {
	db     *sqlx.DB
	driver string
	mutex  sync.RWMutex
}

// NewSQLiteClient opens (and migrates) a sqlite database file inside dir.
func NewSQLiteClient(ctx context.Context, dir, name string) (*Client, error) {
	dsn := filepath.Join(dir, name) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return NewClient(ctx, DriverSQLite, dsn)
}

func NewClient(ctx context.Context, driver, dsn string) (*Client, error) {
	dialect, err := migrateDialect(driver)
	if err != nil {
		return nil, err
	}

	dbx, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		dbx.SetMaxOpenConns(1)
	} else {
		dbx.SetMaxOpenConns(16)
	}

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.ExecContext(ctx, dbx.DB, dialect, migrationsSource, migrate.Up)
	if err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	if n > 0 {
		log.WithField("driver", driver).Infof("applied %d migrations", n)
	}

	return &Client{db: dbx, driver: driver}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func migrateDialect(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite3", nil
	case DriverPostgres:
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", driver)
	}
}
