package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	// ErrStore wraps every persistence failure.
	ErrStore = errors.New("alert store failure")
	// ErrNotFound is returned when no alert has the requested id.
	ErrNotFound = errors.New("alert not found")
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is the Alert Store over database/sql. Queries are written with '?'
// placeholders and rebound for PostgreSQL.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to driver ("postgres" or "sqlite") at dsn and checks the
// connection.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite path is empty")
		}
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // single writer; also keeps one :memory: database
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	logger.Info("Database connection established", zap.String("driver", driver))
	return &Store{db: db, driver: driver, logger: logger}, nil
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites '?' placeholders to $N for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
