// filepath: internal/repository/sqlite.go
package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"runtime"

	"jellyswarrm/internal/db/migrations"
	"jellyswarrm/internal/logging"

	"github.com/Masterminds/squirrel"
	cache "github.com/patrickmn/go-cache"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteRepository is the sole Repository implementation. It owns the
// connection pool, a query builder for dynamic WHERE clauses (the
// federated engine's merged-library filters), and a short-TTL cache
// fronting the hottest lookup: session token -> AuthorizationSession.
type SQLiteRepository struct {
	DB      *sql.DB
	Cache   *cache.Cache
	Builder squirrel.StatementBuilderType
	fs      embed.FS
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if necessary) the SQLite file at
// path and configures the connection pool per spec §5: sized to twice the
// worker count, since the DB is the only place the request path may
// briefly wait on a lock.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	maxConns := runtime.GOMAXPROCS(0) * 2
	if maxConns < 4 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)

	return &SQLiteRepository{
		DB:      db,
		Cache:   cache.New(cache.NoExpiration, cache.NoExpiration),
		Builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		fs:      migrations.FS,
	}, nil
}

func (s *SQLiteRepository) Close() error {
	return s.DB.Close()
}

// MigrateUp applies every pending forward migration.
func (s *SQLiteRepository) MigrateUp() error {
	goose.SetBaseFS(s.fs)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(s.DB, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	logging.Log.Info("database migrated to latest schema version")
	return nil
}

// MigrateDown rolls back exactly one migration. Used only by the `migrate
// down` CLI subcommand, never on the serve path.
func (s *SQLiteRepository) MigrateDown() error {
	goose.SetBaseFS(s.fs)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.Down(s.DB, ".")
}
