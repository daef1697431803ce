package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsbatch/internal/database/migrations"
)

const openTimeout = 5 * time.Second

// DB is the SQLite database holding the ingest run journal.
type DB struct {
	*sqlx.DB
}

// NewDB opens the journal database. A read-write handle creates the
// parent directory and brings the schema up to date; a read-only handle,
// as used by the API, does neither.
func NewDB(cfg *Config) (*DB, error) {
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	logger := log.With().Str("path", cfg.DBPath).Str("mode", mode(cfg.ReadOnly)).Logger()

	if !cfg.ReadOnly {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create journal directory: %w", err)
			}
		}
	}

	sqlDB, err := sqlx.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db := &DB{sqlDB}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	for _, pragma := range pragmas(cfg) {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.Warn().Err(err).Str("pragma", pragma).Msg("Journal PRAGMA not applied")
		}
	}

	if !cfg.ReadOnly {
		if err := db.migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal unreachable: %w", err)
	}

	logger.Info().Msg("Journal opened")
	return db, nil
}

// dsn enables WAL so the read API can list runs while an ingestion run
// records one.
func dsn(cfg *Config) string {
	s := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d", cfg.DBPath, cfg.BusyTimeoutMS)
	if cfg.ReadOnly {
		s += "&mode=ro"
	}
	return s
}

func pragmas(cfg *Config) []string {
	p := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
		"PRAGMA temp_store = MEMORY;",
	}
	if cfg.ReadOnly {
		return append(p, "PRAGMA query_only = ON;")
	}
	return p
}

func mode(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}

func (db *DB) migrate(ctx context.Context) error {
	steps, err := migrations.Load(migrations.Files)
	if err != nil {
		return err
	}
	if _, err := migrations.Up(ctx, db.DB, steps); err != nil {
		return fmt.Errorf("failed to upgrade journal schema: %w", err)
	}
	return nil
}

// Rollback reverts the n most recent journal schema versions.
func (db *DB) Rollback(ctx context.Context, n int) error {
	steps, err := migrations.Load(migrations.Files)
	if err != nil {
		return err
	}
	reverted, err := migrations.Down(ctx, db.DB, steps, n)
	log.Info().Int("reverted", reverted).Int("requested", n).Msg("Journal rollback finished")
	return err
}
