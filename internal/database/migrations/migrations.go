// Package migrations evolves the schema of the ingest run journal.
//
// Each step is a pair of files named NNN_description.up.sql and
// NNN_description.down.sql. Applied versions are tracked in the
// schema_versions table of the journal database itself.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed *.sql
var Files embed.FS

const versionsDDL = `CREATE TABLE IF NOT EXISTS schema_versions (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Step is one versioned schema change.
type Step struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Load reads the steps in the root of fsys, ordered by version. Files that
// do not follow the naming scheme are ignored; a version without an up
// script is an error.
func Load(fsys fs.FS) ([]Step, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list journal migrations: %w", err)
	}

	byVersion := make(map[int]*Step)
	for _, file := range names {
		version, name, direction, ok := parseFileName(file)
		if !ok {
			log.Warn().Str("file", file).Msg("Ignoring journal migration with unexpected name")
			continue
		}
		script, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		step := byVersion[version]
		if step == nil {
			step = &Step{Version: version, Name: name}
			byVersion[version] = step
		}
		if direction == "up" {
			step.Up = string(script)
		} else {
			step.Down = string(script)
		}
	}

	steps := make([]Step, 0, len(byVersion))
	for _, step := range byVersion {
		if strings.TrimSpace(step.Up) == "" {
			return nil, fmt.Errorf("journal migration %03d_%s has no up script", step.Version, step.Name)
		}
		steps = append(steps, *step)
	}
	slices.SortFunc(steps, func(a, b Step) int { return a.Version - b.Version })
	return steps, nil
}

// parseFileName splits "001_ingest_runs.up.sql" into 1, "ingest_runs", "up".
func parseFileName(file string) (version int, name, direction string, ok bool) {
	stem, found := strings.CutSuffix(file, ".sql")
	if !found {
		return 0, "", "", false
	}
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return 0, "", "", false
	}
	stem, direction = stem[:dot], stem[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", false
	}
	num, name, found := strings.Cut(stem, "_")
	if !found {
		return 0, "", "", false
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", "", false
	}
	return version, name, direction, true
}

// Applied returns the versions recorded in schema_versions, oldest first.
func Applied(ctx context.Context, db *sqlx.DB) ([]int, error) {
	if _, err := db.ExecContext(ctx, versionsDDL); err != nil {
		return nil, fmt.Errorf("failed to create schema_versions: %w", err)
	}
	var versions []int
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_versions ORDER BY version`); err != nil {
		return nil, fmt.Errorf("failed to read schema_versions: %w", err)
	}
	return versions, nil
}

// Up applies every step newer than the journal's recorded versions and
// returns how many it applied. Each step runs in its own transaction.
func Up(ctx context.Context, db *sqlx.DB, steps []Step) (int, error) {
	done, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, step := range steps {
		if slices.Contains(done, step.Version) {
			continue
		}
		err := inTx(ctx, db, step.Up,
			`INSERT INTO schema_versions (version, name) VALUES (?, ?)`, step.Version, step.Name)
		if err != nil {
			return applied, fmt.Errorf("journal migration %03d_%s: %w", step.Version, step.Name, err)
		}
		log.Info().Int("version", step.Version).Str("name", step.Name).Msg("Journal schema upgraded")
		applied++
	}
	if applied == 0 {
		log.Debug().Int("versions", len(done)).Msg("Journal schema up to date")
	}
	return applied, nil
}

// Down reverts the n most recently applied steps, newest first. A step
// without a down script stops the rollback.
func Down(ctx context.Context, db *sqlx.DB, steps []Step, n int) (int, error) {
	done, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}

	reverted := 0
	for i := len(done) - 1; i >= 0 && reverted < n; i-- {
		idx := slices.IndexFunc(steps, func(s Step) bool { return s.Version == done[i] })
		if idx < 0 || strings.TrimSpace(steps[idx].Down) == "" {
			return reverted, fmt.Errorf("journal migration %03d cannot be reverted", done[i])
		}
		step := steps[idx]
		err := inTx(ctx, db, step.Down,
			`DELETE FROM schema_versions WHERE version = ?`, step.Version)
		if err != nil {
			return reverted, fmt.Errorf("reverting journal migration %03d_%s: %w", step.Version, step.Name, err)
		}
		log.Info().Int("version", step.Version).Str("name", step.Name).Msg("Journal schema reverted")
		reverted++
	}
	return reverted, nil
}

// inTx runs script and the bookkeeping statement atomically.
func inTx(ctx context.Context, db *sqlx.DB, script, bookkeeping string, args ...any) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}
