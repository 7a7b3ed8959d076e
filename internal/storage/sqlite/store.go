// Package sqlite persists the hate table in a SQLite database. Each save
// replaces the table in one transaction; timestamps are stored as Unix
// milliseconds with 0 meaning "never".
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChuLiYu/faction-ambush/internal/snapshot"
	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

// ErrNotConfigured is returned by methods on a closed or nil store
var ErrNotConfigured = errors.New("storage is not configured")

const schema = `
CREATE TABLE IF NOT EXISTS hate_records (
	player_id         INTEGER NOT NULL,
	faction           TEXT    NOT NULL,
	hate              REAL    NOT NULL,
	last_combat_start INTEGER NOT NULL DEFAULT 0,
	last_combat_end   INTEGER NOT NULL DEFAULT 0,
	last_ambush       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (player_id, faction)
);
CREATE TABLE IF NOT EXISTS snapshot_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	schema_ver INTEGER NOT NULL,
	saved_at   INTEGER NOT NULL
);
`

// schemaVersion matches the file snapshot format
const schemaVersion = snapshot.SchemaVersion

// Store provides SQLite-backed hate table persistence
type Store struct {
	sqlDB *sql.DB
	path  string
}

// Open opens (creating if needed) the database at path
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, path: cleanPath}, nil
}

// Close releases the SQLite connection
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	err := s.sqlDB.Close()
	s.sqlDB = nil
	return err
}

// Describe names the backend for logs
func (s *Store) Describe() string {
	return "sqlite:" + s.path
}

// Save replaces every stored record with data
func (s *Store) Save(ctx context.Context, data types.SnapshotData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}
	savedAt := data.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hate_records`); err != nil {
		return fmt.Errorf("clear hate records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO hate_records (
	player_id,
	faction,
	hate,
	last_combat_start,
	last_combat_end,
	last_ambush
) VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for player, factions := range data.Players {
		for faction, r := range factions {
			if r == nil {
				continue
			}
			if _, err := stmt.ExecContext(ctx,
				int64(player),
				string(faction),
				r.Hate,
				toMillis(r.LastCombatStart),
				toMillis(r.LastCombatEnd),
				toMillis(r.LastAmbush),
			); err != nil {
				return fmt.Errorf("insert record %d/%s: %w", player, faction, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO snapshot_meta (id, schema_ver, saved_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET schema_ver = excluded.schema_ver, saved_at = excluded.saved_at
`, schemaVersion, toMillis(savedAt)); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load reads every stored record. An empty database yields an empty table.
func (s *Store) Load(ctx context.Context) (types.SnapshotData, error) {
	if err := ctx.Err(); err != nil {
		return types.SnapshotData{}, err
	}
	if s == nil || s.sqlDB == nil {
		return types.SnapshotData{}, ErrNotConfigured
	}

	data := types.NewSnapshotData()
	var savedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT schema_ver, saved_at FROM snapshot_meta WHERE id = 1`).
		Scan(&data.SchemaVer, &savedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return data, nil
	case err != nil:
		return data, fmt.Errorf("read snapshot meta: %w", err)
	}
	if data.SchemaVer != schemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", snapshot.ErrIncompatibleVersion, data.SchemaVer, schemaVersion)
	}
	data.SavedAt = fromMillis(savedAt)

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	player_id,
	faction,
	hate,
	last_combat_start,
	last_combat_end,
	last_ambush
FROM hate_records
ORDER BY player_id, faction
`)
	if err != nil {
		return data, fmt.Errorf("list hate records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			player     int64
			faction    string
			r          types.HateRecord
			start      int64
			end        int64
			lastAmbush int64
		)
		if err := rows.Scan(&player, &faction, &r.Hate, &start, &end, &lastAmbush); err != nil {
			return data, fmt.Errorf("scan hate record: %w", err)
		}
		r.LastCombatStart = fromMillis(start)
		r.LastCombatEnd = fromMillis(end)
		r.LastAmbush = fromMillis(lastAmbush)

		id := types.PlayerID(player)
		if data.Players[id] == nil {
			data.Players[id] = make(map[types.FactionID]*types.HateRecord)
		}
		data.Players[id][types.FactionID(faction)] = &r
	}
	if err := rows.Err(); err != nil {
		return data, fmt.Errorf("iterate hate records: %w", err)
	}
	return data, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
