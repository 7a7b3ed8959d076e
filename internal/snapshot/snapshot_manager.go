package snapshot

// ============================================================================
// Responsibilities:
// 1. Serialize the full hate table to a JSON snapshot file
// 2. Atomic writes (temp file + rename) so a crash never leaves a torn file
// 3. Validate the schema version on load
// 4. Keep N rolling, lz4-compressed backups of previous snapshots
// ============================================================================

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
)

var log = slog.Default()

// SchemaVersion is the snapshot format written and accepted
const SchemaVersion = 1

const (
	backupTimeFormat = "20060102_150405.000"
	backupSuffix     = ".lz4"
)

// ============================================================================
// Errors
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
	ErrSnapshotNotFound    = errors.New("snapshot file not found")
)

// ============================================================================
// Manager
// ============================================================================

// Manager reads and writes one snapshot file and its backups
type Manager struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewManager creates a manager for path
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
		now:  time.Now,
	}
}

// Write atomically replaces the snapshot:
//  1. write <path>.tmp
//  2. os.Rename over <path>
func (m *Manager) Write(data types.SnapshotData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(data)
}

func (m *Manager) writeLocked(data types.SnapshotData) error {
	data.SchemaVer = SchemaVersion
	if data.SavedAt.IsZero() {
		data.SavedAt = m.now().UTC()
	}

	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file yields an empty table (first
// boot), not an error.
func (m *Manager) Load() (types.SnapshotData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewSnapshotData(), nil
		}
		return types.SnapshotData{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decode(jsonBytes)
}

func decode(jsonBytes []byte) (types.SnapshotData, error) {
	var data types.SnapshotData
	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	if data.Players == nil {
		data.Players = make(map[types.PlayerID]map[types.FactionID]*types.HateRecord)
	}
	return data, nil
}

// Exists reports whether the snapshot file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath returns the snapshot path
func (m *Manager) GetPath() string {
	return m.path
}

// ============================================================================
// Rolling backups
// ============================================================================

// WriteWithBackup compresses the current snapshot into a timestamped .lz4
// backup, writes data, and keeps only the newest keepBackups backups.
// keepBackups == 0 disables backups.
func (m *Manager) WriteWithBackup(data types.SnapshotData, keepBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keepBackups > 0 {
		if err := m.backupLocked(); err != nil {
			return err
		}
	}
	if err := m.writeLocked(data); err != nil {
		return err
	}
	if keepBackups > 0 {
		m.pruneBackupsLocked(keepBackups)
	}
	return nil
}

func (m *Manager) backupLocked() error {
	current, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot for backup: %w", err)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(current); err != nil {
		return fmt.Errorf("failed to compress backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.%s%s", m.path, m.now().UTC().Format(backupTimeFormat), backupSuffix)
	if err := os.WriteFile(backupPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to backup old snapshot: %w", err)
	}
	return nil
}

func (m *Manager) pruneBackupsLocked(keep int) {
	backups, err := m.backupsLocked()
	if err != nil {
		log.Warn("failed to list snapshot backups", "path", m.path, "error", err)
		return
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil {
			log.Warn("failed to remove old backup", "backup", backups[0], "error", err)
		}
		backups = backups[1:]
	}
}

// backupsLocked lists backup files oldest first
func (m *Manager) backupsLocked() ([]string, error) {
	matches, err := filepath.Glob(m.path + ".*" + backupSuffix)
	if err != nil {
		return nil, err
	}
	// the timestamp format sorts lexically
	sort.Strings(matches)
	return matches, nil
}

// Backups lists backup files oldest first
func (m *Manager) Backups() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupsLocked()
}

// LoadLatestBackup decodes the newest readable backup
func (m *Manager) LoadLatestBackup() (types.SnapshotData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	backups, err := m.backupsLocked()
	if err != nil {
		return types.SnapshotData{}, fmt.Errorf("failed to list backups: %w", err)
	}
	for i := len(backups) - 1; i >= 0; i-- {
		data, err := readBackup(backups[i])
		if err != nil {
			log.Warn("skipping unreadable backup", "backup", backups[i], "error", err)
			continue
		}
		return data, nil
	}
	return types.SnapshotData{}, ErrSnapshotNotFound
}

func readBackup(path string) (types.SnapshotData, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.SnapshotData{}, err
	}
	defer f.Close()

	raw, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		return types.SnapshotData{}, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	return decode(raw)
}

// ============================================================================
// FileStore
// ============================================================================

// FileStore adapts Manager to the controller's persistence contract. Load
// falls back to the newest backup when the main file is corrupted.
type FileStore struct {
	manager *Manager
	keep    int
}

// NewFileStore creates a file store keeping keepBackups backups
func NewFileStore(path string, keepBackups int) *FileStore {
	return &FileStore{manager: NewManager(path), keep: keepBackups}
}

// Manager returns the underlying manager
func (s *FileStore) Manager() *Manager {
	return s.manager
}

func (s *FileStore) Load(ctx context.Context) (types.SnapshotData, error) {
	if err := ctx.Err(); err != nil {
		return types.SnapshotData{}, err
	}
	data, err := s.manager.Load()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrCorruptedSnapshot) && !errors.Is(err, ErrIncompatibleVersion) {
		return data, err
	}

	log.Warn("snapshot unreadable, trying backups", "path", s.manager.GetPath(), "error", err)
	backup, berr := s.manager.LoadLatestBackup()
	if berr != nil {
		return types.SnapshotData{}, err
	}
	return backup, nil
}

func (s *FileStore) Save(ctx context.Context, data types.SnapshotData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.manager.WriteWithBackup(data, s.keep)
}

func (s *FileStore) Close() error { return nil }

// Describe names the backend for logs
func (s *FileStore) Describe() string {
	return "file:" + s.manager.GetPath()
}
