package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	internal "github.com/ZanzyTHEbar/virtual-drivefs/vdfs"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"
)

// SyncStateProvider persists the synchronization state of the local drive
// mirror: tree snapshots and the largest changestamp applied so far.
type SyncStateProvider struct {
	db *sql.DB
}

// NewSyncStateProvider opens or initializes the sync-state database at the
// default config location.
func NewSyncStateProvider() (*SyncStateProvider, error) {
	if err := os.MkdirAll(internal.DefaultConfigPath, 0o755); err != nil {
		return nil, fmt.Errorf("could not create config directory: %v", err)
	}

	slog.Info("Sync-state database path:", "path", internal.DefaultSyncStateDBPath)

	return NewSyncStateProviderAt(internal.DefaultSyncStateDBPath)
}

// NewSyncStateProviderAt opens or initializes a sync-state database at the
// given DSN or path.
func NewSyncStateProviderAt(dsn string) (*SyncStateProvider, error) {
	db, err := ConnectToDB(dsn)
	if err != nil {
		return nil, err
	}

	provider := &SyncStateProvider{db: db}
	if err := provider.init(); err != nil {
		db.Close()
		return nil, err
	}
	return provider, nil
}

// init sets up the sync-state tables.
func (p *SyncStateProvider) init() error {
	_, err := p.db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY UNIQUE,
		taken_at TEXT NOT NULL,
		largest_changestamp INTEGER NOT NULL DEFAULT 0,
		tree_state BLOB
	)`)
	if err != nil {
		return fmt.Errorf("failed to create snapshots table: %w", err)
	}

	// Single-row table holding the high-water changestamp.
	_, err = p.db.Exec(`CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		largest_changestamp INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create sync_state table: %w", err)
	}

	return nil
}

// LargestChangestamp returns the persisted high-water changestamp, or zero
// when no sync has completed yet.
func (p *SyncStateProvider) LargestChangestamp() (int64, error) {
	var changestamp int64
	err := p.db.QueryRow("SELECT largest_changestamp FROM sync_state WHERE id = 1").Scan(&changestamp)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read largest changestamp: %w", err)
	}
	return changestamp, nil
}

// SetLargestChangestamp persists the high-water changestamp.
func (p *SyncStateProvider) SetLargestChangestamp(changestamp int64) error {
	_, err := p.db.Exec(`INSERT INTO sync_state (id, largest_changestamp, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET largest_changestamp = excluded.largest_changestamp, updated_at = excluded.updated_at`,
		changestamp, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to persist largest changestamp: %w", err)
	}
	return nil
}

// InsertSnapshot adds a new snapshot row.
func (p *SyncStateProvider) InsertSnapshot(snapshot *Snapshot) (uuid.UUID, error) {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}

	if snapshot.TakenAt.IsZero() {
		snapshot.TakenAt = time.Now()
	}

	_, err := p.db.Exec(
		"INSERT INTO snapshots (id, taken_at, largest_changestamp, tree_state) VALUES (?, ?, ?, ?)",
		snapshot.ID.String(),
		snapshot.TakenAt.Format(time.RFC3339),
		snapshot.LargestChangestamp,
		snapshot.TreeState,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return snapshot.ID, nil
}

// GetSnapshot retrieves a specific snapshot by ID.
func (p *SyncStateProvider) GetSnapshot(id uuid.UUID) (*Snapshot, error) {
	row := p.db.QueryRow("SELECT id, taken_at, largest_changestamp, tree_state FROM snapshots WHERE id = ?", id.String())
	return scanSnapshot(row)
}

// GetLatestSnapshot retrieves the most recent snapshot.
func (p *SyncStateProvider) GetLatestSnapshot() (*Snapshot, error) {
	row := p.db.QueryRow("SELECT id, taken_at, largest_changestamp, tree_state FROM snapshots ORDER BY taken_at DESC, rowid DESC LIMIT 1")
	return scanSnapshot(row)
}

// GetAllSnapshots retrieves all snapshots, newest first.
func (p *SyncStateProvider) GetAllSnapshots() ([]Snapshot, error) {
	rows, err := p.db.Query("SELECT id, taken_at, largest_changestamp, tree_state FROM snapshots ORDER BY taken_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var snapshot Snapshot
		var id string
		var takenAt string

		if err := rows.Scan(&id, &takenAt, &snapshot.LargestChangestamp, &snapshot.TreeState); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		snapshot.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot ID: %w", err)
		}

		snapshot.TakenAt, err = time.Parse(time.RFC3339, takenAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot timestamp: %w", err)
		}

		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during snapshot iteration: %w", err)
	}

	return snapshots, nil
}

// DeleteSnapshot removes a snapshot by ID.
func (p *SyncStateProvider) DeleteSnapshot(id uuid.UUID) error {
	_, err := p.db.Exec("DELETE FROM snapshots WHERE id = ?", id.String())
	return err
}

// PruneSnapshots deletes all but the newest keep snapshots.
func (p *SyncStateProvider) PruneSnapshots(keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := p.db.Exec(`DELETE FROM snapshots WHERE id NOT IN (
		SELECT id FROM snapshots ORDER BY taken_at DESC, rowid DESC LIMIT ?
	)`, keep)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return nil
}

// Backup creates a backup of the sync-state database.
// It returns the path to the backup file and any error that occurred.
func (p *SyncStateProvider) Backup() (string, error) {
	if p.db == nil {
		return "", fmt.Errorf("cannot backup: database connection is nil")
	}

	backupDir := filepath.Join(internal.DefaultConfigPath, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("could not create backup directory: %v", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("syncstate_backup_%s.db", timestamp))

	// SQLite-specific copy of the live database.
	_, err := p.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath))
	if err != nil {
		return "", fmt.Errorf("backup failed: %v", err)
	}

	slog.Info("Database backup created successfully", "path", backupPath)
	return backupPath, nil
}

// Close closes the sync-state database connection.
func (p *SyncStateProvider) Close() error {
	return p.db.Close()
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var snapshot Snapshot
	var id string
	var takenAt string

	err := row.Scan(&id, &takenAt, &snapshot.LargestChangestamp, &snapshot.TreeState)
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	snapshot.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot ID: %w", err)
	}

	snapshot.TakenAt, err = time.Parse(time.RFC3339, takenAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot timestamp: %w", err)
	}

	return &snapshot, nil
}
