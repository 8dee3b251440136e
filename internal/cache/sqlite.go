package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/temirov/ctxload/internal/fingerprint"
)

const (
	databaseFileExtension  = ".db"
	workspaceKeyLength     = 16
	sqliteConnectionParams = "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)"

	schemaSQL = `
CREATE TABLE IF NOT EXISTS token_counts (
	relative_path  TEXT    NOT NULL,
	fingerprint    TEXT    NOT NULL,
	estimator_kind TEXT    NOT NULL,
	token_count    INTEGER NOT NULL,
	last_seen_at   INTEGER NOT NULL,
	PRIMARY KEY (relative_path, fingerprint, estimator_kind)
);
CREATE INDEX IF NOT EXISTS idx_token_counts_path_kind ON token_counts(relative_path, estimator_kind);
`
)

// SQLiteStore persists entries of one workspace in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DatabasePath returns the database file used for workspaceRoot under cacheDirectory.
func DatabasePath(cacheDirectory string, workspaceRoot string) string {
	absoluteRoot, absoluteError := filepath.Abs(workspaceRoot)
	if absoluteError != nil {
		absoluteRoot = workspaceRoot
	}
	workspaceKey := fingerprint.Bytes([]byte(filepath.Clean(absoluteRoot)))[:workspaceKeyLength]
	return filepath.Join(cacheDirectory, workspaceKey+databaseFileExtension)
}

// OpenSQLiteStore opens or creates the cache database at databasePath.
func OpenSQLiteStore(databasePath string) (*SQLiteStore, error) {
	directory := filepath.Dir(databasePath)
	if err := os.MkdirAll(directory, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", databasePath+sqliteConnectionParams)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (store *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := store.db.QueryContext(ctx, "SELECT relative_path, fingerprint, estimator_kind, token_count, last_seen_at FROM token_counts")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var loaded []Entry
	for rows.Next() {
		var entry Entry
		var lastSeenAtNs int64
		if err := rows.Scan(&entry.RelativePath, &entry.Fingerprint, &entry.Kind, &entry.TokenCount, &lastSeenAtNs); err != nil {
			return nil, err
		}
		entry.LastSeenAt = time.Unix(0, lastSeenAtNs).UTC()
		loaded = append(loaded, entry)
	}
	return loaded, rows.Err()
}

// Apply implements Store.
func (store *SQLiteStore) Apply(ctx context.Context, upserts []Entry, deletions []Key) error {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, deletion := range deletions {
		if _, err := tx.ExecContext(ctx, "DELETE FROM token_counts WHERE relative_path = ? AND fingerprint = ? AND estimator_kind = ?",
			deletion.RelativePath, deletion.Fingerprint, deletion.Kind); err != nil {
			return err
		}
	}

	for _, upsert := range upserts {
		// A path keeps at most one fingerprint per estimator kind.
		if _, err := tx.ExecContext(ctx, "DELETE FROM token_counts WHERE relative_path = ? AND estimator_kind = ? AND fingerprint <> ?",
			upsert.RelativePath, upsert.Kind, upsert.Fingerprint); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO token_counts
			(relative_path, fingerprint, estimator_kind, token_count, last_seen_at)
			VALUES (?, ?, ?, ?, ?)`,
			upsert.RelativePath, upsert.Fingerprint, upsert.Kind, upsert.TokenCount, upsert.LastSeenAt.UnixNano()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Clear implements Store.
func (store *SQLiteStore) Clear(ctx context.Context) error {
	_, err := store.db.ExecContext(ctx, "DELETE FROM token_counts")
	return err
}

// Close closes the cache database.
func (store *SQLiteStore) Close() error {
	return store.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
