package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// SQLiteFilename is the database file created under the state directory.
const SQLiteFilename = "dedupe.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS deduped (
	site TEXT NOT NULL,
	key_hash TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (site, key_hash)
);
`

// SQLiteStore keeps dedupe keys in a single SQLite file shared by all sites.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  *logrus.Entry
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(ctx context.Context, path string, logger *logrus.Entry) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("%w: create state directory: %w", utils.ErrFilesystem, err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", utils.ErrDatabase, path, err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %w", utils.ErrDatabase, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create schema: %w", utils.ErrDatabase, err)
	}

	logger.Debugf("Dedupe database ready at %s", path)
	return &SQLiteStore{db: db, path: path, log: logger}, nil
}

func (s *SQLiteStore) IsSeen(ctx context.Context, site, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM deduped WHERE site = ? AND key_hash = ?", site, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %w", utils.ErrDatabase, err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkSeen(ctx context.Context, site, key string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO deduped (site, key_hash) VALUES (?, ?)", site, key)
	if err != nil {
		return fmt.Errorf("%w: insert: %w", utils.ErrDatabase, err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, site string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deduped WHERE site = ?", site).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", utils.ErrDatabase, err)
	}
	return n, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
	}
	return nil
}
