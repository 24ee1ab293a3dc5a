package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/log"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

const (
	siteKeyPrefix = "site/"         // Keys are site/<site>/<key hash>
	badgerDBDir   = "dedupe_badger" // Subdirectory of the state directory
)

// BadgerStore implements DedupeStore on an embedded BadgerDB.
type BadgerStore struct {
	db   *badger.DB
	path string
	log  *logrus.Entry
}

// NewBadgerStore opens the store under stateDir. With resume false any existing
// database is removed first, so every key is treated as unseen.
func NewBadgerStore(ctx context.Context, stateDir string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, badgerDBDir)

	if !resume {
		logger.Warnf("Resume is off. REMOVING existing dedupe state: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	if err := ctx.Err(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debugf("Dedupe database ready at %s (resume: %v)", dbPath, resume)
	return &BadgerStore{db: db, path: dbPath, log: logger}, nil
}

func siteKey(site, key string) []byte {
	return []byte(siteKeyPrefix + site + "/" + key)
}

func sitePrefix(site string) []byte {
	return []byte(siteKeyPrefix + site + "/")
}

const maxConflictRetries = 10

// dbUpdate retries db.Update on transaction conflicts, which resolve quickly
// when concurrent runs mark overlapping keys.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func (s *BadgerStore) IsSeen(ctx context.Context, site, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	seen := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(siteKey(site, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seen = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %w", utils.ErrDatabase, err)
	}
	return seen, nil
}

func (s *BadgerStore) MarkSeen(ctx context.Context, site, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := siteKey(site, key)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		ts := make([]byte, 8)
		binary.BigEndian.PutUint64(ts, uint64(time.Now().Unix()))
		return txn.Set(k, ts)
	})
	if err != nil {
		return fmt.Errorf("%w: mark: %w", utils.ErrDatabase, err)
	}
	return nil
}

func (s *BadgerStore) Count(ctx context.Context, site string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = sitePrefix(site)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", utils.ErrDatabase, err)
	}
	return count, nil
}

// RunGC periodically reclaims value log space until ctx ends.
// Only worthwhile for long-lived processes (watch, MCP server).
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db.IsClosed() {
				return
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC: %v", ctx.Err())
			return
		}
	}
}

// Path returns the database directory.
func (s *BadgerStore) Path() string { return s.path }

func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing dedupe DB: %v", err)
		return fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
	}
	return nil
}
