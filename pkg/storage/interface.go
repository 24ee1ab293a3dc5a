// Package storage persists which records have already been exported, per site.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// DedupeStore remembers dedupe key hashes per site across runs.
// Keys are opaque strings, normally utils.DedupeKeyHash output.
type DedupeStore interface {
	// IsSeen reports whether key was marked for site
	IsSeen(ctx context.Context, site, key string) (bool, error)

	// MarkSeen records key for site. Marking an existing key is a no-op
	MarkSeen(ctx context.Context, site, key string) error

	// Count returns the number of keys stored for site
	Count(ctx context.Context, site string) (int, error)

	// Close releases the underlying database
	Close() error
}

// Kind selects a DedupeStore implementation.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindBadger Kind = "badger"
	KindMemory Kind = "memory"

	// DefaultStateDir holds dedupe databases unless overridden.
	DefaultStateDir = "state"
)

// ParseKind maps a flag value to a Kind. Empty means sqlite.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindSQLite:
		return KindSQLite, nil
	case KindBadger:
		return KindBadger, nil
	case KindMemory:
		return KindMemory, nil
	}
	return "", fmt.Errorf("%w: unknown store %q (expected sqlite, badger or memory)", utils.ErrConfigValidation, s)
}

// Open creates the store of the given kind under stateDir.
func Open(ctx context.Context, kind Kind, stateDir string, logger *logrus.Entry) (DedupeStore, error) {
	if stateDir == "" {
		stateDir = DefaultStateDir
	}
	switch kind {
	case KindSQLite, "":
		return NewSQLiteStore(ctx, filepath.Join(stateDir, SQLiteFilename), logger)
	case KindBadger:
		return NewBadgerStore(ctx, stateDir, true, logger)
	case KindMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%w: unknown store %q", utils.ErrConfigValidation, kind)
}
