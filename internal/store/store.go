// Package store provides durable backings for the account ledger.
package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
)

// ErrSchema is returned for a snapshot written by a newer build.
var ErrSchema = errors.New("unsupported snapshot schema")

var (
	_ portfolio.Store = (*FileStore)(nil)
	_ portfolio.Store = (*SQLiteStore)(nil)
)

// Open returns the store named by kind ("file" or "sqlite") rooted at dir.
func Open(kind, dir string) (portfolio.Store, error) {
	switch kind {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		return NewSQLiteStore(filepath.Join(dir, "trader.db"))
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

// migrate brings an older snapshot up to the current schema.
func migrate(a *portfolio.Account) error {
	switch {
	case a.SchemaVersion > portfolio.SchemaVersion:
		return fmt.Errorf("%w: version %d, newest known %d", ErrSchema, a.SchemaVersion, portfolio.SchemaVersion)
	case a.SchemaVersion == 0:
		// pre-versioned layout had no peak or initial equity
		if a.InitialEquity == 0 {
			a.InitialEquity = a.Equity
		}
		if a.PeakEquity < a.Equity {
			a.PeakEquity = a.Equity
		}
		a.SchemaVersion = portfolio.SchemaVersion
	}
	if a.Positions == nil {
		a.Positions = []portfolio.Position{}
	}
	a.UpdatedAt = a.UpdatedAt.UTC()
	for i := range a.Positions {
		a.Positions[i].OpenedAt = a.Positions[i].OpenedAt.UTC()
	}
	return nil
}
