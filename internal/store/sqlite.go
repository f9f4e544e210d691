package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	schema  INTEGER NOT NULL,
	blob    BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	seq   INTEGER PRIMARY KEY AUTOINCREMENT,
	id    TEXT    NOT NULL UNIQUE,
	ts    TEXT    NOT NULL,
	side  TEXT    NOT NULL,
	blob  BLOB    NOT NULL
);`

// SQLiteStore keeps the snapshot as a single msgpack row and the trade
// log as an append-only table ordered by seq.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// single writer process
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// WriteSnapshot upserts the single snapshot row inside a transaction.
func (s *SQLiteStore) WriteSnapshot(ctx context.Context, a portfolio.Account) error {
	blob, err := msgpack.Marshal(&a)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, version, schema, blob) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, schema = excluded.schema, blob = excluded.blob`,
		a.Seq, a.SchemaVersion, blob)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (portfolio.Account, bool, error) {
	var (
		schema int
		blob   []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT schema, blob FROM snapshots WHERE id = 1`).Scan(&schema, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return portfolio.Account{}, false, nil
	}
	if err != nil {
		return portfolio.Account{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	if schema > portfolio.SchemaVersion {
		return portfolio.Account{}, false, fmt.Errorf("%w: version %d", ErrSchema, schema)
	}

	var a portfolio.Account
	if err := msgpack.Unmarshal(blob, &a); err != nil {
		return portfolio.Account{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := migrate(&a); err != nil {
		return portfolio.Account{}, false, err
	}
	return a, true, nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, e portfolio.TradeLogEntry) error {
	blob, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode trade: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trades (id, ts, side, blob) VALUES (?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), string(e.Side), blob)
	if err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadLog(ctx context.Context) ([]portfolio.TradeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blob FROM trades ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []portfolio.TradeLogEntry
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		var e portfolio.TradeLogEntry
		if err := msgpack.Unmarshal(blob, &e); err != nil {
			return nil, fmt.Errorf("decode trade: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
