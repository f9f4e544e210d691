package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
)

const (
	stateFile  = "state.json"
	tradesFile = "trades.jsonl"
)

// FileStore keeps the snapshot in state.json and the trade log in
// trades.jsonl under one directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) StatePath() string  { return filepath.Join(s.dir, stateFile) }
func (s *FileStore) TradesPath() string { return filepath.Join(s.dir, tradesFile) }

// WriteSnapshot writes a temp file in the same directory, syncs it and
// renames it over state.json, so readers see the old or the new file.
func (s *FileStore) WriteSnapshot(ctx context.Context, a portfolio.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, stateFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.StatePath()); err != nil {
		cleanup()
		return fmt.Errorf("rename snapshot: %w", err)
	}
	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("sync snapshot dir: %w", err)
	}
	return nil
}

// syncDir makes a rename inside dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

func (s *FileStore) LoadSnapshot(ctx context.Context) (portfolio.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return portfolio.Account{}, false, err
	}
	s.mu.Lock()
	data, err := os.ReadFile(s.StatePath())
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return portfolio.Account{}, false, nil
	}
	if err != nil {
		return portfolio.Account{}, false, fmt.Errorf("read snapshot: %w", err)
	}

	var a portfolio.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return portfolio.Account{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := migrate(&a); err != nil {
		return portfolio.Account{}, false, err
	}
	return a, true, nil
}

// AppendLog writes one JSON line and fsyncs before returning.
func (s *FileStore) AppendLog(ctx context.Context, e portfolio.TradeLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.TradesPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trade log: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append trade: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync trade log: %w", err)
	}
	return f.Close()
}

// ReadLog returns every row oldest first. Lines that do not decode, such
// as a torn tail left by a crash mid-append, are skipped.
func (s *FileStore) ReadLog(ctx context.Context) ([]portfolio.TradeLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	data, err := os.ReadFile(s.TradesPath())
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trade log: %w", err)
	}

	var rows []portfolio.TradeLogEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e portfolio.TradeLogEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			observ.Warn("trade_log_line_skipped", map[string]any{"line": line, "error": err.Error()})
			continue
		}
		e.Timestamp = e.Timestamp.UTC()
		rows = append(rows, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan trade log: %w", err)
	}
	return rows, nil
}

func (s *FileStore) Close() error { return nil }
