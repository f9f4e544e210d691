package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/risk"
)

var (
	ErrInvalidFill = errors.New("invalid fill")
	ErrNoPosition  = errors.New("no open position")
	// ErrInvariant means a fill would corrupt the ledger. Nothing is
	// committed or persisted when it is returned.
	ErrInvariant = errors.New("ledger invariant violated")
	// ErrPersistence means the change is committed in memory but the store
	// write failed; it is retried on the next write or Checkpoint.
	ErrPersistence = errors.New("persistence failed")
)

const cashTolerance = 1e-9

// Store is the durable backing of a Ledger.
type Store interface {
	// WriteSnapshot replaces the stored account atomically.
	WriteSnapshot(ctx context.Context, a Account) error
	// LoadSnapshot returns ok=false when nothing was stored yet.
	LoadSnapshot(ctx context.Context) (a Account, ok bool, err error)
	// AppendLog durably appends one row after all earlier rows.
	AppendLog(ctx context.Context, e TradeLogEntry) error
	// ReadLog returns rows oldest first.
	ReadLog(ctx context.Context) ([]TradeLogEntry, error)
	Close() error
}

// Fill is an executed order to apply.
type Fill struct {
	Side     risk.Side
	Quantity float64
	Price    float64
	// Stake is the capital committed by a BUY; 0 means Quantity*Price.
	Stake float64
	Note  string
	// TakeProfit marks the position's one partial take-profit as used.
	TakeProfit bool
}

// Ledger owns the account. wmu guards the in-memory state only and is
// never held across store I/O; pmu serializes persistence so snapshots and
// log rows reach the store in commit order. Readers load the last
// committed copy and never block.
type Ledger struct {
	store   Store
	timeout time.Duration
	now     func() time.Time

	wmu     sync.Mutex
	acct    Account
	pending []TradeLogEntry
	gen     uint64 // bumped by every commit
	written uint64 // gen of the last stored snapshot

	pmu sync.Mutex

	view atomic.Pointer[Account]
}

type Option func(*Ledger)

// WithIOTimeout bounds every store call.
func WithIOTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open restores the account from store or, when the store is empty,
// creates and persists a fresh one.
func Open(ctx context.Context, store Store, symbol string, startEquity float64, cfg risk.Config, opts ...Option) (*Ledger, error) {
	if startEquity <= 0 {
		return nil, fmt.Errorf("%w: start equity %v must be positive", ErrInvalidFill, startEquity)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{store: store, timeout: 5 * time.Second, now: time.Now}
	for _, o := range opts {
		o(l)
	}

	ioCtx, cancel := l.ioContext(ctx)
	defer cancel()
	acct, ok, err := store.LoadSnapshot(ioCtx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if ok {
		if acct.Symbol != symbol {
			return nil, fmt.Errorf("snapshot holds %s, not %s", acct.Symbol, symbol)
		}
		if acct.Positions == nil {
			acct.Positions = []Position{}
		}
		l.acct = acct
		l.publish()
		observ.Log("ledger_restored", map[string]any{
			"symbol": symbol, "seq": acct.Seq, "cash": acct.Cash,
			"equity": acct.Equity, "halted": acct.Halted,
		})
		return l, nil
	}

	l.acct = NewAccount(symbol, startEquity, cfg)
	l.acct.UpdatedAt = l.now().UTC()
	l.publish()
	if err := l.store.WriteSnapshot(ioCtx, l.acct); err != nil {
		return nil, fmt.Errorf("write initial snapshot: %w", err)
	}
	observ.Log("ledger_created", map[string]any{"symbol": symbol, "equity": startEquity})
	return l, nil
}

// Snapshot returns a copy of the last committed account.
func (l *Ledger) Snapshot() Account {
	return l.view.Load().Clone()
}

// Book is the risk gate's view of the last committed account.
func (l *Ledger) Book() risk.Book {
	return l.view.Load().Book()
}

// Pending reports trade-log rows not yet acknowledged by the store.
func (l *Ledger) Pending() int {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return len(l.pending)
}

// ApplyFill commits f and persists it as one snapshot followed by one log
// row before returning. On ErrPersistence the returned entry is committed
// and will be written by the next Checkpoint; callers must treat it as
// filled.
func (l *Ledger) ApplyFill(ctx context.Context, f Fill) (TradeLogEntry, error) {
	entry, err := l.Apply(f)
	if err != nil {
		return TradeLogEntry{}, err
	}
	return entry, l.persist(ctx)
}

// Apply is the only mutator of cash, positions and realized PnL. The new
// state is validated on a copy and committed in memory; the log row is
// queued for the next Checkpoint. Any error means nothing was committed.
func (l *Ledger) Apply(f Fill) (TradeLogEntry, error) {
	if err := validFill(f); err != nil {
		return TradeLogEntry{}, err
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	ts := l.now().UTC()
	next := l.acct.Clone()
	entry, err := applyTo(&next, f, ts)
	if err != nil {
		observ.Error("ledger_fill_rejected", err, map[string]any{
			"side": string(f.Side), "quantity": f.Quantity, "price": f.Price,
		})
		return TradeLogEntry{}, err
	}
	if err := checkInvariants(next); err != nil {
		observ.Error("ledger_invariant", err, map[string]any{"seq": l.acct.Seq})
		return TradeLogEntry{}, err
	}

	next.Seq++
	next.UpdatedAt = ts
	entry.ID = uuid.NewString()
	entry.Seq = next.Seq
	entry.Timestamp = ts

	l.commit(next)
	l.pending = append(l.pending, entry)
	return entry, nil
}

func validFill(f Fill) error {
	bad := func(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 }
	switch {
	case f.Side != risk.Buy && f.Side != risk.Sell && f.Side != risk.Exit:
		return fmt.Errorf("%w: side %q", ErrInvalidFill, f.Side)
	case bad(f.Quantity):
		return fmt.Errorf("%w: quantity %v", ErrInvalidFill, f.Quantity)
	case bad(f.Price):
		return fmt.Errorf("%w: price %v", ErrInvalidFill, f.Price)
	case math.IsNaN(f.Stake) || f.Stake < 0:
		return fmt.Errorf("%w: stake %v", ErrInvalidFill, f.Stake)
	}
	return nil
}

// applyTo mutates a and returns the log row without id, seq or timestamp.
func applyTo(a *Account, f Fill, ts time.Time) (TradeLogEntry, error) {
	i := a.index(a.Symbol)
	entry := TradeLogEntry{Symbol: a.Symbol, Side: f.Side, Price: f.Price, Note: f.Note}

	if f.Side == risk.Buy {
		cost := f.Quantity * f.Price
		stake := f.Stake
		if stake == 0 {
			stake = cost
		}
		if i < 0 {
			a.Positions = append(a.Positions, Position{Symbol: a.Symbol})
			i = len(a.Positions) - 1
		}
		p := &a.Positions[i]
		if p.Quantity == 0 {
			p.OpenedAt = ts
			p.Lots = 0
			p.Stake = 0
		}
		p.AvgEntry = (p.Quantity*p.AvgEntry + f.Quantity*f.Price) / (p.Quantity + f.Quantity)
		p.Quantity += f.Quantity
		p.Stake += stake
		p.Lots++
		p.TakeProfitTaken = false
		p.Mark = f.Price
		a.Cash -= cost

		entry.Quantity = f.Quantity
		entry.StakeOrProceeds = stake
	} else {
		if i < 0 || a.Positions[i].Quantity <= 0 {
			return TradeLogEntry{}, fmt.Errorf("%w: %s", ErrNoPosition, a.Symbol)
		}
		p := &a.Positions[i]
		qty := math.Min(f.Quantity, p.Quantity)
		pnl := qty * (f.Price - p.AvgEntry)
		proceeds := qty * f.Price

		a.RealizedPnL += pnl
		a.Cash += proceeds
		remaining := p.Quantity - qty
		if remaining > 0 {
			p.Stake *= remaining / p.Quantity
		}
		p.Quantity = remaining
		p.Mark = f.Price
		if f.TakeProfit {
			p.TakeProfitTaken = true
		}
		if p.Quantity == 0 {
			a.Positions = append(a.Positions[:i], a.Positions[i+1:]...)
		}

		entry.Quantity = qty
		entry.StakeOrProceeds = proceeds
		entry.RealizedPnL = pnl
	}

	if a.Cash < 0 && a.Cash > -cashTolerance {
		a.Cash = 0
	}
	a.revalue()
	entry.BalanceAfter = a.Cash
	return entry, nil
}

func checkInvariants(a Account) error {
	if math.IsNaN(a.Cash) || a.Cash < 0 {
		return fmt.Errorf("%w: cash %v after fill", ErrInvariant, a.Cash)
	}
	for _, p := range a.Positions {
		if p.Quantity < 0 || math.IsNaN(p.Quantity) {
			return fmt.Errorf("%w: %s quantity %v", ErrInvariant, p.Symbol, p.Quantity)
		}
		if (p.Quantity > 0) != (p.AvgEntry > 0) {
			return fmt.Errorf("%w: %s quantity %v with entry %v", ErrInvariant, p.Symbol, p.Quantity, p.AvgEntry)
		}
	}
	return nil
}

// Mark revalues open positions at price and ratchets peak equity. It does
// not write; the change is persisted by the next write or Checkpoint.
func (l *Ledger) Mark(price float64) Account {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return l.acct.Clone()
	}
	next := l.acct.Clone()
	changed := false
	for i := range next.Positions {
		if next.Positions[i].Mark != price {
			next.Positions[i].Mark = price
			changed = true
		}
	}
	next.revalue()
	if changed || next.PeakEquity != l.acct.PeakEquity {
		l.commit(next)
	}
	return next.Clone()
}

// Halt sets the latch and persists it. Halting twice is a no-op.
func (l *Ledger) Halt(ctx context.Context, reason string) error {
	l.Latch(reason)
	return l.Checkpoint(ctx)
}

// Latch sets the halt latch in memory and reports whether it was newly set.
func (l *Ledger) Latch(reason string) bool {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if l.acct.Halted {
		return false
	}
	next := l.acct.Clone()
	next.Halted = true
	next.HaltReason = reason
	next.Seq++
	next.UpdatedAt = l.now().UTC()
	l.commit(next)
	observ.Warn("ledger_halted", map[string]any{"reason": reason, "equity": next.Equity, "initial_equity": next.InitialEquity})
	return true
}

// ClearHalt resets the latch and persists it.
func (l *Ledger) ClearHalt(ctx context.Context) error {
	l.Unlatch()
	return l.Checkpoint(ctx)
}

// Unlatch resets the latch in memory and rebases initial equity to the
// current equity so the breach does not re-trip on the next check. It
// reports whether the latch was set.
func (l *Ledger) Unlatch() bool {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if !l.acct.Halted {
		return false
	}
	next := l.acct.Clone()
	next.Halted = false
	next.HaltReason = ""
	next.InitialEquity = next.Equity
	next.Seq++
	next.UpdatedAt = l.now().UTC()
	l.commit(next)
	observ.Log("ledger_halt_cleared", map[string]any{"initial_equity": next.InitialEquity})
	return true
}

// SetRisk validates, commits and persists new risk limits. On a
// validation error the previous limits are kept.
func (l *Ledger) SetRisk(ctx context.Context, cfg risk.Config) error {
	if err := l.StageRisk(cfg); err != nil {
		return err
	}
	return l.Checkpoint(ctx)
}

// StageRisk commits new risk limits in memory.
func (l *Ledger) StageRisk(cfg risk.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	next := l.acct.Clone()
	next.Risk = cfg
	next.Seq++
	next.UpdatedAt = l.now().UTC()
	l.commit(next)
	return nil
}

// Checkpoint flushes pending log rows and writes the snapshot if anything
// changed since the last successful write.
func (l *Ledger) Checkpoint(ctx context.Context) error {
	return l.persist(ctx)
}

// Trades reads the durable log, oldest first. limit > 0 keeps the newest
// limit rows.
func (l *Ledger) Trades(ctx context.Context, limit int) ([]TradeLogEntry, error) {
	ioCtx, cancel := l.ioContext(ctx)
	defer cancel()
	rows, err := l.store.ReadLog(ioCtx)
	if err != nil {
		return nil, fmt.Errorf("read trade log: %w", err)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, nil
}

// commit installs next as the current account. Must hold wmu.
func (l *Ledger) commit(next Account) {
	l.acct = next
	l.gen++
	l.publish()
}

func (l *Ledger) publish() {
	c := l.acct.Clone()
	l.view.Store(&c)
}

// ioContext detaches from the caller's cancellation so a write that has
// started is not abandoned halfway, and bounds it with the I/O timeout.
func (l *Ledger) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
}

// persist writes the latest snapshot, then the pending rows in order. It
// copies what to write under wmu and does the I/O under pmu alone, so
// readers and writers proceed while the store is slow.
func (l *Ledger) persist(ctx context.Context) error {
	l.pmu.Lock()
	defer l.pmu.Unlock()

	l.wmu.Lock()
	gen := l.gen
	dirty := gen != l.written
	snap := l.acct.Clone()
	rows := append([]TradeLogEntry(nil), l.pending...)
	l.wmu.Unlock()

	if !dirty && len(rows) == 0 {
		return nil
	}

	ioCtx, cancel := l.ioContext(ctx)
	defer cancel()
	start := time.Now()
	defer func() { observ.RecordDuration("persist_duration", time.Since(start), nil) }()

	if dirty {
		if err := l.store.WriteSnapshot(ioCtx, snap); err != nil {
			return l.persistFailed("snapshot", err, len(rows), snap.Seq)
		}
		l.wmu.Lock()
		l.written = gen
		l.wmu.Unlock()
	}
	// only persist removes rows and pmu is held, so rows is a prefix of pending
	for i, row := range rows {
		if err := l.store.AppendLog(ioCtx, row); err != nil {
			return l.persistFailed("append_log", err, len(rows)-i, snap.Seq)
		}
		l.wmu.Lock()
		l.pending = l.pending[1:]
		l.wmu.Unlock()
	}
	observ.SetGauge("persistence_failing", 0, nil)
	return nil
}

func (l *Ledger) persistFailed(op string, err error, pending int, seq int64) error {
	observ.IncCounter("persistence_errors_total", map[string]string{"op": op})
	observ.SetGauge("persistence_failing", 1, nil)
	observ.Error("persist_failed", err, map[string]any{"op": op, "pending": pending, "seq": seq})
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
