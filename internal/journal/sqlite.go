// Package journal persists trades and decision events to SQLite so a
// session can be reviewed after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	scalperrors "nifty-scalper/internal/errors"
	"nifty-scalper/internal/models"
)

// EventKind classifies journal events.
type EventKind string

const (
	EventEntryRejected EventKind = "entry_rejected"
	EventTrapDetected  EventKind = "trap_detected"
	EventBiasChange    EventKind = "bias_change"
	EventHalt          EventKind = "halt"
	EventSquareOff     EventKind = "square_off"
)

// Event is a non-trade decision record.
type Event struct {
	ID        int64
	Timestamp time.Time
	Kind      EventKind
	Symbol    string
	Detail    string
}

// TradeFilter narrows a trade query. Zero values are ignored.
type TradeFilter struct {
	Symbol string
	Status models.TradeStatus
	Since  time.Time
	Until  time.Time
	Limit  int
}

const eventBufferSize = 256

// Journal is a SQLite-backed trade journal. Trade writes are synchronous;
// event writes go through a buffered worker so the tick loop never blocks
// on disk.
type Journal struct {
	db     *sql.DB
	events chan Event

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	flushed chan struct{}
}

// New opens (or creates) the journal database at path.
func New(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{
		db:      db,
		events:  make(chan Event, eventBufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}

	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	go j.eventWriter()
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		option_type TEXT NOT NULL,
		strike REAL NOT NULL,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME,
		entry_price REAL NOT NULL,
		exit_price REAL,
		quantity INTEGER NOT NULL,
		entry_delta REAL,
		entry_gamma REAL,
		entry_theta REAL,
		entry_iv REAL,
		stop_price REAL,
		target_price REAL,
		status TEXT NOT NULL,
		exit_reason TEXT,
		pnl REAL,
		pnl_percent REAL,
		hold_seconds INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		kind TEXT NOT NULL,
		symbol TEXT,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// eventWriter drains the event buffer until Close.
func (j *Journal) eventWriter() {
	defer close(j.flushed)
	for {
		select {
		case e := <-j.events:
			j.writeEvent(e)
		case <-j.done:
			// Flush whatever is left before the database closes.
			for {
				select {
				case e := <-j.events:
					j.writeEvent(e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) writeEvent(e Event) {
	j.db.Exec(`
		INSERT INTO events (timestamp, kind, symbol, detail)
		VALUES (?, ?, ?, ?)
	`, e.Timestamp, string(e.Kind), e.Symbol, e.Detail)
}

// RecordTrade upserts a trade. Called on open and again on close so the
// journal always reflects the latest state.
func (j *Journal) RecordTrade(ctx context.Context, t *models.Trade) error {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return scalperrors.ErrJournalClosed
	}

	var exitTime interface{}
	if !t.ExitTime.IsZero() {
		exitTime = t.ExitTime
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (
			id, symbol, option_type, strike, entry_time, exit_time,
			entry_price, exit_price, quantity,
			entry_delta, entry_gamma, entry_theta, entry_iv,
			stop_price, target_price, status, exit_reason,
			pnl, pnl_percent, hold_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Symbol, string(t.Type), t.Strike, t.EntryTime, exitTime,
		t.EntryPrice, t.CurrentPrice, t.Quantity,
		t.Entry.Delta, t.Entry.Gamma, t.Entry.Theta, t.Entry.IV,
		t.StopPrice, t.TargetPrice, string(t.Status), string(t.ExitReason),
		t.PnL, t.PnLPercent, int(t.TimeInTrade.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", t.ID, err)
	}
	return nil
}

// RecordEvent enqueues an event for asynchronous persistence. Events are
// dropped rather than blocking when the buffer is full.
func (j *Journal) RecordEvent(kind EventKind, symbol, detail string) {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return
	}

	select {
	case j.events <- Event{Timestamp: time.Now(), Kind: kind, Symbol: symbol, Detail: detail}:
	default:
	}
}

// Trades returns journalled trades matching the filter, newest first.
func (j *Journal) Trades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT id, symbol, option_type, strike, entry_time, exit_time,
		entry_price, exit_price, quantity,
		entry_delta, entry_gamma, entry_theta, entry_iv,
		stop_price, target_price, status, exit_reason,
		pnl, pnl_percent, hold_seconds FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND entry_time <= ?"
		args = append(args, filter.Until)
	}

	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t           models.Trade
			otype       string
			status      string
			exitReason  sql.NullString
			exitTime    sql.NullTime
			holdSeconds int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &otype, &t.Strike, &t.EntryTime, &exitTime,
			&t.EntryPrice, &t.CurrentPrice, &t.Quantity,
			&t.Entry.Delta, &t.Entry.Gamma, &t.Entry.Theta, &t.Entry.IV,
			&t.StopPrice, &t.TargetPrice, &status, &exitReason,
			&t.PnL, &t.PnLPercent, &holdSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Type = models.OptionType(otype)
		t.Status = models.TradeStatus(status)
		if exitReason.Valid {
			t.ExitReason = models.ExitReason(exitReason.String)
		}
		if exitTime.Valid {
			t.ExitTime = exitTime.Time
		}
		t.TimeInTrade = time.Duration(holdSeconds) * time.Second
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Events returns journalled events of the given kind, newest first. An
// empty kind matches all events.
func (j *Journal) Events(ctx context.Context, kind EventKind, limit int) ([]Event, error) {
	query := "SELECT id, timestamp, kind, symbol, detail FROM events WHERE 1=1"
	args := []interface{}{}

	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e Event
			k string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &k, &e.Symbol, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = EventKind(k)
		events = append(events, e)
	}
	return events, rows.Err()
}

// DailyStats summarises the closed trades entered on the given day.
func (j *Journal) DailyStats(ctx context.Context, day time.Time) (models.TradeStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	row := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE status != ? AND entry_time >= ? AND entry_time < ?
	`, string(models.TradeOpen), start, end)

	var stats models.TradeStats
	if err := row.Scan(&stats.Total, &stats.Wins, &stats.Losses, &stats.TotalPnL); err != nil {
		return stats, fmt.Errorf("failed to query daily stats: %w", err)
	}
	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total) * 100
		stats.AvgPnL = stats.TotalPnL / float64(stats.Total)
	}
	return stats, nil
}

// Close flushes pending events and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.done)
	<-j.flushed
	return j.db.Close()
}
