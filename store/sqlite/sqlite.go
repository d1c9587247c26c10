/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence contract of the cost spread engine on one
  SQLite database: spread lines, the journal, and the source lines the
  demo host owns. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  spread.TxStore:           Spread lines + journal under one transaction
  spread.SourceLineReader:  Source line lookups for batch realization
  generic.MoveBook:         Move lookup, posting and cancellation

KEY TABLES:
  source_lines:  Costs to spread (host records)
  spread_lines:  One row per allocation, unique on (source_line_id, seq_index)
  moves:         Journal entries
  move_lines:    Debit/credit lines of each move

INDEXES:
  - idx_spread_lines_source_seq: Enforces one schedule row per index
  - idx_spread_lines_move: A move realizes at most one spread line
  - idx_spread_lines_pending_due: Scheduler scan (hot path)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection (SQLite
  allows one writer). Inside WithTx every statement goes through the
  *sql.Tx, never the pool.

USAGE:
  store, err := sqlite.New("./data/costspread.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := spread.NewSpreadLedger(store, spread.NewCalculator(), logger)

MIGRATION:
  Versioned SQL migrations (migrations/*.sql) are embedded and applied with
  golang-migrate on New().

SEE ALSO:
  - spread/store.go: Interface definitions
  - journal.go: Moves
  - sourcelines.go: Host records
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" databases
	// live and die with their connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// TRANSACTIONAL STORE (spread.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
// If fn returns error, transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(spread.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txView struct {
	tx *sql.Tx
}

func (tv *txView) SaveSpreadLines(ctx context.Context, lines []spread.SpreadLine) error {
	return saveSpreadLines(ctx, tv.tx, lines)
}

func (tv *txView) SpreadLines(ctx context.Context, id generic.SourceLineID) ([]spread.SpreadLine, error) {
	return spreadLinesOf(ctx, tv.tx, id)
}

func (tv *txView) SpreadLine(ctx context.Context, id spread.SpreadLineID) (*spread.SpreadLine, error) {
	return spreadLine(ctx, tv.tx, id)
}

func (tv *txView) MarkRealized(ctx context.Context, id spread.SpreadLineID, move generic.MoveID) error {
	return markRealized(ctx, tv.tx, id, move)
}

func (tv *txView) DeleteSpreadLines(ctx context.Context, id generic.SourceLineID) error {
	return deleteSpreadLines(ctx, tv.tx, id)
}

func (tv *txView) PendingDue(ctx context.Context, asOf generic.TimePoint) ([]spread.SpreadLine, error) {
	return pendingDue(ctx, tv.tx, asOf)
}

func (tv *txView) CreateMove(ctx context.Context, req generic.MoveRequest) (generic.MoveID, error) {
	return createMove(ctx, tv.tx, req)
}

func (tv *txView) IsPosted(ctx context.Context, id generic.MoveID) (bool, error) {
	return isPosted(ctx, tv.tx, id)
}

func (tv *txView) Move(ctx context.Context, id generic.MoveID) (*generic.Move, error) {
	return loadMove(ctx, tv.tx, id)
}

func (tv *txView) PostMove(ctx context.Context, id generic.MoveID) error {
	return setMoveState(ctx, tv.tx, id, generic.MovePosted)
}

func (tv *txView) CancelMove(ctx context.Context, id generic.MoveID) error {
	return setMoveState(ctx, tv.tx, id, generic.MoveCancelled)
}

func (tv *txView) SetOriginMove(ctx context.Context, id generic.SourceLineID, move generic.MoveID) error {
	return setOriginMove(ctx, tv.tx, id, move)
}

// =============================================================================
// SPREAD LINE STORE (spread.Store interface)
// =============================================================================

// SaveSpreadLines inserts a schedule atomically.
func (s *Store) SaveSpreadLines(ctx context.Context, lines []spread.SpreadLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := saveSpreadLines(ctx, sqlTx, lines); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) SpreadLines(ctx context.Context, id generic.SourceLineID) ([]spread.SpreadLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return spreadLinesOf(ctx, s.db, id)
}

func (s *Store) SpreadLine(ctx context.Context, id spread.SpreadLineID) (*spread.SpreadLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return spreadLine(ctx, s.db, id)
}

func (s *Store) MarkRealized(ctx context.Context, id spread.SpreadLineID, move generic.MoveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markRealized(ctx, s.db, id, move)
}

func (s *Store) DeleteSpreadLines(ctx context.Context, id generic.SourceLineID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteSpreadLines(ctx, s.db, id)
}

func (s *Store) PendingDue(ctx context.Context, asOf generic.TimePoint) ([]spread.SpreadLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pendingDue(ctx, s.db, asOf)
}

const spreadLineColumns = `id, source_line_id, seq_index, amount, due_date, move_id, state, realized_at`

func saveSpreadLines(ctx context.Context, q queryer, lines []spread.SpreadLine) error {
	query := `
		INSERT INTO spread_lines
		(id, source_line_id, seq_index, amount, due_date, move_id, state, realized_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC().Format(time.RFC3339)
	for _, l := range lines {
		state := l.State
		if state == "" {
			state = spread.StatePending
		}
		_, err := q.ExecContext(ctx, query,
			l.ID,
			l.SourceLineID,
			l.Index,
			l.Amount.String(),
			l.DueDate.String(),
			nullString(string(l.MoveID)),
			state,
			nullTime(l.RealizedAt),
			now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("spread line %s#%d: %w", l.SourceLineID, l.Index, spread.ErrScheduleAlreadyExists)
			}
			return fmt.Errorf("failed to insert spread line: %w", err)
		}
	}
	return nil
}

func spreadLinesOf(ctx context.Context, q queryer, id generic.SourceLineID) ([]spread.SpreadLine, error) {
	query := `SELECT ` + spreadLineColumns + ` FROM spread_lines
		WHERE source_line_id = ?
		ORDER BY seq_index ASC`
	return querySpreadLines(ctx, q, query, id)
}

func spreadLine(ctx context.Context, q queryer, id spread.SpreadLineID) (*spread.SpreadLine, error) {
	query := `SELECT ` + spreadLineColumns + ` FROM spread_lines WHERE id = ?`
	lines, err := querySpreadLines(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("spread line %s: %w", id, spread.ErrSpreadLineNotFound)
	}
	return &lines[0], nil
}

func markRealized(ctx context.Context, q queryer, id spread.SpreadLineID, move generic.MoveID) error {
	res, err := q.ExecContext(ctx,
		`UPDATE spread_lines SET move_id = ?, state = ?, realized_at = ? WHERE id = ?`,
		move, spread.StateRealized, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark spread line realized: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("spread line %s: %w", id, spread.ErrSpreadLineNotFound)
	}
	return nil
}

func deleteSpreadLines(ctx context.Context, q queryer, id generic.SourceLineID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM spread_lines WHERE source_line_id = ?`, id)
	return err
}

func pendingDue(ctx context.Context, q queryer, asOf generic.TimePoint) ([]spread.SpreadLine, error) {
	// Dates are stored as YYYY-MM-DD, so text comparison is date order.
	query := `SELECT ` + spreadLineColumns + ` FROM spread_lines
		WHERE state = ? AND due_date <= ?
		ORDER BY due_date ASC, source_line_id ASC, seq_index ASC`
	return querySpreadLines(ctx, q, query, spread.StatePending, asOf.String())
}

func querySpreadLines(ctx context.Context, q queryer, query string, args ...any) ([]spread.SpreadLine, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spread lines: %w", err)
	}
	defer rows.Close()

	var lines []spread.SpreadLine
	for rows.Next() {
		l, err := scanSpreadLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanSpreadLine(rows *sql.Rows) (spread.SpreadLine, error) {
	var (
		l          spread.SpreadLine
		amount     string
		dueDate    string
		moveID     sql.NullString
		realizedAt sql.NullString
	)
	err := rows.Scan(&l.ID, &l.SourceLineID, &l.Index, &amount, &dueDate, &moveID, &l.State, &realizedAt)
	if err != nil {
		return l, fmt.Errorf("failed to scan spread line: %w", err)
	}

	l.Amount = generic.MustParseDecimal(amount)
	l.DueDate, err = generic.ParseDate(dueDate)
	if err != nil {
		return l, fmt.Errorf("spread line %s: bad due date %q: %w", l.ID, dueDate, err)
	}
	l.MoveID = generic.MoveID(moveID.String)
	if realizedAt.Valid {
		t, _ := time.Parse(time.RFC3339, realizedAt.String)
		l.RealizedAt = &t
	}
	return l, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Children first: spread_lines and move_lines reference moves.
	tables := []string{"spread_lines", "move_lines", "moves", "source_lines"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
