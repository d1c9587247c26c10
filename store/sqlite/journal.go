package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/cost-spread/generic"
)

// =============================================================================
// JOURNAL (generic.MoveBook interface)
// =============================================================================

// CreateMove books a balanced two-line move.
func (s *Store) CreateMove(ctx context.Context, req generic.MoveRequest) (generic.MoveID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	id, err := createMove(ctx, sqlTx, req)
	if err != nil {
		return "", err
	}
	return id, sqlTx.Commit()
}

// IsPosted reports whether the move is posted.
func (s *Store) IsPosted(ctx context.Context, id generic.MoveID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return isPosted(ctx, s.db, id)
}

// Move returns a move with its lines.
func (s *Store) Move(ctx context.Context, id generic.MoveID) (*generic.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadMove(ctx, s.db, id)
}

// PostMove moves a draft move to posted.
func (s *Store) PostMove(ctx context.Context, id generic.MoveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setMoveState(ctx, s.db, id, generic.MovePosted)
}

// CancelMove moves a move to cancelled. Callers with spread schedules go
// through spread.SpreadLedger.CancelOrigin instead.
func (s *Store) CancelMove(ctx context.Context, id generic.MoveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setMoveState(ctx, s.db, id, generic.MoveCancelled)
}

func loadMove(ctx context.Context, q queryer, id generic.MoveID) (*generic.Move, error) {
	var (
		m         generic.Move
		moveDate  string
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, ref, move_date, state, created_at FROM moves WHERE id = ?",
		id,
	).Scan(&m.ID, &m.Ref, &moveDate, &m.State, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("move %s: %w", id, generic.ErrMoveNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Date, _ = generic.ParseDate(moveDate)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	rows, err := q.QueryContext(ctx,
		"SELECT account, debit, credit, label FROM move_lines WHERE move_id = ? ORDER BY seq",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l             generic.MoveLine
			debit, credit string
		)
		if err := rows.Scan(&l.Account, &debit, &credit, &l.Label); err != nil {
			return nil, err
		}
		l.Debit = generic.MustParseDecimal(debit)
		l.Credit = generic.MustParseDecimal(credit)
		m.Lines = append(m.Lines, l)
	}
	return &m, rows.Err()
}

func setMoveState(ctx context.Context, q queryer, id generic.MoveID, to generic.MoveState) error {
	var current generic.MoveState
	err := q.QueryRowContext(ctx, "SELECT state FROM moves WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("move %s: %w", id, generic.ErrMoveNotFound)
	}
	if err != nil {
		return err
	}
	if current == generic.MoveCancelled {
		return fmt.Errorf("move %s: %w", id, generic.ErrMoveCancelled)
	}

	_, err = q.ExecContext(ctx, "UPDATE moves SET state = ? WHERE id = ?", to, id)
	return err
}

// MoveIDs returns move ids ordered by date, newest first (for admin view).
func (s *Store) MoveIDs(ctx context.Context, limit int) ([]generic.MoveID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM moves ORDER BY move_date DESC, created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []generic.MoveID
	for rows.Next() {
		var id generic.MoveID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func createMove(ctx context.Context, q queryer, req generic.MoveRequest) (generic.MoveID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	state := generic.MoveDraft
	if req.Post {
		state = generic.MovePosted
	}
	id := generic.MoveID(generic.NewID("mv"))

	_, err := q.ExecContext(ctx,
		"INSERT INTO moves (id, ref, move_date, state, created_at) VALUES (?, ?, ?, ?, ?)",
		id, req.Ref, req.Date.String(), state, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert move: %w", err)
	}

	for i, l := range req.Lines() {
		_, err := q.ExecContext(ctx,
			"INSERT INTO move_lines (move_id, seq, account, debit, credit, label) VALUES (?, ?, ?, ?, ?, ?)",
			id, i, l.Account, l.Debit.String(), l.Credit.String(), l.Label,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert move line: %w", err)
		}
	}
	return id, nil
}

func isPosted(ctx context.Context, q queryer, id generic.MoveID) (bool, error) {
	var state generic.MoveState
	err := q.QueryRowContext(ctx, "SELECT state FROM moves WHERE id = ?", id).Scan(&state)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("move %s: %w", id, generic.ErrMoveNotFound)
	}
	if err != nil {
		return false, err
	}
	return state == generic.MovePosted, nil
}
