package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
)

// =============================================================================
// SOURCE LINE STORE - Host records
// =============================================================================

// SaveSourceLine inserts or updates a source line.
func (s *Store) SaveSourceLine(ctx context.Context, line spread.SourceLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO source_lines
		(id, description, total_amount, reference_date, period_count, granularity,
		 anchor_date, spread_account, target_account, origin_move, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			total_amount = excluded.total_amount,
			reference_date = excluded.reference_date,
			period_count = excluded.period_count,
			granularity = excluded.granularity,
			anchor_date = excluded.anchor_date,
			spread_account = excluded.spread_account,
			target_account = excluded.target_account,
			origin_move = excluded.origin_move,
			updated_at = excluded.updated_at
	`

	var anchor sql.NullString
	if line.AnchorDate != nil {
		anchor = sql.NullString{String: line.AnchorDate.String(), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		line.ID, line.Description, line.TotalAmount.String(), line.ReferenceDate.String(),
		line.PeriodCount, line.Granularity, anchor,
		line.Accounts.Spread, line.Accounts.Target,
		nullString(string(line.OriginMove)), now, now,
	)
	return err
}

// SourceLine retrieves a source line by ID.
func (s *Store) SourceLine(ctx context.Context, id generic.SourceLineID) (*spread.SourceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines, err := s.querySourceLines(ctx, `SELECT `+sourceLineColumns+` FROM source_lines WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("source line %s: %w", id, generic.ErrSourceLineNotFound)
	}
	return &lines[0], nil
}

// ListSourceLines returns all source lines by reference date.
func (s *Store) ListSourceLines(ctx context.Context) ([]spread.SourceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.querySourceLines(ctx, `SELECT `+sourceLineColumns+` FROM source_lines ORDER BY reference_date, id`)
}

// SourceLinesByOriginMove returns the source lines booked by a move.
func (s *Store) SourceLinesByOriginMove(ctx context.Context, move generic.MoveID) ([]spread.SourceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.querySourceLines(ctx, `SELECT `+sourceLineColumns+` FROM source_lines WHERE origin_move = ? ORDER BY id`, move)
}

// SetOriginMove links a source line to the move its document booked.
func (s *Store) SetOriginMove(ctx context.Context, id generic.SourceLineID, move generic.MoveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setOriginMove(ctx, s.db, id, move)
}

func setOriginMove(ctx context.Context, q queryer, id generic.SourceLineID, move generic.MoveID) error {
	res, err := q.ExecContext(ctx,
		"UPDATE source_lines SET origin_move = ?, updated_at = ? WHERE id = ?",
		nullString(string(move)), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source line %s: %w", id, generic.ErrSourceLineNotFound)
	}
	return nil
}

const sourceLineColumns = `id, description, total_amount, reference_date, period_count, granularity,
	anchor_date, spread_account, target_account, origin_move`

func (s *Store) querySourceLines(ctx context.Context, query string, args ...any) ([]spread.SourceLine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query source lines: %w", err)
	}
	defer rows.Close()

	var lines []spread.SourceLine
	for rows.Next() {
		var (
			l          spread.SourceLine
			total      string
			refDate    string
			anchor     sql.NullString
			originMove sql.NullString
		)
		err := rows.Scan(&l.ID, &l.Description, &total, &refDate, &l.PeriodCount, &l.Granularity,
			&anchor, &l.Accounts.Spread, &l.Accounts.Target, &originMove)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source line: %w", err)
		}

		l.TotalAmount = generic.MustParseDecimal(total)
		l.ReferenceDate, _ = generic.ParseDate(refDate)
		if anchor.Valid {
			a, err := generic.ParseDate(anchor.String)
			if err == nil {
				l.AnchorDate = &a
			}
		}
		l.OriginMove = generic.MoveID(originMove.String)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
