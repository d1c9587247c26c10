/*
ledger.go - Spread ledger: materializes schedules and realizes them as moves

PURPOSE:
  Owns the spread lines of every source line. Generates them from the
  calculator, books exactly one journal move per line, and refuses to let
  the source line's origin move be cancelled once spreading has started.

CRITICAL INVARIANTS:
  1. ONE SCHEDULE: GenerateSchedule fails if lines already exist; a schedule
     is replaced only by ClearSchedule + GenerateSchedule (or Regenerate)
  2. ALL-OR-NOTHING: A schedule is written in one unit of work
  3. ONE MOVE PER LINE: Realize reads the line state, creates the move and
     marks the line realized in the same unit of work; a realized line is
     never booked again
  4. NO SILENT UNDO: GuardCancel blocks cancellation of the origin move when
     any line is realized, or when lines exist and the move is posted;
     CancelOrigin runs the guard and the cancellation in one unit of work
  5. ATOMIC FINALIZE: Finalize books the origin move, links it and writes
     the schedule in one unit of work

FAILURES:
  Journal failures propagate wrapped but unmodified. Nothing is retried:
  a failed line stays pending for the operator to retry.

EXAMPLE:
  ledger := spread.NewSpreadLedger(store, spread.NewCalculator(), logger)
  lines, err := ledger.GenerateSchedule(ctx, sourceLine)
  n, err := ledger.RealizeAll(ctx, sourceLine)
  if err := ledger.GuardCancel(ctx, sourceLine); err != nil {
      var blocked *spread.CancellationBlockedError
      if errors.As(err, &blocked) {
          showWarning(blocked.Warning())
      }
  }

SEE ALSO:
  - schedule.go: Calculator
  - store.go: TxStore / UnitOfWork
*/
package spread

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/warp/cost-spread/generic"
)

// SourceLineReader resolves source lines for batch realization.
type SourceLineReader interface {
	SourceLine(ctx context.Context, id generic.SourceLineID) (*SourceLine, error)
}

// =============================================================================
// SPREAD LEDGER
// =============================================================================

type SpreadLedger struct {
	store TxStore
	calc  *Calculator
	log   logrus.FieldLogger

	// AutoPost books realization moves directly in the posted state.
	AutoPost bool
}

func NewSpreadLedger(store TxStore, calc *Calculator, logger logrus.FieldLogger) *SpreadLedger {
	if calc == nil {
		calc = NewCalculator()
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &SpreadLedger{
		store:    store,
		calc:     calc,
		log:      logger.WithField("module", "spread"),
		AutoPost: true,
	}
}

func (l *SpreadLedger) Calculator() *Calculator { return l.calc }

// =============================================================================
// SCHEDULE
// =============================================================================

// GenerateSchedule computes the allocations of line and persists one pending
// spread line per allocation.
func (l *SpreadLedger) GenerateSchedule(ctx context.Context, line SourceLine) ([]SpreadLine, error) {
	var lines []SpreadLine
	err := l.store.WithTx(ctx, func(uow UnitOfWork) error {
		var err error
		lines, err = l.generate(ctx, uow, line)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"source_line": line.ID,
		"lines":       len(lines),
		"total":       line.TotalAmount.String(),
	}).Info("spread schedule generated")
	return lines, nil
}

// Finalize books origin (the move of the document that carries line), links
// it to line and generates the schedule, all in one unit of work. Nothing is
// booked when the schedule cannot be generated.
func (l *SpreadLedger) Finalize(ctx context.Context, line SourceLine, origin generic.MoveRequest) (SourceLine, []SpreadLine, error) {
	if !line.OriginMove.IsZero() {
		return line, nil, fmt.Errorf("source line %s: %w", line.ID, ErrAlreadyFinalized)
	}

	finalized := line
	var lines []SpreadLine
	err := l.store.WithTx(ctx, func(uow UnitOfWork) error {
		moveID, err := uow.CreateMove(ctx, origin)
		if err != nil {
			return fmt.Errorf("book origin move: %w", err)
		}
		if err := uow.SetOriginMove(ctx, line.ID, moveID); err != nil {
			return err
		}
		finalized.OriginMove = moveID
		lines, err = l.generate(ctx, uow, finalized)
		return err
	})
	if err != nil {
		return line, nil, err
	}

	l.log.WithFields(logrus.Fields{
		"source_line": line.ID,
		"move":        finalized.OriginMove,
		"lines":       len(lines),
	}).Info("source line finalized")
	return finalized, lines, nil
}

// ClearSchedule deletes every spread line of line. Refused once any line is
// realized.
func (l *SpreadLedger) ClearSchedule(ctx context.Context, line SourceLine) error {
	err := l.store.WithTx(ctx, func(uow UnitOfWork) error {
		return l.clear(ctx, uow, line)
	})
	if err == nil {
		l.log.WithField("source_line", line.ID).Info("spread schedule cleared")
	}
	return err
}

// RegenerateSchedule replaces the whole schedule in one unit of work.
func (l *SpreadLedger) RegenerateSchedule(ctx context.Context, line SourceLine) ([]SpreadLine, error) {
	var lines []SpreadLine
	err := l.store.WithTx(ctx, func(uow UnitOfWork) error {
		if err := l.clear(ctx, uow, line); err != nil {
			return err
		}
		var err error
		lines, err = l.generate(ctx, uow, line)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{
		"source_line": line.ID,
		"lines":       len(lines),
	}).Info("spread schedule regenerated")
	return lines, nil
}

func (l *SpreadLedger) generate(ctx context.Context, uow UnitOfWork, line SourceLine) ([]SpreadLine, error) {
	existing, err := uow.SpreadLines(ctx, line.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, &ScheduleExistsError{SourceLineID: line.ID, Lines: len(existing)}
	}

	allocs, err := l.calc.Compute(line.ScheduleInput())
	if err != nil {
		return nil, err
	}

	lines := make([]SpreadLine, len(allocs))
	for i, a := range allocs {
		lines[i] = SpreadLine{
			ID:           SpreadLineID(generic.NewID("spl")),
			SourceLineID: line.ID,
			Index:        a.Index,
			Amount:       a.Amount,
			DueDate:      a.PeriodEnd,
			State:        StatePending,
		}
	}
	if err := uow.SaveSpreadLines(ctx, lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (l *SpreadLedger) clear(ctx context.Context, uow UnitOfWork, line SourceLine) error {
	existing, err := uow.SpreadLines(ctx, line.ID)
	if err != nil {
		return err
	}
	if realized := countRealized(existing); realized > 0 {
		return &ScheduleRealizedError{SourceLineID: line.ID, Realized: realized}
	}
	return uow.DeleteSpreadLines(ctx, line.ID)
}

// SpreadLines returns the schedule of line ordered by index.
func (l *SpreadLedger) SpreadLines(ctx context.Context, line SourceLine) ([]SpreadLine, error) {
	return l.store.SpreadLines(ctx, line.ID)
}

// SpreadDetails is the navigation target for the host UI.
func (l *SpreadLedger) SpreadDetails(line SourceLine) Details {
	return Details{TargetRecordType: SpreadLineRecordType, SourceLineID: line.ID}
}

// =============================================================================
// REALIZATION
// =============================================================================

// Realize books the move of one spread line. Realizing a realized line is a
// no-op that returns the line unchanged.
func (l *SpreadLedger) Realize(ctx context.Context, line SourceLine, id SpreadLineID) (SpreadLine, error) {
	var (
		result  SpreadLine
		created bool
	)
	err := l.store.WithTx(ctx, func(uow UnitOfWork) error {
		var err error
		result, created, err = l.realize(ctx, uow, line, id)
		return err
	})
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"source_line": line.ID,
			"spread_line": id,
		}).WithError(err).Warn("spread line realization failed")
		return SpreadLine{}, err
	}
	if created {
		l.log.WithFields(logrus.Fields{
			"source_line": line.ID,
			"spread_line": id,
			"move":        result.MoveID,
			"amount":      result.Amount.String(),
			"date":        result.DueDate.String(),
		}).Info("spread line realized")
	}
	return result, nil
}

func (l *SpreadLedger) realize(ctx context.Context, uow UnitOfWork, line SourceLine, id SpreadLineID) (SpreadLine, bool, error) {
	sl, err := uow.SpreadLine(ctx, id)
	if err != nil {
		return SpreadLine{}, false, err
	}
	if sl.SourceLineID != line.ID {
		return SpreadLine{}, false, fmt.Errorf("spread line %s of source line %s: %w", id, line.ID, ErrSpreadLineNotFound)
	}
	if sl.IsRealized() {
		return *sl, false, nil
	}

	moveID, err := uow.CreateMove(ctx, generic.MoveRequest{
		Ref:           fmt.Sprintf("%s/%d", line.ID, sl.Index+1),
		Date:          sl.DueDate,
		DebitAccount:  line.Accounts.Target,
		CreditAccount: line.Accounts.Spread,
		Amount:        sl.Amount,
		Post:          l.AutoPost,
	})
	if err != nil {
		return SpreadLine{}, false, fmt.Errorf("realize spread line %s: %w", id, err)
	}
	if err := uow.MarkRealized(ctx, id, moveID); err != nil {
		return SpreadLine{}, false, err
	}

	sl.MoveID = moveID
	sl.State = StateRealized
	return *sl, true, nil
}

// RealizeAll realizes every pending line of line in ascending due date order.
// It stops at the first failure; lines realized before it stay realized.
func (l *SpreadLedger) RealizeAll(ctx context.Context, line SourceLine) (int, error) {
	lines, err := l.store.SpreadLines(ctx, line.ID)
	if err != nil {
		return 0, err
	}
	sortByDueDate(lines)

	realized := 0
	for _, sl := range lines {
		if sl.IsRealized() {
			continue
		}
		if _, err := l.Realize(ctx, line, sl.ID); err != nil {
			return realized, err
		}
		realized++
	}
	return realized, nil
}

// RealizeFailure records one line the batch could not realize.
type RealizeFailure struct {
	SourceLineID generic.SourceLineID
	SpreadLineID SpreadLineID
	Err          error
}

type RealizeReport struct {
	AsOf     generic.TimePoint
	Realized int
	Skipped  int
	Failures []RealizeFailure
}

// RealizeDue realizes every pending line due on or before asOf. A failure
// stops the remaining lines of the same source line (they are counted as
// skipped) but not the other source lines.
func (l *SpreadLedger) RealizeDue(ctx context.Context, asOf generic.TimePoint, sources SourceLineReader) (RealizeReport, error) {
	report := RealizeReport{AsOf: asOf}

	due, err := l.store.PendingDue(ctx, asOf)
	if err != nil {
		return report, err
	}

	resolved := make(map[generic.SourceLineID]*SourceLine)
	halted := make(map[generic.SourceLineID]bool)
	for _, sl := range due {
		if halted[sl.SourceLineID] {
			report.Skipped++
			continue
		}

		src, ok := resolved[sl.SourceLineID]
		if !ok {
			src, err = sources.SourceLine(ctx, sl.SourceLineID)
			if err != nil {
				halted[sl.SourceLineID] = true
				report.Failures = append(report.Failures, RealizeFailure{
					SourceLineID: sl.SourceLineID, SpreadLineID: sl.ID, Err: err,
				})
				continue
			}
			resolved[sl.SourceLineID] = src
		}

		if _, err := l.Realize(ctx, *src, sl.ID); err != nil {
			halted[sl.SourceLineID] = true
			report.Failures = append(report.Failures, RealizeFailure{
				SourceLineID: sl.SourceLineID, SpreadLineID: sl.ID, Err: err,
			})
			continue
		}
		report.Realized++
	}

	l.log.WithFields(logrus.Fields{
		"as_of":    asOf.String(),
		"realized": report.Realized,
		"skipped":  report.Skipped,
		"failed":   len(report.Failures),
	}).Info("due spread lines processed")
	return report, nil
}

// =============================================================================
// CANCELLATION GUARD
// =============================================================================

// GuardCancel must be called by the host before cancelling line's origin
// move. A *CancellationBlockedError means the cancellation must not proceed.
func (l *SpreadLedger) GuardCancel(ctx context.Context, line SourceLine) error {
	return l.guard(ctx, l.store, line)
}

// CancelOrigin cancels move once every source line it booked passes the
// guard. The checks and the cancellation share one unit of work, so no line
// can be realized in between.
func (l *SpreadLedger) CancelOrigin(ctx context.Context, move generic.MoveID, lines []SourceLine) error {
	err := l.store.WithTx(ctx, func(uow UnitOfWork) error {
		for _, line := range lines {
			if err := l.guard(ctx, uow, line); err != nil {
				return err
			}
		}
		return uow.CancelMove(ctx, move)
	})
	if err == nil {
		l.log.WithFields(logrus.Fields{
			"move":         move,
			"source_lines": len(lines),
		}).Info("origin move cancelled")
	}
	return err
}

func (l *SpreadLedger) guard(ctx context.Context, uow UnitOfWork, line SourceLine) error {
	lines, err := uow.SpreadLines(ctx, line.ID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	realized := countRealized(lines)
	blocked := &CancellationBlockedError{
		SourceLineID: line.ID,
		MoveID:       line.OriginMove,
		Realized:     realized,
		Pending:      len(lines) - realized,
	}

	if realized > 0 {
		blocked.Reason = fmt.Sprintf("%d spread lines are already realized", realized)
		return l.blocked(blocked)
	}

	if !line.OriginMove.IsZero() {
		posted, err := uow.IsPosted(ctx, line.OriginMove)
		if err != nil {
			return err
		}
		if posted {
			blocked.Reason = "the move is posted and has a spread schedule"
			return l.blocked(blocked)
		}
	}
	return nil
}

func (l *SpreadLedger) blocked(err *CancellationBlockedError) error {
	l.log.WithFields(logrus.Fields{
		"source_line": err.SourceLineID,
		"move":        err.MoveID,
		"realized":    err.Realized,
		"pending":     err.Pending,
	}).Warn("origin move cancellation blocked")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func countRealized(lines []SpreadLine) int {
	n := 0
	for _, sl := range lines {
		if sl.IsRealized() {
			n++
		}
	}
	return n
}

func sortByDueDate(lines []SpreadLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].DueDate.Equal(lines[j].DueDate) {
			return lines[i].DueDate.Before(lines[j].DueDate)
		}
		return lines[i].Index < lines[j].Index
	})
}
