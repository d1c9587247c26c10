package spread_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
	"github.com/warp/cost-spread/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	prepaidAccount generic.AccountID = "486000"
	expenseAccount generic.AccountID = "613000"
	payableAccount generic.AccountID = "401000"
)

func newTestLedger() (*spread.SpreadLedger, *memory.Store) {
	store := memory.New()
	return spread.NewSpreadLedger(store, spread.NewCalculator(), nil), store
}

// yearlyLine is 1000.00 over 3 years from 2017-07-01:
// 168.03 / 333.33 / 333.33 / 165.31 due 2018-01-01 ... 2021-01-01.
func yearlyLine() spread.SourceLine {
	return spread.SourceLine{
		ID:            "inv-1/1",
		Description:   "Software licence",
		TotalAmount:   dec("1000.00"),
		ReferenceDate: date("2017-07-01"),
		PeriodCount:   3,
		Granularity:   generic.GranularityYear,
		Accounts:      spread.Accounts{Spread: prepaidAccount, Target: expenseAccount},
	}
}

// monthlyLine starts on a boundary: 0.00 then 100.00 x3, due 2018-11-01 ... 2019-02-01.
func monthlyLine() spread.SourceLine {
	return spread.SourceLine{
		ID:            "inv-2/1",
		TotalAmount:   dec("300.00"),
		ReferenceDate: date("2018-11-01"),
		PeriodCount:   3,
		Granularity:   generic.GranularityMonth,
		Accounts:      spread.Accounts{Spread: prepaidAccount, Target: expenseAccount},
	}
}

func bookOrigin(t *testing.T, store *memory.Store, line *spread.SourceLine, post bool) {
	t.Helper()
	id, err := store.CreateMove(context.Background(), generic.MoveRequest{
		Ref:           string(line.ID),
		Date:          line.ReferenceDate,
		DebitAccount:  line.Accounts.Spread,
		CreditAccount: payableAccount,
		Amount:        line.TotalAmount,
		Post:          post,
	})
	require.NoError(t, err)
	line.OriginMove = id
}

func failRef(ref string) func(generic.MoveRequest) error {
	return func(req generic.MoveRequest) error {
		if req.Ref == ref {
			return errors.New("journal unavailable")
		}
		return nil
	}
}

// =============================================================================
// SCHEDULE GENERATION
// =============================================================================

func TestGenerateSchedule(t *testing.T) {
	// GIVEN: a finalized source line
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()

	// WHEN
	lines, err := ledger.GenerateSchedule(ctx, line)

	// THEN: one pending line per allocation, persisted in order
	require.NoError(t, err)
	require.Len(t, lines, 4)

	stored, err := store.SpreadLines(ctx, line.ID)
	require.NoError(t, err)
	require.Len(t, stored, 4)

	wantAmounts := []string{"168.03", "333.33", "333.33", "165.31"}
	wantDue := []string{"2018-01-01", "2019-01-01", "2020-01-01", "2021-01-01"}
	for i, sl := range stored {
		assert.Equal(t, i, sl.Index)
		assert.Equal(t, line.ID, sl.SourceLineID)
		assert.Equal(t, spread.StatePending, sl.State)
		assert.True(t, sl.MoveID.IsZero())
		assert.Equal(t, wantAmounts[i], sl.Amount.StringFixed(2))
		assert.Equal(t, wantDue[i], sl.DueDate.String())
	}
}

func TestGenerateSchedule_AlreadyExists(t *testing.T) {
	// GIVEN: a source line with a schedule
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()
	_, err := ledger.GenerateSchedule(ctx, line)
	require.NoError(t, err)

	// WHEN: generating again
	_, err = ledger.GenerateSchedule(ctx, line)

	// THEN: refused, nothing duplicated
	require.ErrorIs(t, err, spread.ErrScheduleAlreadyExists)
	var exists *spread.ScheduleExistsError
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, 4, exists.Lines)
	assert.True(t, spread.IsConflict(err))

	stored, _ := store.SpreadLines(ctx, line.ID)
	assert.Len(t, stored, 4)
}

func TestGenerateSchedule_InvalidInputWritesNothing(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()
	line.PeriodCount = 0

	_, err := ledger.GenerateSchedule(ctx, line)

	require.ErrorIs(t, err, spread.ErrInvalidScheduleInput)
	stored, _ := store.SpreadLines(ctx, line.ID)
	assert.Empty(t, stored)
}

func TestClearAndRegenerateSchedule(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()
	_, err := ledger.GenerateSchedule(ctx, line)
	require.NoError(t, err)

	t.Run("regenerate replaces the whole schedule", func(t *testing.T) {
		line.PeriodCount = 2
		lines, err := ledger.RegenerateSchedule(ctx, line)
		require.NoError(t, err)
		assert.Len(t, lines, 3)

		stored, _ := store.SpreadLines(ctx, line.ID)
		assert.Len(t, stored, 3)
		assert.True(t, spread.TotalOf(toAllocs(stored)).Equal(dec("1000.00")))
	})

	t.Run("clear removes pending lines", func(t *testing.T) {
		require.NoError(t, ledger.ClearSchedule(ctx, line))
		stored, _ := store.SpreadLines(ctx, line.ID)
		assert.Empty(t, stored)
	})

	t.Run("clear is refused once a line is realized", func(t *testing.T) {
		lines, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)
		_, err = ledger.Realize(ctx, line, lines[0].ID)
		require.NoError(t, err)

		err = ledger.ClearSchedule(ctx, line)
		require.ErrorIs(t, err, spread.ErrScheduleRealized)

		_, err = ledger.RegenerateSchedule(ctx, line)
		require.ErrorIs(t, err, spread.ErrScheduleRealized)

		stored, _ := store.SpreadLines(ctx, line.ID)
		assert.Len(t, stored, 3)
	})
}

func toAllocs(lines []spread.SpreadLine) []spread.Allocation {
	out := make([]spread.Allocation, len(lines))
	for i, sl := range lines {
		out[i] = spread.Allocation{Index: sl.Index, PeriodEnd: sl.DueDate, Amount: sl.Amount}
	}
	return out
}

func TestSpreadDetails(t *testing.T) {
	ledger, _ := newTestLedger()
	details := ledger.SpreadDetails(yearlyLine())
	assert.Equal(t, spread.SpreadLineRecordType, details.TargetRecordType)
	assert.Equal(t, generic.SourceLineID("inv-1/1"), details.SourceLineID)
}

// =============================================================================
// REALIZATION
// =============================================================================

func TestRealize_BooksOneMove(t *testing.T) {
	// GIVEN: a pending spread line
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()
	lines, err := ledger.GenerateSchedule(ctx, line)
	require.NoError(t, err)

	// WHEN
	realized, err := ledger.Realize(ctx, line, lines[0].ID)

	// THEN: the line is realized and the move debits expense, credits prepaid
	require.NoError(t, err)
	assert.Equal(t, spread.StateRealized, realized.State)
	require.False(t, realized.MoveID.IsZero())

	move, err := store.Move(ctx, realized.MoveID)
	require.NoError(t, err)
	assert.Equal(t, "2018-01-01", move.Date.String())
	assert.Equal(t, "inv-1/1/1", move.Ref)
	assert.Equal(t, generic.MovePosted, move.State)
	assert.Equal(t, "168.03", move.DebitOn(expenseAccount).StringFixed(2))
	assert.Equal(t, "168.03", move.CreditOn(prepaidAccount).StringFixed(2))
	assert.True(t, move.DebitOn(prepaidAccount).IsZero())

	stored, err := store.SpreadLine(ctx, lines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, realized.MoveID, stored.MoveID)
	assert.NotNil(t, stored.RealizedAt)
}

func TestRealize_Idempotent(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()
	lines, err := ledger.GenerateSchedule(ctx, line)
	require.NoError(t, err)

	first, err := ledger.Realize(ctx, line, lines[1].ID)
	require.NoError(t, err)

	// WHEN: realizing the same line again
	second, err := ledger.Realize(ctx, line, lines[1].ID)

	// THEN: same move, no second booking
	require.NoError(t, err)
	assert.Equal(t, first.MoveID, second.MoveID)

	moves, err := store.Moves(ctx)
	require.NoError(t, err)
	assert.Len(t, moves, 1)
}

func TestRealize_DraftMovesWhenAutoPostOff(t *testing.T) {
	ledger, store := newTestLedger()
	ledger.AutoPost = false
	ctx := context.Background()
	line := yearlyLine()
	lines, err := ledger.GenerateSchedule(ctx, line)
	require.NoError(t, err)

	realized, err := ledger.Realize(ctx, line, lines[0].ID)
	require.NoError(t, err)

	posted, err := store.IsPosted(ctx, realized.MoveID)
	require.NoError(t, err)
	assert.False(t, posted)
}

func TestRealize_Errors(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()
	lines, err := ledger.GenerateSchedule(ctx, line)
	require.NoError(t, err)

	t.Run("unknown spread line", func(t *testing.T) {
		_, err := ledger.Realize(ctx, line, "spl-missing")
		require.ErrorIs(t, err, spread.ErrSpreadLineNotFound)
		assert.True(t, spread.IsNotFound(err))
	})

	t.Run("line of another source line", func(t *testing.T) {
		other := monthlyLine()
		_, err := ledger.Realize(ctx, other, lines[0].ID)
		require.ErrorIs(t, err, spread.ErrSpreadLineNotFound)
	})

	t.Run("journal failure leaves the line pending", func(t *testing.T) {
		store.MoveHook = failRef("inv-1/1/3")
		defer func() { store.MoveHook = nil }()

		_, err := ledger.Realize(ctx, line, lines[2].ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "journal unavailable")

		stored, _ := store.SpreadLine(ctx, lines[2].ID)
		assert.Equal(t, spread.StatePending, stored.State)
		assert.True(t, stored.MoveID.IsZero())
	})

	t.Run("missing accounts are rejected by the journal", func(t *testing.T) {
		broken := line
		broken.Accounts.Target = ""
		_, err := ledger.Realize(ctx, broken, lines[3].ID)
		require.ErrorIs(t, err, generic.ErrInvalidMove)
	})
}

func TestRealizeAll(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()
	_, err := ledger.GenerateSchedule(ctx, line)
	require.NoError(t, err)

	n, err := ledger.RealizeAll(ctx, line)

	require.NoError(t, err)
	assert.Equal(t, 4, n)

	moves, _ := store.Moves(ctx)
	require.Len(t, moves, 4)
	total := dec("0")
	for _, m := range moves {
		total = total.Add(m.DebitOn(expenseAccount))
	}
	assert.True(t, total.Equal(dec("1000.00")))

	// A second run has nothing left to do.
	n, err = ledger.RealizeAll(ctx, line)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRealizeAll_StopsAtFirstFailure(t *testing.T) {
	// GIVEN: the journal rejects the third move
	ledger, store := newTestLedger()
	ctx := context.Background()
	line := yearlyLine()
	_, err := ledger.GenerateSchedule(ctx, line)
	require.NoError(t, err)
	store.MoveHook = failRef("inv-1/1/3")

	// WHEN
	n, err := ledger.RealizeAll(ctx, line)

	// THEN: the first two stay realized, the rest stay pending
	require.Error(t, err)
	assert.Equal(t, 2, n)

	stored, _ := store.SpreadLines(ctx, line.ID)
	states := []spread.LineState{stored[0].State, stored[1].State, stored[2].State, stored[3].State}
	assert.Equal(t, []spread.LineState{
		spread.StateRealized, spread.StateRealized, spread.StatePending, spread.StatePending,
	}, states)

	moves, _ := store.Moves(ctx)
	assert.Len(t, moves, 2)

	// WHEN: the journal recovers, the retry picks up where it stopped
	store.MoveHook = nil
	n, err = ledger.RealizeAll(ctx, line)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRealizeDue(t *testing.T) {
	// GIVEN: two source lines registered with the host
	ledger, store := newTestLedger()
	ctx := context.Background()
	yearly, monthly := yearlyLine(), monthlyLine()
	for _, l := range []spread.SourceLine{yearly, monthly} {
		require.NoError(t, store.SaveSourceLine(ctx, l))
		_, err := ledger.GenerateSchedule(ctx, l)
		require.NoError(t, err)
	}

	t.Run("one failing source line does not stop the other", func(t *testing.T) {
		store.MoveHook = failRef("inv-2/1/2")
		defer func() { store.MoveHook = nil }()

		report, err := ledger.RealizeDue(ctx, date("2019-01-01"), store)

		// yearly: 2 due, both realized
		// monthly: 3 due, first realized, second fails, third skipped
		require.NoError(t, err)
		assert.Equal(t, 3, report.Realized)
		assert.Equal(t, 1, report.Skipped)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, monthly.ID, report.Failures[0].SourceLineID)
	})

	t.Run("the next run retries what was left", func(t *testing.T) {
		report, err := ledger.RealizeDue(ctx, date("2019-01-01"), store)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Realized)
		assert.Zero(t, report.Skipped)
		assert.Empty(t, report.Failures)

		pending, _ := store.PendingDue(ctx, date("2019-01-01"))
		assert.Empty(t, pending)
	})
}

func TestRealizeDue_UnknownSourceLine(t *testing.T) {
	// GIVEN: a schedule whose source line the host cannot resolve
	ledger, store := newTestLedger()
	ctx := context.Background()
	_, err := ledger.GenerateSchedule(ctx, yearlyLine())
	require.NoError(t, err)

	report, err := ledger.RealizeDue(ctx, date("2019-06-30"), store)

	require.NoError(t, err)
	assert.Zero(t, report.Realized)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, generic.ErrSourceLineNotFound)
}

// =============================================================================
// CANCELLATION GUARD
// =============================================================================

func TestGuardCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("no schedule: allowed", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()
		bookOrigin(t, store, &line, true)

		assert.NoError(t, ledger.GuardCancel(ctx, line))
	})

	t.Run("draft origin move with pending lines: allowed", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()
		bookOrigin(t, store, &line, false)
		_, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)

		assert.NoError(t, ledger.GuardCancel(ctx, line))
	})

	t.Run("posted origin move with pending lines: blocked", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()
		bookOrigin(t, store, &line, true)
		_, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)

		err = ledger.GuardCancel(ctx, line)

		require.ErrorIs(t, err, spread.ErrCancellationBlocked)
		var blocked *spread.CancellationBlockedError
		require.True(t, errors.As(err, &blocked))
		assert.Equal(t, line.OriginMove, blocked.MoveID)
		assert.Zero(t, blocked.Realized)
		assert.Equal(t, 4, blocked.Pending)
		assert.Contains(t, blocked.Warning(), "Clear the schedule first")
	})

	t.Run("realized lines: blocked even for a draft move", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()
		bookOrigin(t, store, &line, false)
		lines, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)
		_, err = ledger.Realize(ctx, line, lines[0].ID)
		require.NoError(t, err)

		err = ledger.GuardCancel(ctx, line)

		var blocked *spread.CancellationBlockedError
		require.True(t, errors.As(err, &blocked))
		assert.Equal(t, 1, blocked.Realized)
		assert.Equal(t, 3, blocked.Pending)
		assert.Contains(t, blocked.Warning(), "already booked")
		assert.True(t, spread.IsConflict(err))
	})

	t.Run("no origin move recorded: allowed while nothing is realized", func(t *testing.T) {
		ledger, _ := newTestLedger()
		line := yearlyLine()
		_, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)

		assert.NoError(t, ledger.GuardCancel(ctx, line))
	})

	t.Run("unknown origin move surfaces the journal error", func(t *testing.T) {
		ledger, _ := newTestLedger()
		line := yearlyLine()
		line.OriginMove = "mv-missing"
		_, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)

		err = ledger.GuardCancel(ctx, line)
		require.ErrorIs(t, err, generic.ErrMoveNotFound)
	})
}

func TestCancelOrigin(t *testing.T) {
	ctx := context.Background()

	t.Run("guard passes: move cancelled", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()
		bookOrigin(t, store, &line, false)
		_, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)

		require.NoError(t, ledger.CancelOrigin(ctx, line.OriginMove, []spread.SourceLine{line}))

		m, err := store.Move(ctx, line.OriginMove)
		require.NoError(t, err)
		assert.Equal(t, generic.MoveCancelled, m.State)
	})

	t.Run("guard blocks: move untouched", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()
		bookOrigin(t, store, &line, true)
		_, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)

		err = ledger.CancelOrigin(ctx, line.OriginMove, []spread.SourceLine{line})

		require.ErrorIs(t, err, spread.ErrCancellationBlocked)
		m, err := store.Move(ctx, line.OriginMove)
		require.NoError(t, err)
		assert.Equal(t, generic.MovePosted, m.State)
	})

	t.Run("any blocked source line blocks the move", func(t *testing.T) {
		ledger, store := newTestLedger()
		first, second := yearlyLine(), monthlyLine()
		bookOrigin(t, store, &first, false)
		second.OriginMove = first.OriginMove
		_, err := ledger.GenerateSchedule(ctx, first)
		require.NoError(t, err)
		lines, err := ledger.GenerateSchedule(ctx, second)
		require.NoError(t, err)
		_, err = ledger.Realize(ctx, second, lines[1].ID)
		require.NoError(t, err)

		err = ledger.CancelOrigin(ctx, first.OriginMove, []spread.SourceLine{first, second})

		require.ErrorIs(t, err, spread.ErrCancellationBlocked)
		m, err := store.Move(ctx, first.OriginMove)
		require.NoError(t, err)
		assert.Equal(t, generic.MoveDraft, m.State)
	})
}

// =============================================================================
// FINALIZE
// =============================================================================

func originRequest(line spread.SourceLine) generic.MoveRequest {
	return generic.MoveRequest{
		Ref:           string(line.ID),
		Date:          line.ReferenceDate,
		DebitAccount:  line.Accounts.Spread,
		CreditAccount: payableAccount,
		Amount:        line.TotalAmount,
		Post:          true,
	}
}

func TestFinalize(t *testing.T) {
	// GIVEN: a stored source line
	ctx := context.Background()
	ledger, store := newTestLedger()
	line := yearlyLine()
	require.NoError(t, store.SaveSourceLine(ctx, line))

	// WHEN
	finalized, lines, err := ledger.Finalize(ctx, line, originRequest(line))

	// THEN: origin move booked and linked, schedule written
	require.NoError(t, err)
	require.Len(t, lines, 4)
	require.False(t, finalized.OriginMove.IsZero())

	stored, err := store.SourceLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, finalized.OriginMove, stored.OriginMove)

	posted, err := store.IsPosted(ctx, finalized.OriginMove)
	require.NoError(t, err)
	assert.True(t, posted)

	t.Run("a second finalize conflicts", func(t *testing.T) {
		_, _, err := ledger.Finalize(ctx, finalized, originRequest(line))
		require.ErrorIs(t, err, spread.ErrAlreadyFinalized)
		assert.True(t, spread.IsConflict(err))
	})
}

func TestFinalize_FailureBooksNothing(t *testing.T) {
	ctx := context.Background()

	t.Run("schedule already exists", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()
		require.NoError(t, store.SaveSourceLine(ctx, line))
		_, err := ledger.GenerateSchedule(ctx, line)
		require.NoError(t, err)

		_, _, err = ledger.Finalize(ctx, line, originRequest(line))

		require.ErrorIs(t, err, spread.ErrScheduleAlreadyExists)
		moves, _ := store.Moves(ctx)
		assert.Empty(t, moves)
		stored, err := store.SourceLine(ctx, line.ID)
		require.NoError(t, err)
		assert.True(t, stored.OriginMove.IsZero())
	})

	t.Run("invalid schedule input", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()
		line.PeriodCount = 0
		require.NoError(t, store.SaveSourceLine(ctx, line))

		_, _, err := ledger.Finalize(ctx, line, originRequest(line))

		require.ErrorIs(t, err, spread.ErrInvalidScheduleInput)
		moves, _ := store.Moves(ctx)
		assert.Empty(t, moves)
	})

	t.Run("unknown source line", func(t *testing.T) {
		ledger, store := newTestLedger()
		line := yearlyLine()

		_, _, err := ledger.Finalize(ctx, line, originRequest(line))

		require.ErrorIs(t, err, generic.ErrSourceLineNotFound)
		moves, _ := store.Moves(ctx)
		assert.Empty(t, moves)
		lines, _ := store.SpreadLines(ctx, line.ID)
		assert.Empty(t, lines)
	})
}
