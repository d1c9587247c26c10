// Package memory provides an in-memory spread.TxStore and journal.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu sync.RWMutex
	st state

	// MoveHook, when set, runs before every CreateMove and aborts it on
	// error. Tests use it to inject journal failures.
	MoveHook func(req generic.MoveRequest) error

	// Now stamps CreatedAt and RealizedAt.
	Now func() time.Time
}

type lineKey struct {
	SourceLineID generic.SourceLineID
	Index        int
}

type state struct {
	lines   map[spread.SpreadLineID]spread.SpreadLine
	keys    map[lineKey]spread.SpreadLineID
	moves   map[generic.MoveID]generic.Move
	sources map[generic.SourceLineID]spread.SourceLine
}

func newState() state {
	return state{
		lines:   make(map[spread.SpreadLineID]spread.SpreadLine),
		keys:    make(map[lineKey]spread.SpreadLineID),
		moves:   make(map[generic.MoveID]generic.Move),
		sources: make(map[generic.SourceLineID]spread.SourceLine),
	}
}

func New() *Store {
	return &Store{st: newState(), Now: time.Now}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (s *Store) WithTx(ctx context.Context, fn func(spread.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txView{parent: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// SPREAD LINES
// =============================================================================

func (s *Store) SaveSpreadLines(ctx context.Context, lines []spread.SpreadLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLinesLocked(lines)
}

func (s *Store) SpreadLines(_ context.Context, id generic.SourceLineID) ([]spread.SpreadLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.linesOf(id), nil
}

func (s *Store) SpreadLine(_ context.Context, id spread.SpreadLineID) (*spread.SpreadLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.line(id)
}

func (s *Store) MarkRealized(_ context.Context, id spread.SpreadLineID, move generic.MoveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markRealizedLocked(id, move)
}

func (s *Store) DeleteSpreadLines(_ context.Context, id generic.SourceLineID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.deleteLines(id)
	return nil
}

func (s *Store) PendingDue(_ context.Context, asOf generic.TimePoint) ([]spread.SpreadLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.pendingDue(asOf), nil
}

func (s *Store) saveLinesLocked(lines []spread.SpreadLine) error {
	// Check all keys first so a rejected batch writes nothing.
	seen := make(map[lineKey]bool, len(lines))
	for _, l := range lines {
		k := lineKey{SourceLineID: l.SourceLineID, Index: l.Index}
		if _, exists := s.st.keys[k]; exists || seen[k] {
			return fmt.Errorf("spread line %s#%d: duplicate sequence index", l.SourceLineID, l.Index)
		}
		seen[k] = true
	}
	for _, l := range lines {
		s.st.lines[l.ID] = l
		s.st.keys[lineKey{SourceLineID: l.SourceLineID, Index: l.Index}] = l.ID
	}
	return nil
}

func (s *Store) markRealizedLocked(id spread.SpreadLineID, move generic.MoveID) error {
	l, ok := s.st.lines[id]
	if !ok {
		return fmt.Errorf("spread line %s: %w", id, spread.ErrSpreadLineNotFound)
	}
	at := s.Now().UTC()
	l.MoveID = move
	l.State = spread.StateRealized
	l.RealizedAt = &at
	s.st.lines[id] = l
	return nil
}

// =============================================================================
// JOURNAL
// =============================================================================

func (s *Store) CreateMove(_ context.Context, req generic.MoveRequest) (generic.MoveID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createMoveLocked(req)
}

func (s *Store) IsPosted(_ context.Context, id generic.MoveID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.isPosted(id)
}

func (s *Store) Move(_ context.Context, id generic.MoveID) (*generic.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.move(id)
}

// Moves returns every move ordered by date, then creation.
func (s *Store) Moves(_ context.Context) ([]generic.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]generic.Move, 0, len(s.st.moves))
	for _, m := range s.st.moves {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) PostMove(_ context.Context, id generic.MoveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMoveState(id, generic.MovePosted)
}

func (s *Store) CancelMove(_ context.Context, id generic.MoveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMoveState(id, generic.MoveCancelled)
}

func (s *Store) createMoveLocked(req generic.MoveRequest) (generic.MoveID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if s.MoveHook != nil {
		if err := s.MoveHook(req); err != nil {
			return "", err
		}
	}

	st := generic.MoveDraft
	if req.Post {
		st = generic.MovePosted
	}
	m := generic.Move{
		ID:        generic.MoveID(generic.NewID("mv")),
		Ref:       req.Ref,
		Date:      req.Date,
		State:     st,
		Lines:     req.Lines(),
		CreatedAt: s.Now().UTC(),
	}
	s.st.moves[m.ID] = m
	return m.ID, nil
}

func (s *Store) setMoveState(id generic.MoveID, to generic.MoveState) error {
	m, ok := s.st.moves[id]
	if !ok {
		return fmt.Errorf("move %s: %w", id, generic.ErrMoveNotFound)
	}
	if m.State == generic.MoveCancelled {
		return fmt.Errorf("move %s: %w", id, generic.ErrMoveCancelled)
	}
	m.State = to
	s.st.moves[id] = m
	return nil
}

// =============================================================================
// SOURCE LINES - Host records
// =============================================================================

func (s *Store) SaveSourceLine(_ context.Context, line spread.SourceLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.sources[line.ID] = line
	return nil
}

// SetOriginMove links a source line to the move its document booked.
func (s *Store) SetOriginMove(_ context.Context, id generic.SourceLineID, move generic.MoveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.setOriginMove(id, move)
}

// SourceLine implements spread.SourceLineReader.
func (s *Store) SourceLine(_ context.Context, id generic.SourceLineID) (*spread.SourceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	line, ok := s.st.sources[id]
	if !ok {
		return nil, fmt.Errorf("source line %s: %w", id, generic.ErrSourceLineNotFound)
	}
	return &line, nil
}

// =============================================================================
// STATE
// =============================================================================

func (st state) clone() state {
	c := newState()
	for k, v := range st.lines {
		c.lines[k] = v
	}
	for k, v := range st.keys {
		c.keys[k] = v
	}
	for k, v := range st.moves {
		c.moves[k] = v
	}
	for k, v := range st.sources {
		c.sources[k] = v
	}
	return c
}

func (st state) linesOf(id generic.SourceLineID) []spread.SpreadLine {
	var result []spread.SpreadLine
	for _, l := range st.lines {
		if l.SourceLineID == id {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result
}

func (st state) line(id spread.SpreadLineID) (*spread.SpreadLine, error) {
	l, ok := st.lines[id]
	if !ok {
		return nil, fmt.Errorf("spread line %s: %w", id, spread.ErrSpreadLineNotFound)
	}
	return &l, nil
}

func (st state) deleteLines(id generic.SourceLineID) {
	for lid, l := range st.lines {
		if l.SourceLineID == id {
			delete(st.lines, lid)
			delete(st.keys, lineKey{SourceLineID: id, Index: l.Index})
		}
	}
}

func (st state) pendingDue(asOf generic.TimePoint) []spread.SpreadLine {
	var result []spread.SpreadLine
	for _, l := range st.lines {
		if !l.IsRealized() && l.DueDate.BeforeOrEqual(asOf) {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.SourceLineID != b.SourceLineID {
			return a.SourceLineID < b.SourceLineID
		}
		return a.Index < b.Index
	})
	return result
}

func (st state) move(id generic.MoveID) (*generic.Move, error) {
	m, ok := st.moves[id]
	if !ok {
		return nil, fmt.Errorf("move %s: %w", id, generic.ErrMoveNotFound)
	}
	m.Lines = append([]generic.MoveLine(nil), m.Lines...)
	return &m, nil
}

func (st state) setOriginMove(id generic.SourceLineID, move generic.MoveID) error {
	line, ok := st.sources[id]
	if !ok {
		return fmt.Errorf("source line %s: %w", id, generic.ErrSourceLineNotFound)
	}
	line.OriginMove = move
	st.sources[id] = line
	return nil
}

func (st state) isPosted(id generic.MoveID) (bool, error) {
	m, ok := st.moves[id]
	if !ok {
		return false, fmt.Errorf("move %s: %w", id, generic.ErrMoveNotFound)
	}
	return m.State == generic.MovePosted, nil
}

// =============================================================================
// TRANSACTIONAL VIEW - Runs under the parent's write lock
// =============================================================================

type txView struct {
	parent *Store
}

func (tv *txView) SaveSpreadLines(_ context.Context, lines []spread.SpreadLine) error {
	return tv.parent.saveLinesLocked(lines)
}

func (tv *txView) SpreadLines(_ context.Context, id generic.SourceLineID) ([]spread.SpreadLine, error) {
	return tv.parent.st.linesOf(id), nil
}

func (tv *txView) SpreadLine(_ context.Context, id spread.SpreadLineID) (*spread.SpreadLine, error) {
	return tv.parent.st.line(id)
}

func (tv *txView) MarkRealized(_ context.Context, id spread.SpreadLineID, move generic.MoveID) error {
	return tv.parent.markRealizedLocked(id, move)
}

func (tv *txView) DeleteSpreadLines(_ context.Context, id generic.SourceLineID) error {
	tv.parent.st.deleteLines(id)
	return nil
}

func (tv *txView) PendingDue(_ context.Context, asOf generic.TimePoint) ([]spread.SpreadLine, error) {
	return tv.parent.st.pendingDue(asOf), nil
}

func (tv *txView) CreateMove(_ context.Context, req generic.MoveRequest) (generic.MoveID, error) {
	return tv.parent.createMoveLocked(req)
}

func (tv *txView) IsPosted(_ context.Context, id generic.MoveID) (bool, error) {
	return tv.parent.st.isPosted(id)
}

func (tv *txView) Move(_ context.Context, id generic.MoveID) (*generic.Move, error) {
	return tv.parent.st.move(id)
}

func (tv *txView) PostMove(_ context.Context, id generic.MoveID) error {
	return tv.parent.setMoveState(id, generic.MovePosted)
}

func (tv *txView) CancelMove(_ context.Context, id generic.MoveID) error {
	return tv.parent.setMoveState(id, generic.MoveCancelled)
}

func (tv *txView) SetOriginMove(_ context.Context, id generic.SourceLineID, move generic.MoveID) error {
	return tv.parent.st.setOriginMove(id, move)
}
