/*
handlers.go - HTTP API handlers for the cost spread engine

PURPOSE:
  Exposes the schedule calculator and the spread ledger via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic. The handler also plays the host: it owns source lines and
  books their origin moves.

ENDPOINTS:
  Schedules:
    POST   /api/schedules/preview          Compute a schedule (no persistence)

  Source lines:
    GET    /api/lines                      List source lines
    POST   /api/lines                      Register a source line
    GET    /api/lines/{id}                 Source line + spread lines
    POST   /api/lines/{id}/finalize        Book origin move + generate schedule
    POST   /api/lines/{id}/schedule        Generate schedule
    PUT    /api/lines/{id}/schedule        Regenerate schedule
    DELETE /api/lines/{id}/schedule        Clear schedule
    GET    /api/lines/{id}/spread          Spread lines
    GET    /api/lines/{id}/spread.xlsx     Spread lines as a workbook
    GET    /api/lines/{id}/details         Navigation target
    POST   /api/lines/{id}/realize         Realize every pending line

  Spread lines:
    POST   /api/spread-lines/{id}/realize  Realize one line
    POST   /api/realize-due                Realize lines due by ?as_of=

  Moves:
    GET    /api/moves                      Latest moves (?limit=)
    GET    /api/moves/{id}                 Move with lines
    POST   /api/moves/{id}/post            Post a draft move
    POST   /api/moves/{id}/cancel          Guarded cancellation

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid schedule input, invalid move
  - 404: Source line, spread line or move not found
  - 409: Schedule exists, schedule realized, cancellation blocked
         (the blocking message is in "warning")
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/cost-spread/config"
	"github.com/warp/cost-spread/factory"
	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
	"github.com/warp/cost-spread/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Moves   generic.MoveBook
	Ledger  *spread.SpreadLedger
	Factory *factory.SourceLineFactory
	Log     logrus.FieldLogger

	// CounterpartAccount is credited by origin moves (supplier payable).
	CounterpartAccount generic.AccountID

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(store *sqlite.Store, ledger *spread.SpreadLedger, f *factory.SourceLineFactory, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Store:              store,
		Moves:              store,
		Ledger:             ledger,
		Factory:            f,
		Log:                logger.WithField("module", "api"),
		CounterpartAccount: "401000",
	}
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// PreviewSchedule computes allocations without persisting anything.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var req factory.ScheduleJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in, err := h.Factory.ScheduleFromJSON(req)
	if err != nil {
		h.writeDomainError(w, "Invalid schedule request", err)
		return
	}

	allocs, err := h.Ledger.Calculator().Compute(in)
	if err != nil {
		h.writeDomainError(w, "Failed to compute schedule", err)
		return
	}

	writeJSON(w, http.StatusOK, PreviewResponse{
		Allocations: toAllocationDTOs(allocs),
		Count:       len(allocs),
		Total:       formatAmount(spread.TotalOf(allocs)),
	})
}

// =============================================================================
// SOURCE LINE HANDLERS
// =============================================================================

// ListSourceLines returns all source lines with schedule summaries.
func (h *Handler) ListSourceLines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lines, err := h.Store.ListSourceLines(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list source lines", err)
		return
	}

	dtos := make([]SourceLineDTO, 0, len(lines))
	for _, l := range lines {
		spreadLines, err := h.Ledger.SpreadLines(ctx, l)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load spread lines", err)
			return
		}
		dtos = append(dtos, SourceLineDTO{
			SourceLineJSON: h.Factory.ToJSON(l),
			Summary:        summarize(spreadLines),
		})
	}

	writeJSON(w, http.StatusOK, dtos)
}

// CreateSourceLine registers a source line.
func (h *Handler) CreateSourceLine(w http.ResponseWriter, r *http.Request) {
	var req factory.SourceLineJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	// Origin moves are booked by finalize only.
	req.OriginMove = ""

	line, err := h.Factory.FromJSON(req)
	if err != nil {
		h.writeDomainError(w, "Invalid source line", err)
		return
	}

	ctx := r.Context()
	if _, err := h.Store.SourceLine(ctx, line.ID); err == nil {
		writeError(w, http.StatusConflict, "Source line already exists", nil)
		return
	} else if !generic.IsNotFound(err) {
		writeError(w, http.StatusInternalServerError, "Failed to check source line", err)
		return
	}

	if err := h.Store.SaveSourceLine(ctx, line); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create source line", err)
		return
	}

	writeJSON(w, http.StatusCreated, SourceLineDTO{
		SourceLineJSON: h.Factory.ToJSON(line),
		Summary:        summarize(nil),
	})
}

// GetSourceLine returns a source line with its spread lines.
func (h *Handler) GetSourceLine(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}

	spreadLines, err := h.Ledger.SpreadLines(r.Context(), *line)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load spread lines", err)
		return
	}

	writeJSON(w, http.StatusOK, SourceLineDTO{
		SourceLineJSON: h.Factory.ToJSON(*line),
		Summary:        summarize(spreadLines),
		SpreadLines:    toSpreadLineDTOs(spreadLines),
	})
}

// FinalizeSourceLine books the origin move and generates the schedule.
func (h *Handler) FinalizeSourceLine(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}

	spreadLines, err := h.finalize(r.Context(), line)
	if err != nil {
		h.writeDomainError(w, "Failed to finalize source line", err)
		return
	}

	writeJSON(w, http.StatusOK, SourceLineDTO{
		SourceLineJSON: h.Factory.ToJSON(*line),
		Summary:        summarize(spreadLines),
		SpreadLines:    toSpreadLineDTOs(spreadLines),
	})
}

// finalize books the origin move (debit spread account, credit counterpart)
// and generates the schedule through the ledger, in one unit of work.
func (h *Handler) finalize(ctx context.Context, line *spread.SourceLine) ([]spread.SpreadLine, error) {
	finalized, lines, err := h.Ledger.Finalize(ctx, *line, generic.MoveRequest{
		Ref:           string(line.ID),
		Date:          line.ReferenceDate,
		DebitAccount:  line.Accounts.Spread,
		CreditAccount: h.CounterpartAccount,
		Amount:        line.TotalAmount,
		Post:          true,
	})
	if err != nil {
		return nil, err
	}
	*line = finalized
	return lines, nil
}

// GenerateSchedule creates the spread lines of a source line.
func (h *Handler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}

	spreadLines, err := h.Ledger.GenerateSchedule(r.Context(), *line)
	if err != nil {
		h.writeDomainError(w, "Failed to generate schedule", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSpreadLineDTOs(spreadLines))
}

// RegenerateSchedule replaces the spread lines of a source line.
func (h *Handler) RegenerateSchedule(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}

	spreadLines, err := h.Ledger.RegenerateSchedule(r.Context(), *line)
	if err != nil {
		h.writeDomainError(w, "Failed to regenerate schedule", err)
		return
	}

	writeJSON(w, http.StatusOK, toSpreadLineDTOs(spreadLines))
}

// ClearSchedule deletes the spread lines of a source line.
func (h *Handler) ClearSchedule(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}

	if err := h.Ledger.ClearSchedule(r.Context(), *line); err != nil {
		h.writeDomainError(w, "Failed to clear schedule", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "source_line_id": string(line.ID)})
}

// GetSpreadLines returns the spread lines of a source line.
func (h *Handler) GetSpreadLines(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}

	spreadLines, err := h.Ledger.SpreadLines(r.Context(), *line)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load spread lines", err)
		return
	}

	writeJSON(w, http.StatusOK, toSpreadLineDTOs(spreadLines))
}

// ExportSpreadLines returns the spread lines as an XLSX workbook.
func (h *Handler) ExportSpreadLines(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}

	spreadLines, err := h.Ledger.SpreadLines(r.Context(), *line)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load spread lines", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=spread-%s.xlsx", line.ID))
	if err := writeScheduleXLSX(w, *line, spreadLines); err != nil {
		h.Log.WithError(err).WithField("source_line", line.ID).Error("xlsx export failed")
	}
}

// GetSpreadDetails returns where the host UI navigates for a source line.
func (h *Handler) GetSpreadDetails(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}

	d := h.Ledger.SpreadDetails(*line)
	writeJSON(w, http.StatusOK, DetailsDTO{
		TargetRecordType: d.TargetRecordType,
		SourceLineID:     string(d.SourceLineID),
	})
}

// RealizeSourceLine realizes every pending spread line of a source line.
func (h *Handler) RealizeSourceLine(w http.ResponseWriter, r *http.Request) {
	line, ok := h.loadSourceLine(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	n, err := h.Ledger.RealizeAll(ctx, *line)
	if err != nil {
		h.writeDomainError(w, fmt.Sprintf("Realization stopped after %d line(s)", n), err)
		return
	}

	spreadLines, err := h.Ledger.SpreadLines(ctx, *line)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load spread lines", err)
		return
	}

	writeJSON(w, http.StatusOK, RealizeAllResponse{
		Realized:    n,
		SpreadLines: toSpreadLineDTOs(spreadLines),
	})
}

// =============================================================================
// SPREAD LINE HANDLERS
// =============================================================================

// RealizeSpreadLine realizes one spread line. Realizing twice is a no-op.
func (h *Handler) RealizeSpreadLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := spread.SpreadLineID(pathID(r))

	sl, err := h.Store.SpreadLine(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Spread line not found", err)
		return
	}
	line, err := h.Store.SourceLine(ctx, sl.SourceLineID)
	if err != nil {
		h.writeDomainError(w, "Source line not found", err)
		return
	}

	realized, err := h.Ledger.Realize(ctx, *line, id)
	if err != nil {
		h.writeDomainError(w, "Failed to realize spread line", err)
		return
	}

	writeJSON(w, http.StatusOK, toSpreadLineDTO(realized))
}

// RealizeDue realizes every pending line due on or before ?as_of= (default
// today).
func (h *Handler) RealizeDue(w http.ResponseWriter, r *http.Request) {
	asOf := generic.Today()
	if s := r.URL.Query().Get("as_of"); s != "" {
		parsed, err := generic.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	report, err := h.Ledger.RealizeDue(r.Context(), asOf, h.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to realize due lines", err)
		return
	}

	writeJSON(w, http.StatusOK, toRealizeDueResponse(report))
}

func toRealizeDueResponse(report spread.RealizeReport) RealizeDueResponse {
	resp := RealizeDueResponse{
		AsOf:     report.AsOf.String(),
		Realized: report.Realized,
		Skipped:  report.Skipped,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, RealizeFailureDTO{
			SourceLineID: string(f.SourceLineID),
			SpreadLineID: string(f.SpreadLineID),
			Error:        f.Err.Error(),
		})
	}
	return resp
}

// =============================================================================
// MOVE HANDLERS
// =============================================================================

// ListMoves returns the latest moves, newest first (?limit=, default 50).
func (h *Handler) ListMoves(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	ids, err := h.Store.MoveIDs(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list moves", err)
		return
	}

	dtos := make([]MoveDTO, 0, len(ids))
	for _, id := range ids {
		m, err := h.Moves.Move(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load move", err)
			return
		}
		dtos = append(dtos, toMoveDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMove returns a move with its lines.
func (h *Handler) GetMove(w http.ResponseWriter, r *http.Request) {
	m, err := h.Moves.Move(r.Context(), generic.MoveID(pathID(r)))
	if err != nil {
		h.writeDomainError(w, "Move not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toMoveDTO(m))
}

// PostMove posts a draft move (realization moves booked with auto_post off).
func (h *Handler) PostMove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generic.MoveID(pathID(r))

	if err := h.Moves.PostMove(ctx, id); err != nil {
		h.writeDomainError(w, "Failed to post move", err)
		return
	}
	m, err := h.Moves.Move(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load move", err)
		return
	}

	h.Log.WithField("move", id).Info("move posted")
	writeJSON(w, http.StatusOK, toMoveDTO(m))
}

// CancelMove cancels a move after every source line it booked has passed
// the cancellation guard.
func (h *Handler) CancelMove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generic.MoveID(pathID(r))

	if _, err := h.Moves.Move(ctx, id); err != nil {
		h.writeDomainError(w, "Move not found", err)
		return
	}

	lines, err := h.Store.SourceLinesByOriginMove(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load source lines", err)
		return
	}
	if err := h.Ledger.CancelOrigin(ctx, id, lines); err != nil {
		var blocked *spread.CancellationBlockedError
		if errors.As(err, &blocked) {
			h.writeDomainError(w, "Cancellation blocked", err)
			return
		}
		h.writeDomainError(w, "Failed to cancel move", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "move_id": string(id)})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadSourceLine(w http.ResponseWriter, r *http.Request) (*spread.SourceLine, bool) {
	id := generic.SourceLineID(pathID(r))
	line, err := h.Store.SourceLine(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Source line not found", err)
		return nil, false
	}
	return line, true
}

// pathID returns the {id} URL parameter unescaped. Source line IDs carry
// slashes ("inv-2017-001/1") and arrive as %2F.
func pathID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return id
}

// writeDomainError maps domain errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var (
		blocked *spread.CancellationBlockedError
		invalid *factory.ValidationError
	)
	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   message,
			Details: err.Error(),
			Warning: blocked.Warning(),
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   message,
			Details: err.Error(),
			Fields:  invalid.Fields,
		})
	case errors.Is(err, factory.ErrInvalidSourceLine), spread.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case spread.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case spread.IsConflict(err), errors.Is(err, generic.ErrMoveCancelled):
		writeError(w, http.StatusConflict, message, err)
	default:
		config.LogError(h.Log, "api", message, nil, err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
