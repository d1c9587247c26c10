/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	source lines, origin moves and spread schedules. Each scenario shows one
	behavior of the spread engine.

AVAILABLE SCENARIOS:

	monthly-anchored:   12 monthly shares, first one ending on an anchor date
	quarterly-stub:     7 quarters with a leading stub (8 allocations)
	yearly-realized:    3 years, two shares booked: cancellation is blocked
	draft-line:         Registered but not finalized, nothing booked

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create source lines via factory JSON
 3. Finalize (book origin move + generate schedule)
 4. Optionally realize lines due by a fixed date

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "yearly-realized"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Finalize and realization handlers
  - factory/sourceline.go: Source line JSON
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/cost-spread/factory"
	"github.com/warp/cost-spread/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "monthly-anchored",
		Name:        "Monthly, Anchored",
		Description: "1000.00 over 12 months, first share ends 2017-02-01, lines due by mid-2017 realized",
		Category:    "month",
	},
	{
		ID:          "quarterly-stub",
		Name:        "Quarterly With Stub",
		Description: "2000.00 over 7 quarters from 2017-03-01: a one-month stub then 7 full quarters",
		Category:    "quarter",
	},
	{
		ID:          "yearly-realized",
		Name:        "Yearly, Partly Booked",
		Description: "1000.00 over 3 years from 2017-07-01, first two shares booked; cancelling the invoice is blocked",
		Category:    "year",
	},
	{
		ID:          "draft-line",
		Name:        "Draft Line",
		Description: "A registered source line that is not finalized yet",
		Category:    "month",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loader, ok := map[string]func(context.Context) error{
		"monthly-anchored": h.loadMonthlyAnchoredScenario,
		"quarterly-stub":   h.loadQuarterlyStubScenario,
		"yearly-realized":  h.loadYearlyRealizedScenario,
		"draft-line":       h.loadDraftLineScenario,
	}[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := loader(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMonthlyAnchoredScenario(ctx context.Context) error {
	if err := h.createFinalizedLine(ctx, factory.SourceLineJSON{
		ID:          "inv-2017-001/1",
		Description: "Maintenance contract 2017",
		ScheduleJSON: factory.ScheduleJSON{
			TotalAmount:   "1000.00",
			ReferenceDate: "2017-01-15",
			PeriodCount:   12,
			Granularity:   "month",
			AnchorDate:    "2017-02-01",
		},
	}); err != nil {
		return err
	}

	_, err := h.Ledger.RealizeDue(ctx, generic.NewTimePoint(2017, 6, 30), h.Store)
	return err
}

func (h *Handler) loadQuarterlyStubScenario(ctx context.Context) error {
	return h.createFinalizedLine(ctx, factory.SourceLineJSON{
		ID:          "inv-2017-014/1",
		Description: "Insurance premium, 7 quarters",
		ScheduleJSON: factory.ScheduleJSON{
			TotalAmount:   "2000.00",
			ReferenceDate: "2017-03-01",
			PeriodCount:   7,
			Granularity:   "quarter",
		},
	})
}

func (h *Handler) loadYearlyRealizedScenario(ctx context.Context) error {
	sj := factory.SourceLineJSON{
		ID:          "inv-2017-027/1",
		Description: "Software licence 2017-2020",
		ScheduleJSON: factory.ScheduleJSON{
			TotalAmount:   "1000.00",
			ReferenceDate: "2017-07-01",
			PeriodCount:   3,
			Granularity:   "year",
		},
	}
	if err := h.createFinalizedLine(ctx, sj); err != nil {
		return err
	}

	// Ends 2018-01-01 and 2019-01-01 are due; the last two stay pending.
	_, err := h.Ledger.RealizeDue(ctx, generic.NewTimePoint(2019, 1, 1), h.Store)
	return err
}

func (h *Handler) loadDraftLineScenario(ctx context.Context) error {
	line, err := h.Factory.FromJSON(factory.SourceLineJSON{
		ID:          "inv-2017-033/2",
		Description: "Trade fair stand, spread over the campaign",
		ScheduleJSON: factory.ScheduleJSON{
			TotalAmount:   "4500.00",
			ReferenceDate: "2017-09-12",
			PeriodCount:   6,
			Granularity:   "month",
		},
	})
	if err != nil {
		return err
	}
	return h.Store.SaveSourceLine(ctx, line)
}

func (h *Handler) createFinalizedLine(ctx context.Context, sj factory.SourceLineJSON) error {
	line, err := h.Factory.FromJSON(sj)
	if err != nil {
		return err
	}
	if err := h.Store.SaveSourceLine(ctx, line); err != nil {
		return err
	}
	_, err = h.finalize(ctx, &line)
	return err
}
