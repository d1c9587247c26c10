/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - Decimal amounts as strings (no float64 on the wire)
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Schedules:
    AllocationDTO, PreviewResponse (request body is factory.ScheduleJSON)

  Source lines:
    SourceLineDTO, ScheduleSummaryDTO (request body is factory.SourceLineJSON)

  Spread lines:
    SpreadLineDTO, DetailsDTO, RealizeAllResponse, RealizeDueResponse

  Moves:
    MoveDTO, MoveLineDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request bodies are validated by the factory (struct tags), not here.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/sourceline.go: SourceLineJSON / ScheduleJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cost-spread/factory"
	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AllocationDTO is one computed allocation.
type AllocationDTO struct {
	Index     int    `json:"index"`
	PeriodEnd string `json:"period_end"`
	Amount    string `json:"amount"`
}

// PreviewResponse is the result of a schedule computation.
type PreviewResponse struct {
	Allocations []AllocationDTO `json:"allocations"`
	Count       int             `json:"count"`
	Total       string          `json:"total"`
}

// SpreadLineDTO represents a persisted spread line.
type SpreadLineDTO struct {
	ID           string `json:"id"`
	SourceLineID string `json:"source_line_id"`
	Index        int    `json:"index"`
	Amount       string `json:"amount"`
	DueDate      string `json:"due_date"`
	State        string `json:"state"`
	MoveID       string `json:"move_id,omitempty"`
	RealizedAt   string `json:"realized_at,omitempty"`
}

// ScheduleSummaryDTO aggregates a source line's spread lines.
type ScheduleSummaryDTO struct {
	Lines          int    `json:"lines"`
	Realized       int    `json:"realized"`
	Pending        int    `json:"pending"`
	Total          string `json:"total"`
	RealizedAmount string `json:"realized_amount"`
}

// SourceLineDTO is a source line with its schedule.
type SourceLineDTO struct {
	factory.SourceLineJSON
	Summary     ScheduleSummaryDTO `json:"summary"`
	SpreadLines []SpreadLineDTO    `json:"spread_lines,omitempty"`
}

// DetailsDTO is the navigation target of a source line's spread lines.
type DetailsDTO struct {
	TargetRecordType string `json:"target_record_type"`
	SourceLineID     string `json:"source_line_id"`
}

// RealizeAllResponse reports a batch realization of one source line.
type RealizeAllResponse struct {
	Realized    int             `json:"realized"`
	SpreadLines []SpreadLineDTO `json:"spread_lines"`
}

// RealizeFailureDTO is one line a due-date run could not realize.
type RealizeFailureDTO struct {
	SourceLineID string `json:"source_line_id"`
	SpreadLineID string `json:"spread_line_id"`
	Error        string `json:"error"`
}

// RealizeDueResponse reports a due-date realization run.
type RealizeDueResponse struct {
	AsOf     string              `json:"as_of"`
	Realized int                 `json:"realized"`
	Skipped  int                 `json:"skipped"`
	Failures []RealizeFailureDTO `json:"failures,omitempty"`
}

// MoveLineDTO is one debit/credit line.
type MoveLineDTO struct {
	Account string `json:"account"`
	Debit   string `json:"debit"`
	Credit  string `json:"credit"`
	Label   string `json:"label,omitempty"`
}

// MoveDTO represents a journal move.
type MoveDTO struct {
	ID        string        `json:"id"`
	Ref       string        `json:"ref"`
	Date      string        `json:"date"`
	State     string        `json:"state"`
	Lines     []MoveLineDTO `json:"lines"`
	CreatedAt string        `json:"created_at,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is returned for all errors. Warning carries the blocking
// message a user must see when a cancellation is refused.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Warning string            `json:"warning,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(generic.CurrencyPrecision)
}

func toAllocationDTOs(allocs []spread.Allocation) []AllocationDTO {
	dtos := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		dtos[i] = AllocationDTO{
			Index:     a.Index,
			PeriodEnd: a.PeriodEnd.String(),
			Amount:    formatAmount(a.Amount),
		}
	}
	return dtos
}

func toSpreadLineDTO(l spread.SpreadLine) SpreadLineDTO {
	dto := SpreadLineDTO{
		ID:           string(l.ID),
		SourceLineID: string(l.SourceLineID),
		Index:        l.Index,
		Amount:       formatAmount(l.Amount),
		DueDate:      l.DueDate.String(),
		State:        string(l.State),
		MoveID:       string(l.MoveID),
	}
	if l.RealizedAt != nil {
		dto.RealizedAt = l.RealizedAt.Format(time.RFC3339)
	}
	return dto
}

func toSpreadLineDTOs(lines []spread.SpreadLine) []SpreadLineDTO {
	dtos := make([]SpreadLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = toSpreadLineDTO(l)
	}
	return dtos
}

func summarize(lines []spread.SpreadLine) ScheduleSummaryDTO {
	total, realizedAmount := decimal.Zero, decimal.Zero
	realized := 0
	for _, l := range lines {
		total = total.Add(l.Amount)
		if l.IsRealized() {
			realized++
			realizedAmount = realizedAmount.Add(l.Amount)
		}
	}
	return ScheduleSummaryDTO{
		Lines:          len(lines),
		Realized:       realized,
		Pending:        len(lines) - realized,
		Total:          formatAmount(total),
		RealizedAmount: formatAmount(realizedAmount),
	}
}

func toMoveDTO(m *generic.Move) MoveDTO {
	dto := MoveDTO{
		ID:    string(m.ID),
		Ref:   m.Ref,
		Date:  m.Date.String(),
		State: string(m.State),
		Lines: make([]MoveLineDTO, len(m.Lines)),
	}
	for i, l := range m.Lines {
		dto.Lines[i] = MoveLineDTO{
			Account: string(l.Account),
			Debit:   formatAmount(l.Debit),
			Credit:  formatAmount(l.Credit),
			Label:   l.Label,
		}
	}
	if !m.CreatedAt.IsZero() {
		dto.CreatedAt = m.CreatedAt.Format(time.RFC3339)
	}
	return dto
}
