/*
Package factory provides JSON to Go source line conversion.

PURPOSE:
  Converts JSON source line definitions into spread.SourceLine and
  spread.ScheduleInput values. Struct tags carry the validation rules, so
  a malformed request is rejected here with a per-field report before it
  reaches the calculator.

JSON SCHEMA:
  {
    "id": "inv-2017-001/1",
    "description": "Software licence 2017-2020",
    "total_amount": "1000.00",
    "reference_date": "2017-01-31",
    "period_count": 12,
    "granularity": "month",
    "anchor_date": "2017-02-28",
    "spread_account": "486000",
    "target_account": "613000"
  }

  total_amount is a decimal string; JSON numbers would go through float64.
  Accounts default to the factory's configured accounts when omitted.

USAGE:
  f := factory.NewSourceLineFactory(spread.Accounts{Spread: "486000", Target: "613000"})
  line, err := f.ParseSourceLine(jsonString)
  var verr *factory.ValidationError
  if errors.As(err, &verr) {
      // verr.Fields: {"period_count": "min"}
  }

SEE ALSO:
  - spread/types.go: SourceLine
  - api/handlers.go: Request decoding
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the calculator input.
type ScheduleJSON struct {
	TotalAmount   string `json:"total_amount" validate:"required,numeric"`
	ReferenceDate string `json:"reference_date" validate:"required,datetime=2006-01-02"`
	PeriodCount   int    `json:"period_count" validate:"required,min=1,max=1200"`
	Granularity   string `json:"granularity" validate:"required,oneof=month quarter year"`
	AnchorDate    string `json:"anchor_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// SourceLineJSON is the JSON representation of a source line.
type SourceLineJSON struct {
	ID          string `json:"id,omitempty" validate:"omitempty,max=64"`
	Description string `json:"description,omitempty" validate:"max=256"`
	ScheduleJSON
	SpreadAccount string `json:"spread_account,omitempty" validate:"omitempty,max=64"`
	TargetAccount string `json:"target_account,omitempty" validate:"omitempty,max=64,nefield=SpreadAccount"`
	OriginMove    string `json:"origin_move,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidSourceLine is returned for JSON that fails decoding or validation.
var ErrInvalidSourceLine = errors.New("invalid source line")

// ValidationError maps JSON field names to the failed rule.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "invalid source line: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSourceLine
}

// =============================================================================
// SOURCE LINE FACTORY
// =============================================================================

// SourceLineFactory converts JSON source lines to Go structs.
type SourceLineFactory struct {
	validate *validator.Validate

	// Defaults fill accounts the JSON leaves empty.
	Defaults spread.Accounts
}

func NewSourceLineFactory(defaults spread.Accounts) *SourceLineFactory {
	v := validator.New()
	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &SourceLineFactory{validate: v, Defaults: defaults}
}

// ParseSourceLine parses a JSON string into a SourceLine.
func (f *SourceLineFactory) ParseSourceLine(jsonStr string) (spread.SourceLine, error) {
	var sj SourceLineJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return spread.SourceLine{}, fmt.Errorf("failed to parse source line JSON: %v: %w", err, ErrInvalidSourceLine)
	}
	return f.FromJSON(sj)
}

// FromJSON validates sj and converts it. A missing ID gets a generated one.
func (f *SourceLineFactory) FromJSON(sj SourceLineJSON) (spread.SourceLine, error) {
	if err := f.check(sj); err != nil {
		return spread.SourceLine{}, err
	}

	in, err := f.schedule(sj.ScheduleJSON)
	if err != nil {
		return spread.SourceLine{}, err
	}

	line := spread.SourceLine{
		ID:            generic.SourceLineID(sj.ID),
		Description:   sj.Description,
		TotalAmount:   in.Total,
		ReferenceDate: in.ReferenceDate,
		PeriodCount:   in.Periods,
		Granularity:   in.Granularity,
		AnchorDate:    in.AnchorDate,
		Accounts: spread.Accounts{
			Spread: generic.AccountID(sj.SpreadAccount),
			Target: generic.AccountID(sj.TargetAccount),
		},
		OriginMove: generic.MoveID(sj.OriginMove),
	}
	if line.ID == "" {
		line.ID = generic.SourceLineID(generic.NewID("src"))
	}
	if line.Accounts.Spread == "" {
		line.Accounts.Spread = f.Defaults.Spread
	}
	if line.Accounts.Target == "" {
		line.Accounts.Target = f.Defaults.Target
	}
	if line.Accounts.Spread == "" || line.Accounts.Target == "" {
		return spread.SourceLine{}, &ValidationError{Fields: map[string]string{"accounts": "required"}}
	}
	if line.Accounts.Spread == line.Accounts.Target {
		return spread.SourceLine{}, &ValidationError{Fields: map[string]string{"target_account": "nefield"}}
	}
	return line, nil
}

// ParseSchedule parses a JSON calculator request.
func (f *SourceLineFactory) ParseSchedule(jsonStr string) (spread.ScheduleInput, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return spread.ScheduleInput{}, fmt.Errorf("failed to parse schedule JSON: %v: %w", err, ErrInvalidSourceLine)
	}
	return f.ScheduleFromJSON(sj)
}

// ScheduleFromJSON validates sj and converts it to calculator input.
func (f *SourceLineFactory) ScheduleFromJSON(sj ScheduleJSON) (spread.ScheduleInput, error) {
	if err := f.check(sj); err != nil {
		return spread.ScheduleInput{}, err
	}
	return f.schedule(sj)
}

// ToJSON converts a SourceLine to SourceLineJSON.
func (f *SourceLineFactory) ToJSON(line spread.SourceLine) SourceLineJSON {
	sj := SourceLineJSON{
		ID:          string(line.ID),
		Description: line.Description,
		ScheduleJSON: ScheduleJSON{
			TotalAmount:   line.TotalAmount.StringFixed(generic.CurrencyPrecision),
			ReferenceDate: line.ReferenceDate.String(),
			PeriodCount:   line.PeriodCount,
			Granularity:   string(line.Granularity),
		},
		SpreadAccount: string(line.Accounts.Spread),
		TargetAccount: string(line.Accounts.Target),
		OriginMove:    string(line.OriginMove),
	}
	if line.AnchorDate != nil {
		sj.AnchorDate = line.AnchorDate.String()
	}
	return sj
}

func (f *SourceLineFactory) check(v any) error {
	err := f.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%v: %w", err, ErrInvalidSourceLine)
	}
	fields := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		fields[ve.Field()] = ve.Tag()
	}
	return &ValidationError{Fields: fields}
}

// schedule converts already validated JSON.
func (f *SourceLineFactory) schedule(sj ScheduleJSON) (spread.ScheduleInput, error) {
	total, err := decimal.NewFromString(sj.TotalAmount)
	if err != nil {
		return spread.ScheduleInput{}, &ValidationError{Fields: map[string]string{"total_amount": "numeric"}}
	}
	ref, err := generic.ParseDate(sj.ReferenceDate)
	if err != nil {
		return spread.ScheduleInput{}, &ValidationError{Fields: map[string]string{"reference_date": "datetime"}}
	}
	gran, err := generic.ParseGranularity(sj.Granularity)
	if err != nil {
		return spread.ScheduleInput{}, &ValidationError{Fields: map[string]string{"granularity": "oneof"}}
	}

	in := spread.ScheduleInput{
		Total:         total,
		Periods:       sj.PeriodCount,
		Granularity:   gran,
		ReferenceDate: ref,
	}
	if sj.AnchorDate != "" {
		anchor, err := generic.ParseDate(sj.AnchorDate)
		if err != nil {
			return spread.ScheduleInput{}, &ValidationError{Fields: map[string]string{"anchor_date": "datetime"}}
		}
		in.AnchorDate = &anchor
	}
	return in, nil
}
