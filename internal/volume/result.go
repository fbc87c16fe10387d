package volume

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/subgraph"
)

// Result is the outcome of one sub-query. OK is false when the value could not be
// determined; Err then says why, or is nil when the value was simply absent.
type Result[T any] struct {
	Value T
	OK    bool
	Err   error
}

// Found wraps a determined value
func Found[T any](v T) Result[T] {
	return Result[T]{Value: v, OK: true}
}

// Failed wraps the error that prevented determining a value
func Failed[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Ptr returns a pointer to the value, or nil when it was not determined
func (r Result[T]) Ptr() *T {
	if !r.OK {
		return nil
	}
	v := r.Value
	return &v
}

func floatPtr(r Result[decimal.Decimal]) *float64 {
	if !r.OK {
		return nil
	}
	f := r.Value.InexactFloat64()
	return &f
}

// parseAmount reads a subgraph numeric value, which may be a JSON string or number
func parseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, false
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// fieldOf extracts field from a single entity object
func fieldOf(data subgraph.Data, entity, field string) Result[decimal.Decimal] {
	var record map[string]json.RawMessage
	found, err := data.Decode(entity, &record)
	if err != nil {
		return Failed[decimal.Decimal](err)
	}
	if !found {
		return Result[decimal.Decimal]{}
	}
	value, ok := parseAmount(record[field])
	if !ok {
		return Failed[decimal.Decimal](apperrors.NewShapeError(entity, field))
	}
	return Found(value)
}

// sumField adds field across every record of a collection. A lone object is
// treated as a single record. An explicit null counts as zero; a missing or
// non-numeric field fails the sum.
func sumField(data subgraph.Data, entity, field string) Result[decimal.Decimal] {
	raw, ok := data[entity]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return Failed[decimal.Decimal](apperrors.NewShapeError(entity, field))
	}

	var records []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		var single map[string]json.RawMessage
		if err := json.Unmarshal(raw, &single); err != nil {
			return Failed[decimal.Decimal](apperrors.NewShapeError(entity, field))
		}
		records = []map[string]json.RawMessage{single}
	}

	total := decimal.Zero
	for _, record := range records {
		raw, present := record[field]
		if present && (len(raw) == 0 || string(raw) == "null") {
			continue
		}
		value, ok := parseAmount(raw)
		if !ok {
			return Failed[decimal.Decimal](apperrors.NewShapeError(entity, field))
		}
		total = total.Add(value)
	}
	return Found(total)
}
