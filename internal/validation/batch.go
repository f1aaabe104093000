package validation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxBatchItems bounds ValidateBatch when maxItems is not positive.
const DefaultMaxBatchItems = 100

// ErrTooManyItems matches every *TooManyItemsError.
var ErrTooManyItems = errors.New("too many items")

// TooManyItemsError is returned before any item is inspected when a batch is
// larger than allowed.
type TooManyItemsError struct {
	Max int
}

func (e *TooManyItemsError) Error() string {
	return fmt.Sprintf("Too many items. Maximum allowed: %d", e.Max)
}

func (e *TooManyItemsError) Unwrap() error { return ErrTooManyItems }

// BatchError reports the first invalid item of a batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("Validation error at item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ValidateBatch validates every item as a T, stopping at the first failure.
func ValidateBatch[T any](items []json.RawMessage, maxItems int) ([]T, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxBatchItems
	}
	if len(items) > maxItems {
		return nil, &TooManyItemsError{Max: maxItems}
	}

	out := make([]T, 0, len(items))
	for i, raw := range items {
		v, err := Validate[T](raw)
		if err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		out = append(out, v)
	}
	return out, nil
}
