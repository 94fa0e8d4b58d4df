package invoice

import (
	"errors"
	"fmt"
)

// ErrItemsNotList is returned when the items key holds something other
// than a sequence.
var ErrItemsNotList = errors.New("items is not a list")

// MissingItemFieldError reports a line item without one of its required
// keys.
type MissingItemFieldError struct {
	Index int
	Field string
}

func (e *MissingItemFieldError) Error() string {
	return fmt.Sprintf("item %d: missing required field %q", e.Index, e.Field)
}

// MalformedItemError reports a line item entry that is not a mapping.
type MalformedItemError struct {
	Index int
	Value any
}

func (e *MalformedItemError) Error() string {
	return fmt.Sprintf("item %d: expected an object, got %T", e.Index, e.Value)
}
