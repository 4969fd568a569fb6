package encounter

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps every failure of the record store to run a
	// request (connectivity, timeout, malformed statement). It is never
	// returned for an empty result.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrAmbiguousResult is returned when a lookup declared unique matches
	// more than one row.
	ErrAmbiguousResult = errors.New("ambiguous result")

	// ErrConflict is returned when a write breaks a constraint between
	// records: an encounter with an unknown location, the deletion of an
	// encounter type still in use, or a duplicate GUID.
	ErrConflict = errors.New("conflicts with stored records")

	// ErrInvalid is returned for records that fail validation before they
	// reach the store.
	ErrInvalid = errors.New("invalid")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// writeErr is storeErr for writes; conflict reports whether err is the
// backend's foreign key or unique violation.
func writeErr(op string, err error, conflict func(error) bool) error {
	if conflict(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	}
	return storeErr(op, err)
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}

// unique returns the only element of items, nil when there is none and
// ErrAmbiguousResult when there are several.
func unique[T any](what string, items []*T) (*T, error) {
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return items[0], nil
	}
	return nil, fmt.Errorf("%s: %w: %d rows", what, ErrAmbiguousResult, len(items))
}
