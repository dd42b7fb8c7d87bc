package config

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness constraint,
// such as a second assignment for the same resource and kind.
var ErrConflict = errors.New("already exists")

// ErrInvalid is returned when input fails validation or cannot be parsed.
var ErrInvalid = errors.New("invalid input")

// isUniqueViolation recognizes unique and primary key violations across the
// supported drivers by their error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry") ||
		strings.Contains(lower, "violation of unique") ||
		strings.Contains(lower, "violation of primary key")
}
