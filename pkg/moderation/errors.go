package moderation

import "errors"

var (
	// ErrEmptyTable is returned when a keyword table has no phrases.
	ErrEmptyTable = errors.New("moderation: keyword table is empty")
	// ErrInvalidPhrase is returned for blank phrases.
	ErrInvalidPhrase = errors.New("moderation: invalid phrase")
	// ErrUnknownCategory is returned when a table is keyed by an unknown category.
	ErrUnknownCategory = errors.New("moderation: unknown category")
	// ErrInvalidThreshold is returned for negative thresholds.
	ErrInvalidThreshold = errors.New("moderation: invalid threshold")
)
