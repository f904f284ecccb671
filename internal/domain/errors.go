package domain

import "errors"

var (
	// ErrFetch is returned when a catalog call fails or returns malformed data.
	ErrFetch = errors.New("catalog fetch failed")
	// ErrEmptyResult is returned when a catalog call succeeds without any usable record.
	ErrEmptyResult = errors.New("catalog returned no records")
	// ErrParse is returned for a malformed date or date-time string.
	ErrParse = errors.New("invalid ISO-8601 date")
	// ErrSchema is returned for a grade symbol outside A to F.
	ErrSchema = errors.New("unexpected catalog schema")
)
