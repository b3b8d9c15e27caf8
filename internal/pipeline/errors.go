package pipeline

import "github.com/rotisserie/eris"

var (
	// ErrInvalidRequest is returned by Start for empty or unknown steps and
	// malformed filters.
	ErrInvalidRequest = eris.New("pipeline: invalid request")
	// ErrEmptyScope is returned by Start when no record matches.
	ErrEmptyScope = eris.New("pipeline: no records in scope")
	// ErrNotFound is returned for unknown or evicted job ids.
	ErrNotFound = eris.New("pipeline: job not found")
)
