package domain

import "errors"

// Error taxonomy. Callers match with errors.Is; the variables carry no
// per-occurrence detail, so sites wrap them with %w and the offending key.
var (
	// ErrUnknownMeasure reports a threshold or weight lookup for a measure key
	// absent from the reference table. Fatal to that measure's computation
	// only, never to a whole batch.
	ErrUnknownMeasure = errors.New("unknown measure")

	// ErrScoreOutOfRange reports a score that no threshold band contains.
	ErrScoreOutOfRange = errors.New("score outside all threshold bands")

	// ErrNoDataForContractYear reports a simulation request for a contract and
	// year with no observation row. Checked once before any draws run.
	ErrNoDataForContractYear = errors.New("no data for contract year")

	// ErrInsufficientHistory reports too few observations to fit a
	// distribution model. It marks a documented skip, not a failure.
	ErrInsufficientHistory = errors.New("insufficient history to fit model")
)
