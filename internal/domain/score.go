// Package domain holds the core shared types for Stargazer: optional measure
// scores, star ratings, the injectable rating policy, and the error taxonomy.
//
// Measure values and ratings are frequently missing in real panels. Both are
// modeled as explicit optional types so that "missing" and "zero" can never be
// confused, and so exclusion rules downstream (aggregation, improvement paths)
// are enforced by the type system rather than by NaN convention.
package domain

import "math"

// Score is an optional continuous measure value. The zero value is missing.
type Score struct {
	Value float64
	Valid bool
}

// ScoreOf returns a present score. NaN inputs are treated as missing so that
// unparsed upstream values cannot masquerade as observations.
func ScoreOf(v float64) Score {
	if math.IsNaN(v) {
		return Score{}
	}
	return Score{Value: v, Valid: true}
}

// MissingScore returns the missing sentinel.
func MissingScore() Score {
	return Score{}
}

// Or returns the score's value when present, otherwise the fallback.
func (s Score) Or(fallback float64) float64 {
	if s.Valid {
		return s.Value
	}
	return fallback
}

// Stars is an optional ordinal rating level. The zero value is undefined.
type Stars struct {
	Level int
	Valid bool
}

// StarsOf returns a defined rating level.
func StarsOf(level int) Stars {
	return Stars{Level: level, Valid: true}
}

// UndefinedStars returns the undefined sentinel.
func UndefinedStars() Stars {
	return Stars{}
}

// ContractKey identifies one observation row: an organization's contract in a
// given rating year.
type ContractKey struct {
	ContractID string
	Year       int
}
