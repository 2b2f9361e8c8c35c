// Package thresholds maps continuous measure scores to ordinal star ratings
// via per-measure cutpoint bands.
package thresholds

import (
	"fmt"
	"sort"

	"github.com/aristath/stargazer/internal/domain"
)

// Band is one half-open scoring interval [Lower, Upper) mapped to a star
// level. Open-ended bands use ±Inf bounds.
type Band struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Stars int     `json:"stars"`
}

// Contains reports whether score falls inside the band's half-open interval.
func (b Band) Contains(score float64) bool {
	return b.Lower <= score && score < b.Upper
}

// Table is an immutable collection of per-measure band lists, keyed by the
// normalized measure name used by panel columns (e.g. "C: Breast Cancer
// Screening"). Bands are kept sorted ascending by star level.
type Table struct {
	bands map[string][]Band
}

// NewTable builds a table from per-measure band lists. The input is copied and
// each list sorted by star level, so the table is safe for concurrent reads.
func NewTable(bands map[string][]Band) *Table {
	owned := make(map[string][]Band, len(bands))
	for measure, list := range bands {
		if len(list) == 0 {
			continue
		}
		sorted := make([]Band, len(list))
		copy(sorted, list)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Stars < sorted[j].Stars })
		owned[measure] = sorted
	}
	return &Table{bands: owned}
}

// Measures returns the measure keys present in the table, sorted.
func (t *Table) Measures() []string {
	keys := make([]string, 0, len(t.bands))
	for measure := range t.bands {
		keys = append(keys, measure)
	}
	sort.Strings(keys)
	return keys
}

// Bands returns a copy of the band list for a measure, or nil if unknown.
func (t *Table) Bands(measure string) []Band {
	list, ok := t.bands[measure]
	if !ok {
		return nil
	}
	out := make([]Band, len(list))
	copy(out, list)
	return out
}

// Has reports whether the table carries bands for the measure.
func (t *Table) Has(measure string) bool {
	_, ok := t.bands[measure]
	return ok
}

// Classification is the result of classifying one measure score: the star
// level and the gap to the lower bound of the next-higher band. Distance is 0
// at the ceiling level and undefined when the rating itself is undefined or
// the next band is missing from the table.
type Classification struct {
	Stars    domain.Stars
	Distance domain.Score
}

// Classify maps a score to its star level and distance to the next level.
//
// A missing score classifies to an undefined rating with no error; missing
// measures are common and must be excluded from aggregates, not abort them.
// An unknown measure returns ErrUnknownMeasure. A present score that no band
// contains returns ErrScoreOutOfRange, unless it sits at or above the lower
// bound of the top band - the open upper boundary of the ceiling band loses
// exact boundary values to floating-point comparison, so those are rescued to
// the top level.
func (t *Table) Classify(measure string, score domain.Score) (Classification, error) {
	list, ok := t.bands[measure]
	if !ok {
		return Classification{}, fmt.Errorf("%w: %s", domain.ErrUnknownMeasure, measure)
	}

	if !score.Valid {
		return Classification{}, nil
	}

	for _, band := range list {
		if band.Contains(score.Value) {
			return Classification{
				Stars:    domain.StarsOf(band.Stars),
				Distance: t.distanceToNext(list, band.Stars, score.Value),
			}, nil
		}
	}

	// Rescue path for the top band's open upper boundary.
	top := list[len(list)-1]
	if score.Value >= top.Lower {
		return Classification{
			Stars:    domain.StarsOf(top.Stars),
			Distance: t.distanceToNext(list, top.Stars, score.Value),
		}, nil
	}

	return Classification{}, fmt.Errorf("%w: measure %s score %v", domain.ErrScoreOutOfRange, measure, score.Value)
}

// distanceToNext returns the gap between score and the lower bound of the
// band one star above the current level. At the ceiling the distance is 0.
func (t *Table) distanceToNext(list []Band, stars int, score float64) domain.Score {
	top := list[len(list)-1].Stars
	if stars >= top {
		return domain.ScoreOf(0)
	}
	for _, band := range list {
		if band.Stars == stars+1 {
			return domain.ScoreOf(band.Lower - score)
		}
	}
	// Gap in the band list: no next level to measure against.
	return domain.MissingScore()
}
