// Package panel stores the historical observation panel: one row per contract
// and rating year, holding every normalized measure score.
package panel

import (
	"sort"

	"github.com/aristath/stargazer/internal/domain"
)

// Row is one (contract, year) observation: a mapping from normalized measure
// key to an optional score. Non-numeric upstream values arrive as missing
// scores, never as zero.
type Row struct {
	ContractID string                  `json:"contract_id"`
	Year       int                     `json:"year"`
	Scores     map[string]domain.Score `json:"scores"`
}

// Key returns the row's identifying contract/year pair.
func (r Row) Key() domain.ContractKey {
	return domain.ContractKey{ContractID: r.ContractID, Year: r.Year}
}

// Score returns the row's value for a measure, missing when the column is
// absent altogether.
func (r Row) Score(measure string) domain.Score {
	if s, ok := r.Scores[measure]; ok {
		return s
	}
	return domain.MissingScore()
}

// SortRows orders rows by contract then year, the ordering lag and diff
// features are derived from.
func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ContractID != rows[j].ContractID {
			return rows[i].ContractID < rows[j].ContractID
		}
		return rows[i].Year < rows[j].Year
	})
}

// MeasureKeys returns the sorted union of measure keys across rows.
func MeasureKeys(rows []Row) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for measure := range row.Scores {
			seen[measure] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for measure := range seen {
		keys = append(keys, measure)
	}
	sort.Strings(keys)
	return keys
}
