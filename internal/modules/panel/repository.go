package panel

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/stargazer/internal/domain"
)

// Repository handles observation panel database operations. Scores are stored
// long-form (one row per contract/year/measure); missing values are simply
// absent, so they can never be confused with zeros.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new panel repository and ensures its schema.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		db:  db,
		log: log.With().Str("repo", "panel").Logger(),
	}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS observations (
		contract_id TEXT NOT NULL,
		year        INTEGER NOT NULL,
		measure     TEXT NOT NULL,
		value       REAL NOT NULL,
		PRIMARY KEY (contract_id, year, measure)
	);
	CREATE INDEX IF NOT EXISTS idx_observations_measure ON observations(measure);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate panel schema: %w", err)
	}
	return nil
}

// UpsertRow stores one observation row. Present scores are written, missing
// scores are deleted, so re-ingesting a corrected row cannot leave stale
// values behind.
func (r *Repository) UpsertRow(row Row) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin panel upsert: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.Prepare(`INSERT INTO observations (contract_id, year, measure, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(contract_id, year, measure) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("failed to prepare panel insert: %w", err)
	}
	defer insert.Close()

	remove, err := tx.Prepare(`DELETE FROM observations WHERE contract_id = ? AND year = ? AND measure = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare panel delete: %w", err)
	}
	defer remove.Close()

	for measure, score := range row.Scores {
		if score.Valid {
			if _, err := insert.Exec(row.ContractID, row.Year, measure, score.Value); err != nil {
				return fmt.Errorf("failed to upsert %s/%d/%s: %w", row.ContractID, row.Year, measure, err)
			}
		} else {
			if _, err := remove.Exec(row.ContractID, row.Year, measure); err != nil {
				return fmt.Errorf("failed to clear %s/%d/%s: %w", row.ContractID, row.Year, measure, err)
			}
		}
	}

	return tx.Commit()
}

// GetRow returns the observation row for a contract and year. Absent rows
// return ErrNoDataForContractYear.
func (r *Repository) GetRow(contractID string, year int) (Row, error) {
	rows, err := r.db.Query(
		`SELECT measure, value FROM observations WHERE contract_id = ? AND year = ?`,
		contractID, year,
	)
	if err != nil {
		return Row{}, fmt.Errorf("failed to query row %s/%d: %w", contractID, year, err)
	}
	defer rows.Close()

	scores := make(map[string]domain.Score)
	for rows.Next() {
		var measure string
		var value float64
		if err := rows.Scan(&measure, &value); err != nil {
			return Row{}, fmt.Errorf("failed to scan observation: %w", err)
		}
		scores[measure] = domain.ScoreOf(value)
	}
	if err := rows.Err(); err != nil {
		return Row{}, fmt.Errorf("error iterating observations: %w", err)
	}

	if len(scores) == 0 {
		return Row{}, fmt.Errorf("%w: %s/%d", domain.ErrNoDataForContractYear, contractID, year)
	}

	return Row{ContractID: contractID, Year: year, Scores: scores}, nil
}

// AllRows returns the full panel ordered by contract then year.
func (r *Repository) AllRows() ([]Row, error) {
	rows, err := r.db.Query(
		`SELECT contract_id, year, measure, value FROM observations ORDER BY contract_id, year`)
	if err != nil {
		return nil, fmt.Errorf("failed to query panel: %w", err)
	}
	defer rows.Close()

	var result []Row
	index := make(map[domain.ContractKey]int)
	for rows.Next() {
		var contractID, measure string
		var year int
		var value float64
		if err := rows.Scan(&contractID, &year, &measure, &value); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		key := domain.ContractKey{ContractID: contractID, Year: year}
		idx, ok := index[key]
		if !ok {
			result = append(result, Row{
				ContractID: contractID,
				Year:       year,
				Scores:     make(map[string]domain.Score),
			})
			idx = len(result) - 1
			index[key] = idx
		}
		result[idx].Scores[measure] = domain.ScoreOf(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating panel: %w", err)
	}

	return result, nil
}

// Measures returns the distinct measure keys present in the panel, sorted.
func (r *Repository) Measures() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT measure FROM observations ORDER BY measure`)
	if err != nil {
		return nil, fmt.Errorf("failed to query measures: %w", err)
	}
	defer rows.Close()

	var measures []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan measure: %w", err)
		}
		measures = append(measures, m)
	}
	return measures, rows.Err()
}

// Contracts returns the distinct contract IDs in the panel, sorted.
func (r *Repository) Contracts() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT contract_id FROM observations ORDER BY contract_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}
