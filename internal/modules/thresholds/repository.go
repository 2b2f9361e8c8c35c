package thresholds

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository persists threshold bands and measure weights. Bands are stored
// with resolved numeric bounds; the cutpoint-string parsing happens at ingest
// time so a bad expression is rejected once, not on every load.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a thresholds repository and ensures its schema.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		db:  db,
		log: log.With().Str("repo", "thresholds").Logger(),
	}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threshold_bands (
		measure TEXT NOT NULL,
		stars   INTEGER NOT NULL,
		lower   REAL NOT NULL,
		upper   REAL NOT NULL,
		PRIMARY KEY (measure, stars)
	);
	CREATE TABLE IF NOT EXISTS measure_weights (
		measure TEXT PRIMARY KEY,
		weight  REAL NOT NULL
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate thresholds schema: %w", err)
	}
	return nil
}

// ReplaceTable replaces all stored bands and weights in one transaction.
func (r *Repository) ReplaceTable(table *Table, weights map[string]float64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin thresholds replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM threshold_bands`); err != nil {
		return fmt.Errorf("failed to clear bands: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM measure_weights`); err != nil {
		return fmt.Errorf("failed to clear weights: %w", err)
	}

	insertBand, err := tx.Prepare(`INSERT INTO threshold_bands (measure, stars, lower, upper)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare band insert: %w", err)
	}
	defer insertBand.Close()

	for _, measure := range table.Measures() {
		for _, band := range table.Bands(measure) {
			if _, err := insertBand.Exec(measure, band.Stars, band.Lower, band.Upper); err != nil {
				return fmt.Errorf("failed to insert band %s/%d: %w", measure, band.Stars, err)
			}
		}
	}

	insertWeight, err := tx.Prepare(`INSERT INTO measure_weights (measure, weight) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare weight insert: %w", err)
	}
	defer insertWeight.Close()

	for measure, weight := range weights {
		if _, err := insertWeight.Exec(measure, weight); err != nil {
			return fmt.Errorf("failed to insert weight %s: %w", measure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit thresholds replace: %w", err)
	}
	return nil
}

// LoadTable reads the stored bands back into an immutable table.
func (r *Repository) LoadTable() (*Table, error) {
	rows, err := r.db.Query(`SELECT measure, stars, lower, upper FROM threshold_bands
		ORDER BY measure, stars`)
	if err != nil {
		return nil, fmt.Errorf("failed to load bands: %w", err)
	}
	defer rows.Close()

	bands := make(map[string][]Band)
	for rows.Next() {
		var measure string
		var band Band
		if err := rows.Scan(&measure, &band.Stars, &band.Lower, &band.Upper); err != nil {
			return nil, fmt.Errorf("failed to scan band: %w", err)
		}
		bands[measure] = append(bands[measure], band)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bands: %w", err)
	}
	return NewTable(bands), nil
}

// LoadWeights reads the stored measure weights.
func (r *Repository) LoadWeights() (map[string]float64, error) {
	rows, err := r.db.Query(`SELECT measure, weight FROM measure_weights`)
	if err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var measure string
		var weight float64
		if err := rows.Scan(&measure, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan weight: %w", err)
		}
		weights[measure] = weight
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate weights: %w", err)
	}
	return weights, nil
}
