// Package modelstore persists fitted distribution models so simulations can
// reuse a batch fit instead of re-fitting per scenario.
package modelstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/stargazer/internal/modules/distribution"
)

// Store persists fitted models as msgpack blobs keyed by measure. A save for
// a measure replaces its previous fit; the store keeps only the current panel
// version's models.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// ModelInfo summarizes one persisted model without decoding its parameters.
type ModelInfo struct {
	Measure      string    `json:"measure"`
	Observations int       `json:"observations"`
	FittedAt     time.Time `json:"fitted_at"`
}

// NewStore creates a model store and ensures its schema.
func NewStore(db *sql.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("repo", "modelstore").Logger(),
	}
	schema := `
	CREATE TABLE IF NOT EXISTS models (
		measure      TEXT PRIMARY KEY,
		payload      BLOB NOT NULL,
		observations INTEGER NOT NULL,
		fitted_at    TIMESTAMP NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to migrate model store schema: %w", err)
	}
	return s, nil
}

// Save persists one fitted model, replacing any previous fit for the measure.
func (s *Store) Save(model *distribution.Model) error {
	payload, err := msgpack.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode model %s: %w", model.Measure, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO models (measure, payload, observations, fitted_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(measure) DO UPDATE SET
		   payload = excluded.payload,
		   observations = excluded.observations,
		   fitted_at = excluded.fitted_at`,
		model.Measure, payload, model.Observations, model.FittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save model %s: %w", model.Measure, err)
	}
	return nil
}

// SaveAll persists a batch of models in one transaction.
func (s *Store) SaveAll(models map[string]*distribution.Model) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin model save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO models (measure, payload, observations, fitted_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(measure) DO UPDATE SET
		   payload = excluded.payload,
		   observations = excluded.observations,
		   fitted_at = excluded.fitted_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare model save: %w", err)
	}
	defer stmt.Close()

	for _, model := range models {
		payload, err := msgpack.Marshal(model)
		if err != nil {
			return fmt.Errorf("failed to encode model %s: %w", model.Measure, err)
		}
		if _, err := stmt.Exec(model.Measure, payload, model.Observations, model.FittedAt); err != nil {
			return fmt.Errorf("failed to save model %s: %w", model.Measure, err)
		}
	}

	return tx.Commit()
}

// Load returns the persisted model for a measure, or (nil, nil) when absent.
func (s *Store) Load(measure string) (*distribution.Model, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM models WHERE measure = ?`, measure).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", measure, err)
	}

	var model distribution.Model
	if err := msgpack.Unmarshal(payload, &model); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", measure, err)
	}
	return &model, nil
}

// LoadAll returns every persisted model keyed by measure.
func (s *Store) LoadAll() (map[string]*distribution.Model, error) {
	rows, err := s.db.Query(`SELECT measure, payload FROM models`)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	models := make(map[string]*distribution.Model)
	for rows.Next() {
		var measure string
		var payload []byte
		if err := rows.Scan(&measure, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		var model distribution.Model
		if err := msgpack.Unmarshal(payload, &model); err != nil {
			// A corrupt blob should not hide every other model.
			s.log.Error().Err(err).Str("measure", measure).Msg("Skipping undecodable model blob")
			continue
		}
		models[measure] = &model
	}
	return models, rows.Err()
}

// List summarizes the persisted models ordered by measure.
func (s *Store) List() ([]ModelInfo, error) {
	rows, err := s.db.Query(`SELECT measure, observations, fitted_at FROM models ORDER BY measure`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var infos []ModelInfo
	for rows.Next() {
		var info ModelInfo
		if err := rows.Scan(&info.Measure, &info.Observations, &info.FittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes the persisted model for a measure.
func (s *Store) Delete(measure string) error {
	if _, err := s.db.Exec(`DELETE FROM models WHERE measure = ?`, measure); err != nil {
		return fmt.Errorf("failed to delete model %s: %w", measure, err)
	}
	return nil
}
