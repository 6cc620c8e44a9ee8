// Package store persists estimation runs and their per-reading detail
// in a SQLite database. The schema is managed by versioned migrations
// embedded in the binary.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/radiofix/geom"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

type Store struct {
	*sql.DB
}

// Open opens or creates the database at path. The schema is not touched;
// call MigrateUp before writing.
func Open(path string) (*Store, error) {
	// Pragmas go through the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db}, nil
}

// Run is one persisted estimation run.
type Run struct {
	ID         string
	Label      string
	CreatedAt  time.Time
	Dim        int
	NumSources int

	// Truth is the ground-truth position for simulated runs, nil for
	// live ones.
	Truth geom.Point

	Position geom.Point

	// Covariance is the row-major dim*dim covariance, nil when the run
	// did not keep one.
	Covariance []float64

	Score      float64
	Iterations int
	Refined    bool
	NumInliers int
	Duration   time.Duration

	Readings []ReadingRow
}

// ReadingRow is the per-reading detail of a run.
type ReadingRow struct {
	SourceID string
	Kind     string
	Distance float64
	StdDev   float64
	Quality  float64
	Residual float64
	Inlier   bool
}

// SaveRun inserts the run and its readings in one transaction. An empty
// ID gets a fresh UUID; a zero CreatedAt gets the current time. Both are
// written back to r.
func (s *Store) SaveRun(r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	positionJSON, err := json.Marshal(r.Position)
	if err != nil {
		return fmt.Errorf("failed to encode position: %w", err)
	}
	truthJSON, err := marshalNullable(r.Truth)
	if err != nil {
		return fmt.Errorf("failed to encode truth: %w", err)
	}
	covJSON, err := marshalNullable(r.Covariance)
	if err != nil {
		return fmt.Errorf("failed to encode covariance: %w", err)
	}

	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (
			run_id, label, created_unix_ns, dimension, num_sources,
			num_readings, truth_json, position_json, covariance_json,
			score, iterations, refined, num_inliers, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Label, r.CreatedAt.UnixNano(), r.Dim, r.NumSources,
		len(r.Readings), truthJSON, string(positionJSON), covJSON,
		r.Score, r.Iterations, r.Refined, r.NumInliers,
		float64(r.Duration)/float64(time.Millisecond))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, rd := range r.Readings {
		_, err = tx.Exec(`
			INSERT INTO run_readings (
				run_id, idx, source_id, kind, distance, std_dev,
				quality, residual, inlier
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, rd.SourceID, rd.Kind, rd.Distance, rd.StdDev,
			rd.Quality, rd.Residual, rd.Inlier)
		if err != nil {
			return fmt.Errorf("failed to insert reading %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetRun loads one run with its readings.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.QueryRow(`
		SELECT run_id, label, created_unix_ns, dimension, num_sources,
		       truth_json, position_json, covariance_json, score,
		       iterations, refined, num_inliers, duration_ms
		FROM runs WHERE run_id = ?`, id)

	r, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.Query(`
		SELECT source_id, kind, distance, std_dev, quality, residual, inlier
		FROM run_readings WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rd ReadingRow
		if err := rows.Scan(&rd.SourceID, &rd.Kind, &rd.Distance, &rd.StdDev,
			&rd.Quality, &rd.Residual, &rd.Inlier); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Readings = append(r.Readings, rd)
	}
	return r, rows.Err()
}

// ListRuns returns run summaries without readings, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.Query(`
		SELECT run_id, label, created_unix_ns, dimension, num_sources,
		       truth_json, position_json, covariance_json, score,
		       iterations, refined, num_inliers, duration_ms
		FROM runs ORDER BY created_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; its readings cascade.
func (s *Store) DeleteRun(id string) error {
	res, err := s.Exec(`DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		createdNS  int64
		durationMS float64
		truthJSON  sql.NullString
		posJSON    string
		covJSON    sql.NullString
	)
	err := row.Scan(&r.ID, &r.Label, &createdNS, &r.Dim, &r.NumSources,
		&truthJSON, &posJSON, &covJSON, &r.Score, &r.Iterations,
		&r.Refined, &r.NumInliers, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	r.CreatedAt = time.Unix(0, createdNS)
	r.Duration = time.Duration(durationMS * float64(time.Millisecond))
	if err := json.Unmarshal([]byte(posJSON), &r.Position); err != nil {
		return nil, fmt.Errorf("failed to decode position: %w", err)
	}
	if truthJSON.Valid {
		if err := json.Unmarshal([]byte(truthJSON.String), &r.Truth); err != nil {
			return nil, fmt.Errorf("failed to decode truth: %w", err)
		}
	}
	if covJSON.Valid {
		if err := json.Unmarshal([]byte(covJSON.String), &r.Covariance); err != nil {
			return nil, fmt.Errorf("failed to decode covariance: %w", err)
		}
	}
	return &r, nil
}

// marshalNullable encodes v to JSON, mapping nil slices to SQL NULL.
func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case geom.Point:
		if t == nil {
			return nil, nil
		}
	case []float64:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
