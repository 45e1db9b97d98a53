package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/calibration"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/triangulation"
)

// SaveCameraModels stores the calibrated models of a run, replacing any
// previous model for the same camera.
func (db *DB) SaveCameraModels(runID string, models []*calibration.CameraModel) error {
	return db.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO camera_models
				(run_id, camera_id, params_json, fit_residual, points_used, condition, quality)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range models {
			params, err := json.Marshal(m.Params)
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(runID, m.CameraID, string(params), m.FitResidual, m.PointsUsed, m.Condition, string(m.Quality)); err != nil {
				return fmt.Errorf("inserting camera %d: %w", m.CameraID, err)
			}
		}
		return nil
	})
}

// CameraModels returns a run's models ordered by camera ID.
func (db *DB) CameraModels(runID string) ([]*calibration.CameraModel, error) {
	rows, err := db.Query(`
		SELECT camera_id, params_json, fit_residual, points_used, condition, quality
		FROM camera_models WHERE run_id = ? ORDER BY camera_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query camera models: %w", err)
	}
	defer rows.Close()

	var out []*calibration.CameraModel
	for rows.Next() {
		var (
			m       calibration.CameraModel
			params  string
			cond    sql.NullFloat64
			quality string
		)
		if err := rows.Scan(&m.CameraID, &params, &m.FitResidual, &m.PointsUsed, &cond, &quality); err != nil {
			return nil, fmt.Errorf("scan camera model: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &m.Params); err != nil {
			return nil, fmt.Errorf("camera %d params: %w", m.CameraID, err)
		}
		m.Condition = cond.Float64
		m.Quality = calibration.Quality(quality)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SavePositions stores a run's triangulated (and gap-filled) positions.
func (db *DB) SavePositions(runID string, positions []triangulation.Position3D) error {
	return db.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO positions
				(run_id, label, time_index, x, y, z, residual, views_used, low_confidence, interpolated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range positions {
			if _, err := stmt.Exec(runID, p.Label, p.TimeIndex,
				p.Coordinate.X, p.Coordinate.Y, p.Coordinate.Z,
				p.Residual, p.ViewsUsed, p.LowConfidence, p.Interpolated,
			); err != nil {
				return fmt.Errorf("inserting %s t=%d: %w", p.Label, p.TimeIndex, err)
			}
		}
		return nil
	})
}

// Positions returns a run's positions ordered by time index and label.
func (db *DB) Positions(runID string) ([]triangulation.Position3D, error) {
	rows, err := db.Query(`
		SELECT label, time_index, x, y, z, residual, views_used, low_confidence, interpolated
		FROM positions WHERE run_id = ? ORDER BY time_index, label`, runID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []triangulation.Position3D
	for rows.Next() {
		var p triangulation.Position3D
		if err := rows.Scan(&p.Label, &p.TimeIndex,
			&p.Coordinate.X, &p.Coordinate.Y, &p.Coordinate.Z,
			&p.Residual, &p.ViewsUsed, &p.LowConfidence, &p.Interpolated,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// storedField is the JSON payload of one strain field row.
type storedField struct {
	S        []float64        `json:"s"`
	Position []r3.Vector      `json:"position"`
	Director []smoothing.Mat3 `json:"director"`
	Kappa    []r3.Vector      `json:"kappa"`
	Stretch  []float64        `json:"stretch"`
	Radius   []float64        `json:"radius"`
	Markers  int              `json:"markers"`
}

// SaveStrainFields stores a run's smoothed time steps.
func (db *DB) SaveStrainFields(runID string, fields []*smoothing.StrainField) error {
	return db.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO strain_fields
				(run_id, time_index, time, elements, iterations, marker_rms, field_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range fields {
			payload, err := json.Marshal(storedField{
				S:        f.S,
				Position: f.Position,
				Director: f.Director,
				Kappa:    f.Kappa,
				Stretch:  f.Stretch,
				Radius:   f.Radius,
				Markers:  f.Markers,
			})
			if err != nil {
				return fmt.Errorf("encoding t=%d: %w", f.TimeIndex, err)
			}
			if _, err := stmt.Exec(runID, f.TimeIndex, f.Time, f.Elements(), f.Iterations, f.MarkerRMS, string(payload)); err != nil {
				return fmt.Errorf("inserting t=%d: %w", f.TimeIndex, err)
			}
		}
		return nil
	})
}

// StrainFields returns a run's strain fields ordered by time index.
func (db *DB) StrainFields(runID string) ([]*smoothing.StrainField, error) {
	rows, err := db.Query(`
		SELECT time_index, time, iterations, marker_rms, field_json
		FROM strain_fields WHERE run_id = ? ORDER BY time_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query strain fields: %w", err)
	}
	defer rows.Close()

	var out []*smoothing.StrainField
	for rows.Next() {
		var (
			f       smoothing.StrainField
			payload string
			stored  storedField
		)
		if err := rows.Scan(&f.TimeIndex, &f.Time, &f.Iterations, &f.MarkerRMS, &payload); err != nil {
			return nil, fmt.Errorf("scan strain field: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &stored); err != nil {
			return nil, fmt.Errorf("decoding t=%d: %w", f.TimeIndex, err)
		}
		f.S, f.Position, f.Director = stored.S, stored.Position, stored.Director
		f.Kappa, f.Stretch, f.Radius = stored.Kappa, stored.Stretch, stored.Radius
		f.Markers = stored.Markers
		f.Twist = make([]float64, len(f.Kappa))
		for j, k := range f.Kappa {
			f.Twist[j] = k.Z
		}
		f.Shear = make([]r3.Vector, len(f.Stretch))
		for j, nu := range f.Stretch {
			f.Shear[j] = r3.Vector{Z: nu}
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
