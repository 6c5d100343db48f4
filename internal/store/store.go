// Package store persists calibration results in a SQLite database. Each run
// is one row holding its headline numbers in columns and the full result as a
// MessagePack blob.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/types"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS calibration_runs (
	id             TEXT PRIMARY KEY,
	created_at     TEXT NOT NULL,
	station        TEXT NOT NULL DEFAULT '',
	well           TEXT NOT NULL DEFAULT '',
	sy             REAL NOT NULL,
	cru            REAL NOT NULL,
	rasmax         REAL,
	rmse           REAL,
	nse            REAL,
	recharge_mm_yr REAL,
	status         TEXT NOT NULL,
	payload        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS calibration_runs_created_at_idx ON calibration_runs (created_at);`

// Summary is the listing view of a stored run. Unbounded or undefined
// numbers (an insensitive RASmax, a NaN score) are stored as NULL and come
// back as nil.
type Summary struct {
	ID           string             `json:"id"`
	CreatedAt    time.Time          `json:"created_at"`
	Station      string             `json:"station,omitempty"`
	Well         string             `json:"well,omitempty"`
	Sy           float64            `json:"sy"`
	Cru          float64            `json:"cru"`
	RASmax       *float64           `json:"rasmax_mm"`
	RMSE         *float64           `json:"rmse_mm"`
	NSE          *float64           `json:"nse"`
	RechargeMMYr *float64           `json:"recharge_mm_yr"`
	Status       types.SolverStatus `json:"status"`
}

// Store is a calibration result store backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create calibration_runs table: %w", err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: log.OrNop(logger),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a result and returns its ID. A result without an ID gets a new
// UUID; saving an existing ID replaces that run.
func (s *Store) Save(ctx context.Context, result *types.CalibrationResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("no result to save: %w", types.ErrInvalidArgument)
	}
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	payload, err := msgpack.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode calibration result: %w", err)
	}

	best := result.Best
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO calibration_runs
			(id, created_at, station, well, sy, cru, rasmax, rmse, nse, recharge_mm_yr, status, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.CreatedAt.UTC().Format(time.RFC3339Nano), result.Station, result.Well,
		result.Sy, best.Cru, nullable(best.RASmax), nullable(best.RMSE), nullable(best.NSE),
		nullable(best.MeanAnnualRecharge), string(best.Status), payload,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert calibration run: %w", err)
	}

	s.logger.Debugw("stored calibration run", "id", result.ID, "sy", result.Sy, "bytes", len(payload))
	return result.ID, nil
}

// Get returns the full result of a stored run.
func (s *Store) Get(ctx context.Context, id string) (*types.CalibrationResult, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM calibration_runs WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("calibration run %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration run: %w", err)
	}

	var result types.CalibrationResult
	if err := msgpack.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode calibration run %s: %w", id, err)
	}
	result.CreatedAt = result.CreatedAt.UTC()
	return &result, nil
}

// List returns the stored runs, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, station, well, sy, cru, rasmax, rmse, nse, recharge_mm_yr, status
		FROM calibration_runs
		ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration runs: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		var created, status string
		var rasMax, rmse, nse, rechg sql.NullFloat64

		if err := rows.Scan(&sum.ID, &created, &sum.Station, &sum.Well, &sum.Sy, &sum.Cru,
			&rasMax, &rmse, &nse, &rechg, &status); err != nil {
			return nil, fmt.Errorf("failed to scan calibration run: %w", err)
		}

		sum.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("bad created_at %q for run %s: %w", created, sum.ID, err)
		}
		sum.Status = types.SolverStatus(status)
		sum.RASmax = fromNull(rasMax)
		sum.RMSE = fromNull(rmse)
		sum.NSE = fromNull(nse)
		sum.RechargeMMYr = fromNull(rechg)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes a stored run.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calibration_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete calibration run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("calibration run %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
