// Package storage persists calibrations and an audit log of calibration operations in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	// registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"go.viam.com/netft/calibration"
)

const schema = `
	CREATE TABLE IF NOT EXISTS calibrations (
		sensor       TEXT PRIMARY KEY,
		snapshot     TEXT NOT NULL,
		saved_at_ns  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS operations (
		operation_id TEXT PRIMARY KEY,
		sensor       TEXT NOT NULL,
		op           TEXT NOT NULL,
		success      INTEGER NOT NULL,
		message      TEXT,
		params       TEXT,
		at_ns        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS operations_sensor_at ON operations (sensor, at_ns);
`

// Store is a calibration store backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open calibration store %q", path)
	}
	// an in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		//nolint:errcheck
		db.Close()
		return nil, errors.Wrap(err, "cannot create calibration tables")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored calibration of sensor.
func (s *Store) Save(ctx context.Context, sensor string, snap calibration.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "cannot encode calibration")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calibrations (sensor, snapshot, saved_at_ns) VALUES (?, ?, ?)
		ON CONFLICT(sensor) DO UPDATE SET snapshot = excluded.snapshot, saved_at_ns = excluded.saved_at_ns
	`, sensor, string(data), snap.SavedAt.UnixNano())
	return errors.Wrapf(err, "cannot save calibration of %q", sensor)
}

// Load returns the stored calibration of sensor. The bool is false when none was saved.
func (s *Store) Load(ctx context.Context, sensor string) (calibration.Snapshot, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM calibrations WHERE sensor = ?`, sensor).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return calibration.Snapshot{}, false, nil
	}
	if err != nil {
		return calibration.Snapshot{}, false, errors.Wrapf(err, "cannot load calibration of %q", sensor)
	}
	var snap calibration.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return calibration.Snapshot{}, false, errors.Wrapf(err, "stored calibration of %q is corrupt", sensor)
	}
	return snap, true, nil
}

// OperationRecord is one calibration operation in the audit log.
type OperationRecord struct {
	ID      string          `json:"id"`
	Sensor  string          `json:"sensor"`
	Op      string          `json:"op"`
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	At      time.Time       `json:"at"`
}

// RecordOperation appends rec to the audit log and returns its id. A new id is generated when
// rec has none.
func (s *Store) RecordOperation(ctx context.Context, rec OperationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	var params sql.NullString
	if len(rec.Params) > 0 {
		params = sql.NullString{String: string(rec.Params), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (operation_id, sensor, op, success, message, params, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Sensor, rec.Op, rec.Success, rec.Message, params, rec.At.UnixNano())
	if err != nil {
		return "", errors.Wrap(err, "cannot record operation")
	}
	return rec.ID, nil
}

// History returns the most recent operations on sensor, newest first. limit <= 0 returns all.
func (s *Store) History(ctx context.Context, sensor string, limit int) ([]OperationRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, sensor, op, success, message, params, at_ns
		FROM operations WHERE sensor = ?
		ORDER BY at_ns DESC, rowid DESC
		LIMIT ?
	`, sensor, limit)
	if err != nil {
		return nil, errors.Wrap(err, "cannot query operations")
	}
	defer func() {
		//nolint:errcheck
		rows.Close()
	}()

	var out []OperationRecord
	for rows.Next() {
		var rec OperationRecord
		var message, params sql.NullString
		var atNs int64
		if err := rows.Scan(&rec.ID, &rec.Sensor, &rec.Op, &rec.Success, &message, &params, &atNs); err != nil {
			return nil, errors.Wrap(err, "cannot read operation")
		}
		rec.Message = message.String
		if params.Valid {
			rec.Params = json.RawMessage(params.String)
		}
		rec.At = time.Unix(0, atNs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
