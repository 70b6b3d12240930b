// Package store is the sqlite repository behind the mirror and the
// labeling dashboard.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-reading.sql
var getLatestReadingSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-unlabeled-readings.sql
var getUnlabeledReadingsSQL string

//go:embed sql/get-readings-count.sql
var getReadingsCountSQL string

//go:embed sql/get-unlabeled-readings-count.sql
var getUnlabeledReadingsCountSQL string

//go:embed sql/set-rain-label.sql
var setRainLabelSQL string

//go:embed sql/clear-rain-label.sql
var clearRainLabelSQL string

//go:embed sql/get-all-readings.sql
var getAllReadingsSQL string

// ErrNotFound reports an id that matches no stored reading.
var ErrNotFound = errors.New("reading not found")

// Reading is one mirrored telemetry snapshot. Navigation fields are nil
// for cycles uploaded without a valid GPS fix; Rained is nil until a
// human labels the row.
type Reading struct {
	ID        int64
	CreatedAt time.Time

	Temperature float64
	Humidity    float64
	Pressure    float64

	Latitude   *float64
	Longitude  *float64
	Altitude   *float64
	Speed      *float64
	HDOP       *float64
	Satellites *int64
	TimeUTC    *string

	Rained        *int64
	RainCheckedAt *time.Time
}

type ReadingRepository interface {
	EnsureSchema() error
	InsertReading(r Reading) (int64, error)
	LatestReading() (*Reading, error)
	ListReadings(limit, offset int, onlyUnlabeled bool) ([]Reading, error)
	CountReadings(onlyUnlabeled bool) (int, error)
	SetRainLabel(id int64, rained *int64, checkedAt time.Time) error
	AllReadings() ([]Reading, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) ReadingRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) EnsureSchema() error {
	if _, err := r.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *repositoryImpl) InsertReading(reading Reading) (int64, error) {
	createdAt := reading.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := r.db.Exec(insertReadingSQL,
		createdAt.UTC().Format(time.RFC3339Nano),
		reading.Temperature,
		reading.Humidity,
		reading.Pressure,
		reading.Latitude,
		reading.Longitude,
		reading.Altitude,
		reading.Speed,
		reading.HDOP,
		reading.Satellites,
		reading.TimeUTC,
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return res.LastInsertId()
}

func (r *repositoryImpl) LatestReading() (*Reading, error) {
	row := r.db.QueryRow(getLatestReadingSQL)
	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

func (r *repositoryImpl) ListReadings(limit, offset int, onlyUnlabeled bool) ([]Reading, error) {
	query := getReadingsSQL
	if onlyUnlabeled {
		query = getUnlabeledReadingsSQL
	}
	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (r *repositoryImpl) CountReadings(onlyUnlabeled bool) (int, error) {
	query := getReadingsCountSQL
	if onlyUnlabeled {
		query = getUnlabeledReadingsCountSQL
	}
	var n int
	err := r.db.QueryRow(query).Scan(&n)
	return n, err
}

// SetRainLabel stores a rained label (0 or 1), or clears it when rained
// is nil so the row shows up as unlabeled again.
func (r *repositoryImpl) SetRainLabel(id int64, rained *int64, checkedAt time.Time) error {
	var res sql.Result
	var err error
	if rained == nil {
		res, err = r.db.Exec(clearRainLabelSQL, id)
	} else {
		res, err = r.db.Exec(setRainLabelSQL, *rained, checkedAt.UTC().Format(time.RFC3339Nano), id)
	}
	if err != nil {
		return fmt.Errorf("set rain label: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reading %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *repositoryImpl) AllReadings() ([]Reading, error) {
	rows, err := r.db.Query(getAllReadingsSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close all readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReading(row scannable) (Reading, error) {
	var rec Reading
	var createdAt string
	var rainCheckedAt *string
	err := row.Scan(
		&rec.ID, &createdAt,
		&rec.Temperature, &rec.Humidity, &rec.Pressure,
		&rec.Latitude, &rec.Longitude, &rec.Altitude,
		&rec.Speed, &rec.HDOP, &rec.Satellites, &rec.TimeUTC,
		&rec.Rained, &rainCheckedAt,
	)
	if err != nil {
		return Reading{}, err
	}

	rec.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return Reading{}, err
	}
	if rainCheckedAt != nil {
		t, err := parseTimestamp(*rainCheckedAt)
		if err != nil {
			return Reading{}, err
		}
		rec.RainCheckedAt = &t
	}
	return rec, nil
}

func scanReadings(rows *sql.Rows) ([]Reading, error) {
	var out []Reading
	for rows.Next() {
		rec, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: RFC3339Nano: %w; RFC3339: %w", s, err, err2)
		}
	}
	return t, nil
}
