// Package mirror polls the realtime database for the device's latest
// upload and appends changed samples to the local sqlite store, building
// a labelable dataset out of the cloud's last-value-wins fields.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mikhaerys/Weather-Drone/internal/store"
)

// Fetcher is the slice of the database client the poller needs.
type Fetcher interface {
	UID() string
	Get(ctx context.Context, path string, out any) error
}

// snapshot mirrors the flat per-user field map the tracker writes.
// Pointers: the subtree starts empty and grows field by field.
type snapshot struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Altitude    *float64 `json:"altitude"`
	Speed       *float64 `json:"speed"`
	HDOP        *float64 `json:"hdop"`
	Satellites  *int64   `json:"satellites"`
	TimeUTC     *string  `json:"timeUTC"`
}

type Poller struct {
	fetcher  Fetcher
	repo     store.ReadingRepository
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

func New(fetcher Fetcher, repo store.ReadingRepository, logger *slog.Logger, interval time.Duration) *Poller {
	return &Poller{
		fetcher:  fetcher,
		repo:     repo,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and the next
// tick tries again.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.pollOnce(ctx); err != nil {
			p.logger.Error("poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollOnce fetches the current per-user snapshot and stores it unless it
// is identical to the newest stored row.
func (p *Poller) pollOnce(ctx context.Context) error {
	path := "UsersData/" + p.fetcher.UID()

	var snap snapshot
	if err := p.fetcher.Get(ctx, path, &snap); err != nil {
		return err
	}

	if snap.Temperature == nil || snap.Humidity == nil || snap.Pressure == nil {
		p.logger.Debug("snapshot incomplete, device has not published yet", "path", path)
		return nil
	}

	last, err := p.repo.LatestReading()
	if err != nil {
		return fmt.Errorf("load latest reading: %w", err)
	}
	if last != nil && sameSample(last, &snap) {
		p.logger.Debug("snapshot unchanged, skipping")
		return nil
	}

	id, err := p.repo.InsertReading(store.Reading{
		CreatedAt:   p.now(),
		Temperature: *snap.Temperature,
		Humidity:    *snap.Humidity,
		Pressure:    *snap.Pressure,
		Latitude:    snap.Latitude,
		Longitude:   snap.Longitude,
		Altitude:    snap.Altitude,
		Speed:       snap.Speed,
		HDOP:        snap.HDOP,
		Satellites:  snap.Satellites,
		TimeUTC:     snap.TimeUTC,
	})
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	p.logger.Info("stored new reading",
		"id", id,
		"temperature", *snap.Temperature,
		"humidity", *snap.Humidity,
		"pressure", *snap.Pressure,
	)
	return nil
}

// sameSample reports whether the snapshot matches the stored row on the
// fields the device actually refreshes each cycle. The GPS timestamp
// breaks ties when environmental values happen to repeat.
func sameSample(last *store.Reading, snap *snapshot) bool {
	if last.Temperature != *snap.Temperature ||
		last.Humidity != *snap.Humidity ||
		last.Pressure != *snap.Pressure {
		return false
	}

	switch {
	case last.TimeUTC == nil && snap.TimeUTC == nil:
		return true
	case last.TimeUTC == nil || snap.TimeUTC == nil:
		return false
	default:
		return *last.TimeUTC == *snap.TimeUTC
	}
}
