// Package telemetry orchestrates the periodic sample-and-upload cycle:
// read the environmental sensor, snapshot the GPS fix, and write each
// field under the authenticated user's path in the realtime database.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mikhaerys/Weather-Drone/internal/gps"
	"github.com/Mikhaerys/Weather-Drone/internal/rtdb"
	"github.com/Mikhaerys/Weather-Drone/internal/sensor"
)

// basePath is the collection all per-user readings live under.
const basePath = "UsersData"

// tickPeriod is how often the loop re-examines session and timer state;
// the send interval gates actual uploads.
const tickPeriod = time.Second

type Sampler interface {
	Read() (sensor.Sample, error)
}

type FixSource interface {
	Snapshot() (gps.Fix, bool)
}

type Writer interface {
	Ready() bool
	UID() string
	Set(path string, value any) *rtdb.Op
	Results() <-chan *rtdb.Op
}

type Loop struct {
	sampler  Sampler
	fixes    FixSource
	writer   Writer
	logger   *slog.Logger
	interval time.Duration

	now      func() time.Time
	lastSend time.Time
}

func New(sampler Sampler, fixes FixSource, writer Writer, logger *slog.Logger, interval time.Duration) *Loop {
	return &Loop{
		sampler:  sampler,
		fixes:    fixes,
		writer:   writer,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run drives the loop until ctx is cancelled, interleaving send ticks
// with draining completed write outcomes.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(l.now())
		case op := <-l.writer.Results():
			l.logResult(op)
		}
	}
}

// tick runs one scheduler pass: skip while the session is not ready or
// the send interval has not elapsed, otherwise fire a send cycle and
// advance lastSend to now.
func (l *Loop) tick(now time.Time) {
	if !l.writer.Ready() {
		return
	}
	if !l.lastSend.IsZero() && now.Sub(l.lastSend) < l.interval {
		return
	}
	l.lastSend = now
	l.sendCycle()
}

// sendCycle rederives the upload paths from the live user identifier,
// samples the sensor, snapshots the fix, and issues one fire-and-forget
// write per field: three environmental writes always, seven navigation
// writes only while the fix is valid.
func (l *Loop) sendCycle() {
	base := basePath + "/" + l.writer.UID()

	sample, err := l.sampler.Read()
	if err != nil {
		l.logger.Error("sensor read failed, skipping cycle", "error", err)
		return
	}

	l.writer.Set(base+"/temperature", sample.Temperature)
	l.writer.Set(base+"/humidity", sample.Humidity)
	l.writer.Set(base+"/pressure", sample.Pressure)

	fix, ok := l.fixes.Snapshot()
	if !ok {
		l.logger.Info("gps fix not valid yet, sending environmental fields only")
		return
	}

	l.writer.Set(base+"/latitude", fix.Latitude)
	l.writer.Set(base+"/longitude", fix.Longitude)
	l.writer.Set(base+"/altitude", fix.Altitude)
	l.writer.Set(base+"/speed", fix.SpeedKmh)
	l.writer.Set(base+"/hdop", fix.HDOP())
	l.writer.Set(base+"/satellites", fix.Satellites)
	l.writer.Set(base+"/timeUTC", fix.TimeUTC())

	l.logger.Debug("send cycle issued",
		"base", base,
		"lat", fix.Latitude,
		"lng", fix.Longitude,
		"satellites", fix.Satellites,
	)
}

// logResult records an asynchronous write outcome. Failures are logged
// and never retried; they have no effect on subsequent cycles.
func (l *Loop) logResult(op *rtdb.Op) {
	if op == nil {
		return
	}
	if op.Err != nil {
		l.logger.Warn("write failed", "op", op.ID, "path", op.Path, "error", op.Err)
		return
	}
	l.logger.Debug("write completed", "op", op.ID, "path", op.Path)
}
