package gps

import (
	"fmt"
	"math"
	"sync"

	"github.com/adrianmo/go-nmea"
)

// Fix is a position/time snapshot taken from the parser at send time.
// A Fix is only handed out while the receiver reports a valid solution.
type Fix struct {
	Latitude  float64 // degrees
	Longitude float64 // degrees
	Altitude  float64 // meters
	SpeedKmh  float64

	// HDOPHundredths is the horizontal dilution of precision in
	// hundredths, as receivers report it on the wire.
	HDOPHundredths int
	Satellites     int

	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// HDOP returns the dilution as the usual unitless value.
func (f Fix) HDOP() float64 {
	return float64(f.HDOPHundredths) / 100.0
}

// TimeUTC formats the fix time as "YYYY/M/D,H:M:S" without zero padding,
// the format the database consumers expect.
func (f Fix) TimeUTC() string {
	return fmt.Sprintf("%d/%d/%d,%d:%d:%d", f.Year, f.Month, f.Day, f.Hour, f.Minute, f.Second)
}

// Parser accumulates NMEA sentences into the latest known fix. It is fed
// line by line from the serial reader goroutine and snapshotted by the
// telemetry loop, so all state is behind a mutex.
type Parser struct {
	mu sync.Mutex

	// from GGA
	haveGGA    bool
	fixQuality string
	latitude   float64
	longitude  float64
	altitude   float64
	hdop       int
	satellites int

	// from RMC
	haveRMC  bool
	rmcValid bool
	speedKmh float64
	year     int
	month    int
	day      int
	hour     int
	minute   int
	second   int
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed parses a single NMEA sentence. Sentence types other than GGA and
// RMC are accepted and ignored; malformed lines are reported back so the
// reader can log them at debug level.
func (p *Parser) Feed(line string) error {
	sent, err := nmea.Parse(line)
	if err != nil {
		return fmt.Errorf("parse sentence: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch s := sent.(type) {
	case nmea.GGA:
		p.haveGGA = true
		p.fixQuality = s.FixQuality
		p.latitude = s.Latitude
		p.longitude = s.Longitude
		p.altitude = s.Altitude
		p.hdop = int(math.Round(s.HDOP * 100))
		p.satellites = int(s.NumSatellites)
	case nmea.RMC:
		p.haveRMC = true
		p.rmcValid = s.Validity == nmea.ValidRMC
		p.speedKmh = s.Speed * 1.852 // knots to km/h
		if s.Date.Valid {
			p.year = 2000 + s.Date.YY
			p.month = s.Date.MM
			p.day = s.Date.DD
		}
		if s.Time.Valid {
			p.hour = s.Time.Hour
			p.minute = s.Time.Minute
			p.second = s.Time.Second
		}
	}
	return nil
}

// Snapshot returns the current fix and whether it is valid. The boolean is
// false until both a valid RMC and a GGA with a real fix quality have been
// seen; callers must not transmit navigation fields when it is false.
func (p *Parser) Snapshot() (Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.haveGGA || !p.haveRMC || !p.rmcValid || p.fixQuality == nmea.Invalid {
		return Fix{}, false
	}

	return Fix{
		Latitude:       p.latitude,
		Longitude:      p.longitude,
		Altitude:       p.altitude,
		SpeedKmh:       p.speedKmh,
		HDOPHundredths: p.hdop,
		Satellites:     p.satellites,
		Year:           p.year,
		Month:          p.month,
		Day:            p.day,
		Hour:           p.hour,
		Minute:         p.minute,
		Second:         p.second,
	}, true
}
