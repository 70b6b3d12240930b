// Package gps reads NMEA sentences from a serial GNSS receiver and keeps
// the latest valid fix available for snapshotting.
package gps

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tarm/serial"
)

// Device owns the serial port and the incremental parser.
type Device struct {
	port   *serial.Port
	parser *Parser
}

// Open opens the receiver's serial port at the given baud rate.
func Open(name string, baud int) (*Device, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("gps open %s: %w", name, err)
	}
	if err := port.Flush(); err != nil {
		if closeErr := port.Close(); closeErr != nil {
			return nil, fmt.Errorf("gps flush: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("gps flush: %w", err)
	}
	return &Device{port: port, parser: NewParser()}, nil
}

func (d *Device) Parser() *Parser {
	return d.parser
}

// Run drains sentences from the port into the parser until ctx is
// cancelled or the port errors out. Garbled lines are dropped; NMEA is a
// line protocol and the next sentence resynchronizes.
func (d *Device) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		// Closing the port unblocks the scanner.
		if err := d.port.Close(); err != nil {
			slog.Debug("gps port close", "error", err)
		}
	}()

	scanner := bufio.NewScanner(d.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := d.parser.Feed(line); err != nil {
			slog.Debug("gps sentence dropped", "error", err)
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gps read: %w", err)
	}
	return nil
}
