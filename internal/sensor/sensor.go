package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// Sample is one synchronous reading of the environmental sensor.
type Sample struct {
	Temperature float64 // °C
	Humidity    float64 // %RH
	Pressure    float64 // hPa
}

// BME280 wraps the I2C device behind a synchronous Read.
type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// Open initializes the host, opens the I2C bus and probes the BME280 at addr.
// An error here is fatal for the tracker: the device is miswired or absent.
func Open(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(busName) // empty selects the default bus
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", busName, err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		if closeErr := bus.Close(); closeErr != nil {
			return nil, fmt.Errorf("bme280 probe at 0x%x: %w (bus close: %v)", addr, err, closeErr)
		}
		return nil, fmt.Errorf("bme280 probe at 0x%x: %w", addr, err)
	}

	return &BME280{bus: bus, dev: dev}, nil
}

func (b *BME280) Read() (Sample, error) {
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Sample{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return sampleFromEnv(env), nil
}

func (b *BME280) Close() error {
	if err := b.dev.Halt(); err != nil {
		_ = b.bus.Close()
		return fmt.Errorf("bme280 halt: %w", err)
	}
	return b.bus.Close()
}

func sampleFromEnv(env physic.Env) Sample {
	return Sample{
		Temperature: env.Temperature.Celsius(),

		// env.Humidity is a fixed point integer at a precision of
		// 0.00001%rH; valid values are between 0% and 100%.
		Humidity: float64(env.Humidity) / 100000.0,

		// env.Pressure is stored as an int64 nano Pascal; the database
		// takes hPa (100 Pa).
		Pressure: float64(env.Pressure) / float64(100*physic.Pascal),
	}
}
