package sensor

import (
	"math"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestSampleFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  physic.Env
		want Sample
	}{
		{
			name: "standard atmosphere",
			env: physic.Env{
				Temperature: physic.ZeroCelsius + 25*physic.Kelvin,
				Humidity:    45 * physic.PercentRH,
				Pressure:    101325 * physic.Pascal,
			},
			want: Sample{Temperature: 25, Humidity: 45, Pressure: 1013.25},
		},
		{
			name: "freezing dry low pressure",
			env: physic.Env{
				Temperature: physic.ZeroCelsius,
				Humidity:    0,
				Pressure:    95000 * physic.Pascal,
			},
			want: Sample{Temperature: 0, Humidity: 0, Pressure: 950},
		},
		{
			name: "pressure is reported in hPa not Pa",
			env: physic.Env{
				Pressure: 100000 * physic.Pascal,
			},
			want: Sample{Pressure: 1000},
		},
		{
			name: "fractional hPa survives the conversion",
			env: physic.Env{
				Pressure: 100012 * physic.Pascal,
			},
			want: Sample{Pressure: 1000.12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sampleFromEnv(tt.env)
			if !almostEqual(got.Temperature, tt.want.Temperature) {
				t.Errorf("Temperature = %v, want %v", got.Temperature, tt.want.Temperature)
			}
			if !almostEqual(got.Humidity, tt.want.Humidity) {
				t.Errorf("Humidity = %v, want %v", got.Humidity, tt.want.Humidity)
			}
			if !almostEqual(got.Pressure, tt.want.Pressure) {
				t.Errorf("Pressure = %v, want %v", got.Pressure, tt.want.Pressure)
			}
		})
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
