// Package sensor models the measurement boundary and ships a simulator
// for host runs. Hardware builds wire a real CO2/temperature driver
// behind the same one-method interface.
package sensor

import "math/rand"

// Sensor produces one reading per call: CO2 in ppm and temperature in
// tenths of a degree Celsius. Read may return stale or garbage values
// during sensor warmup but must never block indefinitely; the session
// loop calls it on its configured cadence and has no timeout around it.
type Sensor interface {
	Read() (co2, temp int)
}

// Sim is a seeded random walk around indoor-plausible values, for
// development and for host deployments without attached hardware.
type Sim struct {
	rng  *rand.Rand
	co2  int
	temp int
}

// NewSim returns a simulator. The same seed reproduces the same walk.
func NewSim(seed int64) *Sim {
	return &Sim{
		rng:  rand.New(rand.NewSource(seed)),
		co2:  650,
		temp: 215,
	}
}

// Read advances the walk one step and returns the new reading.
func (s *Sim) Read() (co2, temp int) {
	s.co2 = clamp(s.co2+s.rng.Intn(31)-15, 400, 3000)
	s.temp = clamp(s.temp+s.rng.Intn(5)-2, 150, 320)
	return s.co2, s.temp
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
