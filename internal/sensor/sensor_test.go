package sensor

import "testing"

func TestSimDeterministic(t *testing.T) {
	a, b := NewSim(7), NewSim(7)
	for i := range 1000 {
		ac, at := a.Read()
		bc, bt := b.Read()
		if ac != bc || at != bt {
			t.Fatalf("reading %d diverged: (%d, %d) vs (%d, %d)", i, ac, at, bc, bt)
		}
	}
}

func TestSimStaysInBounds(t *testing.T) {
	s := NewSim(42)
	for range 10000 {
		co2, temp := s.Read()
		if co2 < 400 || co2 > 3000 {
			t.Fatalf("co2 = %d, want within [400, 3000]", co2)
		}
		if temp < 150 || temp > 320 {
			t.Fatalf("temp = %d, want within [150, 320]", temp)
		}
	}
}

func TestSimActuallyWalks(t *testing.T) {
	s := NewSim(1)
	first, _ := s.Read()
	for range 100 {
		if co2, _ := s.Read(); co2 != first {
			return
		}
	}
	t.Error("simulator produced 100 identical CO2 readings")
}
