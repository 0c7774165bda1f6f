package core

import (
	"math"
	"testing"
)

func TestLocationDistanceZeroForSamePoint(t *testing.T) {
	a, err := NewLocation(37.9838, 23.7275, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := a.Distance(a); d != 0 {
		t.Fatalf("distance to self = %v, want 0", d)
	}
}

func TestLocationDistanceWithinReferenceTolerance(t *testing.T) {
	// Athens to Thessaloniki, reference great-circle distance ~ 303 km.
	athens, _ := NewLocation(37.9838, 23.7275, 0)
	thessaloniki, _ := NewLocation(40.6401, 22.9444, 0)

	d := athens.Distance(thessaloniki)
	const reference = 303.0
	tolerance := reference * 0.05 // generous bound; WGS84-ECEF vs great-circle
	if math.Abs(d-reference) > tolerance {
		t.Fatalf("distance = %v km, want within %v of %v", d, tolerance, reference)
	}
}

func TestLocationDistanceSymmetric(t *testing.T) {
	a, _ := NewLocation(10, 10, 0)
	b, _ := NewLocation(-5, 20, 100)
	if a.Distance(b) != b.Distance(a) {
		t.Fatalf("distance should be symmetric")
	}
}

func TestNewLocationRejectsOutOfRangeCoordinates(t *testing.T) {
	cases := []struct {
		lat, lon float64
	}{
		{91, 0},
		{-91, 0},
		{0, 181},
		{0, -181},
	}
	for _, c := range cases {
		if _, err := NewLocation(c.lat, c.lon, 0); err == nil {
			t.Fatalf("expected error for lat=%v lon=%v", c.lat, c.lon)
		}
	}
}

func TestLocationEqual(t *testing.T) {
	a, _ := NewLocation(1, 2, 3)
	b, _ := NewLocation(1, 2, 3)
	c, _ := NewLocation(1, 2, 4)
	if !a.Equal(b) {
		t.Fatalf("expected a == b")
	}
	if a.Equal(c) {
		t.Fatalf("expected a != c")
	}
}
