package core

import "math"

// DegradationKind selects the closed-form shape of a DegradationFunction.
type DegradationKind int

const (
	DegradationLinear DegradationKind = iota
	DegradationLog2
	DegradationLog10
)

// DegradationFunction maps a distance to a scalar between Minimum and
// Maximum over [0, Radius], following one of the three closed forms.
// LowerIsBetter flips the direction: when true, distance 0 yields
// Minimum and distance Radius yields Maximum (e.g. delay); when false
// the mapping is mirrored (e.g. bandwidth).
type DegradationFunction struct {
	Kind          DegradationKind
	Minimum       float64
	Maximum       float64
	Radius        float64
	LowerIsBetter bool
}

// NewDegradationFunction validates and constructs a DegradationFunction.
func NewDegradationFunction(kind DegradationKind, minimum, maximum, radius float64, lowerIsBetter bool) (DegradationFunction, error) {
	if radius <= 0 {
		return DegradationFunction{}, tag(ErrDegradation, ErrMissingDegradationArgs, "radius must be positive")
	}
	return DegradationFunction{
		Kind:          kind,
		Minimum:       minimum,
		Maximum:       maximum,
		Radius:        radius,
		LowerIsBetter: lowerIsBetter,
	}, nil
}

// Apply returns the degraded value at distance (km), and ok=false when
// distance exceeds the function's radius (out of range — the caller
// substitutes the sentinel min/max QoS).
func (f DegradationFunction) Apply(distance float64) (value float64, ok bool, err error) {
	if distance < 0 {
		return 0, false, tag(ErrDegradation, ErrNegativeDistance, "")
	}
	if distance > f.Radius {
		return 0, false, nil
	}

	switch f.Kind {
	case DegradationLinear:
		gradient := math.Abs(f.Maximum-f.Minimum) / f.Radius
		if !f.LowerIsBetter {
			return -1*gradient*distance + f.Maximum, true, nil
		}
		return gradient*distance + f.Minimum, true, nil

	case DegradationLog2, DegradationLog10:
		mathFn := math.Log2
		if f.Kind == DegradationLog10 {
			mathFn = math.Log10
		}
		ceilDistance := math.Ceil(distance * 1000)
		a := math.Abs(f.Maximum-f.Minimum) / mathFn(f.Radius*1000)
		if ceilDistance < 1 {
			if f.LowerIsBetter {
				return f.Minimum, true, nil
			}
			return f.Maximum, true, nil
		}
		if f.LowerIsBetter {
			return f.Minimum + a*mathFn(ceilDistance), true, nil
		}
		return f.Maximum - a*mathFn(ceilDistance), true, nil

	default:
		return 0, false, tag(ErrDegradation, ErrMissingDegradationArgs, "unknown degradation kind")
	}
}
