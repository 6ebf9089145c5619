package device

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is matched by every *OutOfRangeError.
var ErrOutOfRange = errors.New("device: request out of range")

// ErrInvalidLimits is returned when configured limits violate their ordering invariants.
var ErrInvalidLimits = errors.New("device: invalid physical limits")

// OutOfRangeError reports a request rejected by the Validator before any I/O.
type OutOfRangeError struct {
	Quantity string
	Value    float64
	Min      float64
	Max      float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("device: %s %.3f out of range [%.3f, %.3f]", e.Quantity, e.Value, e.Min, e.Max)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// Limits are the configured physical limits of the device.
//
// WavelengthGR1 is the lowest wavelength usable with Grating1, WavelengthGR1GR2 the crossover
// wavelength at which Grating2 takes over, and WavelengthGR2 the highest wavelength usable with
// Grating2.
type Limits struct {
	WavelengthGR1    float64
	WavelengthGR1GR2 float64
	WavelengthGR2    float64
	MinWavelength    float64
	MaxWavelength    float64
	MinSlitWidth     float64
	MaxSlitWidth     float64
}

// Validate checks the ordering invariants
//
//	MinWavelength <= WavelengthGR1 <= WavelengthGR1GR2 <= WavelengthGR2 <= MaxWavelength
//	MinSlitWidth <= MaxSlitWidth
func (l Limits) Validate() error {
	values := []float64{
		l.WavelengthGR1, l.WavelengthGR1GR2, l.WavelengthGR2,
		l.MinWavelength, l.MaxWavelength, l.MinSlitWidth, l.MaxSlitWidth,
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidLimits)
		}
	}

	chain := []struct {
		name  string
		value float64
	}{
		{"min_wavelength", l.MinWavelength},
		{"wavelength_gr1", l.WavelengthGR1},
		{"wavelength_gr1_gr2", l.WavelengthGR1GR2},
		{"wavelength_gr2", l.WavelengthGR2},
		{"max_wavelength", l.MaxWavelength},
	}
	for i := 1; i < len(chain); i++ {
		if chain[i-1].value > chain[i].value {
			return fmt.Errorf("%w: %s (%.3f) > %s (%.3f)", ErrInvalidLimits,
				chain[i-1].name, chain[i-1].value, chain[i].name, chain[i].value)
		}
	}

	if l.MinSlitWidth > l.MaxSlitWidth {
		return fmt.Errorf("%w: min_slit_width (%.3f) > max_slit_width (%.3f)", ErrInvalidLimits,
			l.MinSlitWidth, l.MaxSlitWidth)
	}

	return nil
}

// GratingRange returns the wavelength range served by g.
//
// Grating1 covers [max(MinWavelength, WavelengthGR1), WavelengthGR1GR2) and Grating2 covers
// [WavelengthGR1GR2, min(WavelengthGR2, MaxWavelength)]. The upper bound of Grating1 is
// exclusive; the crossover itself belongs to Grating2. Mirror has no wavelength range.
func (l Limits) GratingRange(g Grating) (lo, hi float64, ok bool) {
	switch g {
	case Grating1:
		return math.Max(l.MinWavelength, l.WavelengthGR1), l.WavelengthGR1GR2, true
	case Grating2:
		return l.WavelengthGR1GR2, math.Min(l.WavelengthGR2, l.MaxWavelength), true
	default:
		return 0, 0, false
	}
}
