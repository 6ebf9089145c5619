package device

import "fmt"

// Validator checks requests against Limits. It has no side effects and never blocks.
type Validator struct {
	limits Limits
}

// NewValidator creates a Validator, rejecting limits that violate their invariants.
func NewValidator(limits Limits) (*Validator, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	return &Validator{limits: limits}, nil
}

// Limits returns the limits the validator was built with.
func (v *Validator) Limits() Limits { return v.limits }

// Wavelength validates a requested wavelength and returns the grating that serves it.
// Wavelengths below the crossover require Grating1, the crossover and above Grating2.
func (v *Validator) Wavelength(nm float64) (Grating, error) {
	l := v.limits
	if !(nm >= l.MinWavelength && nm <= l.MaxWavelength) {
		return 0, &OutOfRangeError{Quantity: "wavelength", Value: nm, Min: l.MinWavelength, Max: l.MaxWavelength}
	}

	grating := Grating2
	if nm < l.WavelengthGR1GR2 {
		grating = Grating1
	}

	lo, hi, _ := l.GratingRange(grating)
	inRange := nm >= lo && nm <= hi
	if grating == Grating1 {
		inRange = nm >= lo && nm < hi
	}
	if !inRange {
		return 0, &OutOfRangeError{Quantity: "wavelength for " + grating.String(), Value: nm, Min: lo, Max: hi}
	}

	return grating, nil
}

// SlitWidth validates a requested slit width.
func (v *Validator) SlitWidth(mm float64) error {
	l := v.limits
	if !(mm >= l.MinSlitWidth && mm <= l.MaxSlitWidth) {
		return &OutOfRangeError{Quantity: "slit width", Value: mm, Min: l.MinSlitWidth, Max: l.MaxSlitWidth}
	}

	return nil
}

// Grating validates a grating id.
func (v *Validator) Grating(g Grating) error {
	if !g.Valid() {
		return &OutOfRangeError{Quantity: "grating", Value: float64(g), Min: float64(Grating1), Max: float64(Mirror)}
	}

	return nil
}

// Setup validates a combined wavelength, grating and slits request. The grating must be the
// one serving the wavelength, or Mirror.
func (v *Validator) Setup(p Position) error {
	required, err := v.Wavelength(p.Wavelength)
	if err != nil {
		return err
	}
	if err := v.Grating(p.Grating); err != nil {
		return err
	}
	if p.Grating != Mirror && p.Grating != required {
		return fmt.Errorf("%w: wavelength %.3f requires %s, not %s", ErrOutOfRange, p.Wavelength, required, p.Grating)
	}
	if err := v.SlitWidth(p.EntrySlit); err != nil {
		return err
	}

	return v.SlitWidth(p.ExitSlit)
}

// Calibration validates that applying offset to the current wavelength keeps it in range.
func (v *Validator) Calibration(current, offset float64) error {
	l := v.limits
	if target := current + offset; !(target >= l.MinWavelength && target <= l.MaxWavelength) {
		return &OutOfRangeError{Quantity: "calibrated wavelength", Value: target, Min: l.MinWavelength, Max: l.MaxWavelength}
	}

	return nil
}

// InBounds reports whether p lies within the limits: a wavelength served by its grating
// (any wavelength in range when the grating is Mirror) and both slits in range.
func (v *Validator) InBounds(p Position) bool {
	if p.Grating == Mirror {
		l := v.limits
		if p.Wavelength < l.MinWavelength || p.Wavelength > l.MaxWavelength {
			return false
		}
	} else {
		required, err := v.Wavelength(p.Wavelength)
		if err != nil || required != p.Grating {
			return false
		}
	}

	return v.SlitWidth(p.EntrySlit) == nil && v.SlitWidth(p.ExitSlit) == nil
}
