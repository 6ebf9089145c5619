// Package device holds the monochromator's physical model: grating and slit identifiers,
// the device position, the configured physical limits with the bounds validator, and the
// tracker holding the last confirmed position.
package device

import "fmt"

// Grating identifies the optical element selected on the turret.
// The numeric values are the ids used on the wire.
type Grating int

const (
	Grating1 Grating = 0
	Grating2 Grating = 1
	Mirror   Grating = 2
)

// Valid reports whether g is a known grating id.
func (g Grating) Valid() bool {
	return g == Grating1 || g == Grating2 || g == Mirror
}

func (g Grating) String() string {
	switch g {
	case Grating1:
		return "GRATING_1"
	case Grating2:
		return "GRATING_2"
	case Mirror:
		return "MIRROR"
	default:
		return fmt.Sprintf("Grating(%d)", int(g))
	}
}

// Slit selects one of the two slit axes.
type Slit int

const (
	SlitEntry Slit = 1
	SlitExit  Slit = 2
)

func (s Slit) Valid() bool { return s == SlitEntry || s == SlitExit }

func (s Slit) String() string {
	switch s {
	case SlitEntry:
		return "ENTRY"
	case SlitExit:
		return "EXIT"
	default:
		return fmt.Sprintf("Slit(%d)", int(s))
	}
}

// Status is the controller software status reported by the status query.
type Status int

const (
	StatusReady     Status = 0
	StatusSettingUp Status = 1
	StatusFault     Status = 2
	StatusOffline   Status = 3
)

func (s Status) Valid() bool { return s >= StatusReady && s <= StatusOffline }

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusSettingUp:
		return "SETTING_UP"
	case StatusFault:
		return "FAULT"
	case StatusOffline:
		return "OFFLINE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Position is the device position: wavelength in nm, grating, slit widths in mm.
type Position struct {
	Wavelength float64
	Grating    Grating
	EntrySlit  float64
	ExitSlit   float64
}

// SlitWidth returns the width of slit.
func (p Position) SlitWidth(slit Slit) float64 {
	if slit == SlitExit {
		return p.ExitSlit
	}

	return p.EntrySlit
}

// WithSlitWidth returns a copy of p with the width of slit replaced.
func (p Position) WithSlitWidth(slit Slit, mm float64) Position {
	if slit == SlitExit {
		p.ExitSlit = mm
	} else {
		p.EntrySlit = mm
	}

	return p
}

func (p Position) String() string {
	return fmt.Sprintf("{wavelength:%.3f grating:%s entry:%.3f exit:%.3f}",
		p.Wavelength, p.Grating, p.EntrySlit, p.ExitSlit)
}
