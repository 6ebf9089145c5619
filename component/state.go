package component

import "fmt"

// State is the summary state of the component.
type State int

const (
	Offline State = iota
	Standby
	Disabled
	Enabled
	Fault
)

func (s State) String() string {
	switch s {
	case Offline:
		return "OFFLINE"
	case Standby:
		return "STANDBY"
	case Disabled:
		return "DISABLED"
	case Enabled:
		return "ENABLED"
	case Fault:
		return "FAULT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DetailedState refines the summary state while connected.
type DetailedState int

const (
	NotEnabled DetailedState = iota
	Ready
	ChangingWavelength
	SelectingGrating
	ChangingSlitWidth
	CalibratingWavelength
	UpdatingSetup
	ResettingController
)

func (s DetailedState) String() string {
	switch s {
	case NotEnabled:
		return "NOT_ENABLED"
	case Ready:
		return "READY"
	case ChangingWavelength:
		return "CHANGING_WAVELENGTH"
	case SelectingGrating:
		return "SELECTING_GRATING"
	case ChangingSlitWidth:
		return "CHANGING_SLIT_WIDTH"
	case CalibratingWavelength:
		return "CALIBRATING_WAVELENGTH"
	case UpdatingSetup:
		return "UPDATING_SETUP"
	case ResettingController:
		return "RESETTING_CONTROLLER"
	default:
		return fmt.Sprintf("DetailedState(%d)", int(s))
	}
}

// ErrorCode classifies the failure that sent the component to FAULT.
type ErrorCode int

const (
	NoError ErrorCode = iota
	// ConnectionFailed means the controller could not be reached.
	ConnectionFailed
	// HardwareNotReady means the controller status was not READY after connecting.
	HardwareNotReady
	// HardwareError means the controller reported FAULT.
	HardwareError
	// ConnectionLost means an established connection dropped or stopped responding.
	ConnectionLost
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case ConnectionFailed:
		return "CONNECTION_FAILED"
	case HardwareNotReady:
		return "HARDWARE_NOT_READY"
	case HardwareError:
		return "HARDWARE_ERROR"
	case ConnectionLost:
		return "CONNECTION_LOST"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}
