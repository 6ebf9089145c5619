package component

import "errors"

var (
	// ErrInvalidCommand is returned for a summary state command not allowed in the current state.
	ErrInvalidCommand = errors.New("component: command not allowed in current state")
	// ErrNotEnabled is returned for a device command outside ENABLED.
	ErrNotEnabled = errors.New("component: not enabled")
	// ErrNotReady is returned for a device command while another one is running.
	ErrNotReady = errors.New("component: detailed state is not READY")
	// ErrConnectionFailed wraps the failure of connecting to the controller.
	ErrConnectionFailed = errors.New("component: connection to controller failed")
	// ErrHardwareNotReady is returned when the controller status is not READY after connecting.
	ErrHardwareNotReady = errors.New("component: controller is not ready")
)
