package heartbeat

import "errors"

var (
	// ErrNoResponse is the cause of a loss after too many consecutive poll timeouts.
	ErrNoResponse = errors.New("heartbeat: controller stopped responding")

	// ErrControllerFault is the cause of a loss when the controller reports FAULT or OFFLINE.
	ErrControllerFault = errors.New("heartbeat: controller reported fault")

	// ErrAlreadyRunning is returned by Start when the monitor is polling.
	ErrAlreadyRunning = errors.New("heartbeat: monitor already running")
)
