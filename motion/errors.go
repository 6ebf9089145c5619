package motion

import "errors"

var (
	// ErrMoveTimeout indicates that a step was not confirmed within its move timeout.
	ErrMoveTimeout = errors.New("motion: move not confirmed before timeout")

	// ErrControllerFault indicates that the controller reported FAULT or OFFLINE while a
	// move was outstanding.
	ErrControllerFault = errors.New("motion: controller reported fault")

	// ErrMoveCanceled indicates that the caller canceled the move. Commands already sent
	// are not retracted.
	ErrMoveCanceled = errors.New("motion: move canceled")

	// ErrMotionInProgress is returned when a move is requested while another is outstanding.
	ErrMotionInProgress = errors.New("motion: another move is in progress")

	// ErrInvalidSlit indicates an unknown slit selector.
	ErrInvalidSlit = errors.New("motion: invalid slit")
)
