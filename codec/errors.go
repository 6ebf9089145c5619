package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is matched by every *ProtocolError.
	ErrProtocol = errors.New("codec: protocol error")

	// ErrRejected is matched by every *ReplyError, i.e. any acknowledgment other than #OK.
	ErrRejected = errors.New("codec: command not accepted by controller")

	// ErrReplyOutOfRange is matched by a #OUR acknowledgment.
	ErrReplyOutOfRange = errors.New("codec: controller reported value out of range")
	// ErrInvalidCommand is matched by a ?? acknowledgment.
	ErrInvalidCommand = errors.New("codec: controller reported invalid command")
	// ErrBusy is matched by a #BUSY acknowledgment.
	ErrBusy = errors.New("codec: controller busy")
	// ErrCommandRejected is matched by a #RJCT acknowledgment.
	ErrCommandRejected = errors.New("codec: controller rejected command")
)

// ProtocolError reports a reply line that could not be decoded.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("codec: malformed reply %q: %s", e.Line, e.Reason)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

func protocolErr(line string, format string, args ...any) error {
	return &ProtocolError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// ReplyError reports a well-formed acknowledgment other than #OK.
type ReplyError struct {
	Code    ReplyCode
	Request string
}

func (e *ReplyError) Error() string {
	if e.Request == "" {
		return fmt.Sprintf("codec: controller replied %s", e.Code)
	}

	return fmt.Sprintf("codec: controller replied %s to %q", e.Code, e.Request)
}

func (e *ReplyError) Unwrap() []error {
	switch e.Code {
	case CodeOutOfRange:
		return []error{ErrRejected, ErrReplyOutOfRange}
	case CodeInvalid:
		return []error{ErrRejected, ErrInvalidCommand}
	case CodeBusy:
		return []error{ErrRejected, ErrBusy}
	case CodeRejected:
		return []error{ErrRejected, ErrCommandRejected}
	default:
		return []error{ErrRejected}
	}
}
