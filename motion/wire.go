package motion

import (
	"context"
	"errors"
	"strconv"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/device"
)

// Exchanger performs serialized request/response round trips with the controller.
// *transport.Session implements it.
type Exchanger interface {
	SendAndReceive(ctx context.Context, line string) (string, error)
	// Fault marks the session faulted after a reply that cannot be interpreted.
	Fault(cause error)
}

// faultOnProtocol faults the session when err is a protocol error: after a malformed reply
// the request/response pairing can no longer be trusted.
func faultOnProtocol(ex Exchanger, err error) error {
	if errors.Is(err, codec.ErrProtocol) {
		ex.Fault(err)
	}

	return err
}

// Send sends a set request and decodes its acknowledgment.
func Send(ctx context.Context, ex Exchanger, cmd codec.Command) error {
	line, err := ex.SendAndReceive(ctx, cmd.String())
	if err != nil {
		return err
	}

	return faultOnProtocol(ex, codec.DecodeAck(cmd, line))
}

// QueryFloat queries a numeric value.
func QueryFloat(ctx context.Context, ex Exchanger, verb codec.Verb) (float64, error) {
	line, err := ex.SendAndReceive(ctx, codec.Query(verb).String())
	if err != nil {
		return 0, err
	}

	v, err := codec.DecodeFloat(verb, line)
	if err != nil {
		return 0, faultOnProtocol(ex, err)
	}

	return v, nil
}

func queryInt(ctx context.Context, ex Exchanger, verb codec.Verb) (int, string, error) {
	line, err := ex.SendAndReceive(ctx, codec.Query(verb).String())
	if err != nil {
		return 0, "", err
	}

	v, err := codec.DecodeInt(verb, line)
	if err != nil {
		return 0, line, faultOnProtocol(ex, err)
	}

	return v, line, nil
}

// ReadStatus queries the controller software status.
func ReadStatus(ctx context.Context, ex Exchanger) (device.Status, error) {
	v, line, err := queryInt(ctx, ex, codec.VerbStatus)
	if err != nil {
		return 0, err
	}

	status := device.Status(v)
	if !status.Valid() {
		return 0, faultOnProtocol(ex, &codec.ProtocolError{Line: line, Reason: "unknown status " + strconv.Itoa(v)})
	}

	return status, nil
}

// ReadGrating queries the selected grating.
func ReadGrating(ctx context.Context, ex Exchanger) (device.Grating, error) {
	v, line, err := queryInt(ctx, ex, codec.VerbGrating)
	if err != nil {
		return 0, err
	}

	g := device.Grating(v)
	if !g.Valid() {
		return 0, faultOnProtocol(ex, &codec.ProtocolError{Line: line, Reason: "unknown grating " + strconv.Itoa(v)})
	}

	return g, nil
}

// ReadPosition reads back the full device position.
func ReadPosition(ctx context.Context, ex Exchanger) (device.Position, error) {
	var (
		p   device.Position
		err error
	)

	if p.Wavelength, err = QueryFloat(ctx, ex, codec.VerbWavelength); err != nil {
		return p, err
	}
	if p.Grating, err = ReadGrating(ctx, ex); err != nil {
		return p, err
	}
	if p.EntrySlit, err = QueryFloat(ctx, ex, codec.VerbEntranceSlit); err != nil {
		return p, err
	}
	if p.ExitSlit, err = QueryFloat(ctx, ex, codec.VerbExitSlit); err != nil {
		return p, err
	}

	return p, nil
}

// readBack reads the values addressed by verbs into a copy of base.
func readBack(ctx context.Context, ex Exchanger, base device.Position, verbs []codec.Verb) (device.Position, error) {
	p := base
	for _, verb := range verbs {
		var err error
		switch verb {
		case codec.VerbWavelength:
			p.Wavelength, err = QueryFloat(ctx, ex, verb)
		case codec.VerbGrating:
			p.Grating, err = ReadGrating(ctx, ex)
		case codec.VerbEntranceSlit:
			p.EntrySlit, err = QueryFloat(ctx, ex, verb)
		case codec.VerbExitSlit:
			p.ExitSlit, err = QueryFloat(ctx, ex, verb)
		}
		if err != nil {
			return p, err
		}
	}

	return p, nil
}

// matches compares the fields addressed by verbs. Values are compared at wire precision.
func matches(a, b device.Position, verbs []codec.Verb) bool {
	for _, verb := range verbs {
		switch verb {
		case codec.VerbWavelength:
			if codec.Quantize(a.Wavelength) != codec.Quantize(b.Wavelength) {
				return false
			}
		case codec.VerbGrating:
			if a.Grating != b.Grating {
				return false
			}
		case codec.VerbEntranceSlit:
			if codec.Quantize(a.EntrySlit) != codec.Quantize(b.EntrySlit) {
				return false
			}
		case codec.VerbExitSlit:
			if codec.Quantize(a.ExitSlit) != codec.Quantize(b.ExitSlit) {
				return false
			}
		}
	}

	return true
}
