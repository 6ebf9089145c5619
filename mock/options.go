package mock

import (
	"errors"
	"time"

	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/logger"
)

// DefaultSettleTime is the default time a wavelength, slit or setup change takes to complete.
const DefaultSettleTime = 100 * time.Millisecond

type options struct {
	host          string
	port          int
	limits        device.Limits
	initial       device.Position
	settle        time.Duration
	gratingSettle time.Duration
	connectStatus device.Status
	logger        logger.Logger
}

// DefaultLimits returns the limits of the simulated controller when none are given.
func DefaultLimits() device.Limits {
	return device.Limits{
		WavelengthGR1:    320,
		WavelengthGR1GR2: 800,
		WavelengthGR2:    1130,
		MinWavelength:    320,
		MaxWavelength:    1130,
		MinSlitWidth:     0,
		MaxSlitWidth:     7,
	}
}

func defaultOptions() *options {
	limits := DefaultLimits()

	return &options{
		host:          "127.0.0.1",
		port:          0,
		limits:        limits,
		initial:       initialPosition(limits),
		settle:        DefaultSettleTime,
		gratingSettle: DefaultSettleTime,
		connectStatus: device.StatusReady,
		logger:        logger.GetLogger(),
	}
}

func initialPosition(l device.Limits) device.Position {
	return device.Position{
		Wavelength: l.MinWavelength,
		Grating:    device.Grating1,
		EntrySlit:  l.MinSlitWidth,
		ExitSlit:   l.MinSlitWidth,
	}
}

// Option represents a functional option for configuring a Controller.
type Option interface {
	apply(*options) error
}

type optFunc struct {
	name      string
	applyFunc func(*options) error
}

func (o *optFunc) apply(opts *options) error { return o.applyFunc(opts) }

func newOptFunc(name string, f func(*options) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithAddress sets the listen address. Port 0 selects an ephemeral port.
//
// The default address is 127.0.0.1:0.
func WithAddress(host string, port int) Option {
	return newOptFunc("WithAddress", func(opts *options) error {
		if port < 0 || port > 65535 {
			return errors.New("port is out of range [0, 65535]")
		}
		opts.host = host
		opts.port = port

		return nil
	})
}

// WithLimits sets the physical limits the simulated device enforces and resets the initial
// position to the one derived from them.
func WithLimits(limits device.Limits) Option {
	return newOptFunc("WithLimits", func(opts *options) error {
		if err := limits.Validate(); err != nil {
			return err
		}
		opts.limits = limits
		opts.initial = initialPosition(limits)

		return nil
	})
}

// WithInitialPosition sets the position the simulated device starts at.
func WithInitialPosition(p device.Position) Option {
	return newOptFunc("WithInitialPosition", func(opts *options) error {
		if !p.Grating.Valid() {
			return errors.New("invalid initial grating")
		}
		opts.initial = p

		return nil
	})
}

// WithSettleTime sets how long wavelength, slit, setup and reset changes take to complete.
//
// The default value is 100 milliseconds.
func WithSettleTime(d time.Duration) Option {
	return newOptFunc("WithSettleTime", func(opts *options) error {
		if d < 0 {
			return errors.New("settle time must not be negative")
		}
		opts.settle = d

		return nil
	})
}

// WithGratingSettleTime sets how long a grating change takes to complete.
//
// The default value is 100 milliseconds.
func WithGratingSettleTime(d time.Duration) Option {
	return newOptFunc("WithGratingSettleTime", func(opts *options) error {
		if d < 0 {
			return errors.New("grating settle time must not be negative")
		}
		opts.gratingSettle = d

		return nil
	})
}

// WithConnectStatus sets the software status reported once a client connects.
//
// The default value is READY.
func WithConnectStatus(s device.Status) Option {
	return newOptFunc("WithConnectStatus", func(opts *options) error {
		if !s.Valid() || s == device.StatusOffline {
			return errors.New("connect status must be READY, SETTING_UP or FAULT")
		}
		opts.connectStatus = s

		return nil
	})
}

// WithLogger sets the logger of the controller.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(opts *options) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		opts.logger = l

		return nil
	})
}
