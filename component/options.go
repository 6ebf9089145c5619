package component

import (
	"errors"
	"time"

	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/mock"
	"github.com/arloliu/go-monochromator/motion"
)

// StateHandler is invoked after every change of the summary or detailed state. Handlers
// must not call summary state commands.
type StateHandler func(summary State, detailed DetailedState)

// FaultHandler is invoked once per transition to FAULT.
type FaultHandler func(code ErrorCode, report string)

// ProgressHandler is invoked while a device command is in progress.
type ProgressHandler func(command string, r motion.Result)

type options struct {
	simulation       bool
	mockOpts         []mock.Option
	progressInterval time.Duration
	stateHandlers    []StateHandler
	faultHandlers    []FaultHandler
	progressHandlers []ProgressHandler
	logger           logger.Logger
}

// Option represents a functional option for configuring a Component.
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

// WithSimulation runs a simulated controller on the configured host and port and connects
// to it instead of the hardware.
func WithSimulation(val bool) Option {
	return newOptFunc("WithSimulation", func(opts *options) error {
		opts.simulation = val
		return nil
	})
}

// WithMockOptions passes options to the simulated controller.
func WithMockOptions(mockOpts ...mock.Option) Option {
	return newOptFunc("WithMockOptions", func(opts *options) error {
		opts.mockOpts = append(opts.mockOpts, mockOpts...)
		return nil
	})
}

// WithProgressInterval sets how often progress handlers are invoked while a device command
// is in progress.
//
// The default value is the configured poll interval.
func WithProgressInterval(d time.Duration) Option {
	return newOptFunc("WithProgressInterval", func(opts *options) error {
		if d < time.Millisecond {
			return errors.New("progress interval must be at least 1 millisecond")
		}
		opts.progressInterval = d

		return nil
	})
}

// WithStateHandler adds a summary and detailed state change handler.
func WithStateHandler(h StateHandler) Option {
	return newOptFunc("WithStateHandler", func(opts *options) error {
		if h == nil {
			return errors.New("state handler is nil")
		}
		opts.stateHandlers = append(opts.stateHandlers, h)

		return nil
	})
}

// WithFaultHandler adds a fault handler.
func WithFaultHandler(h FaultHandler) Option {
	return newOptFunc("WithFaultHandler", func(opts *options) error {
		if h == nil {
			return errors.New("fault handler is nil")
		}
		opts.faultHandlers = append(opts.faultHandlers, h)

		return nil
	})
}

// WithProgressHandler adds a progress handler.
func WithProgressHandler(h ProgressHandler) Option {
	return newOptFunc("WithProgressHandler", func(opts *options) error {
		if h == nil {
			return errors.New("progress handler is nil")
		}
		opts.progressHandlers = append(opts.progressHandlers, h)

		return nil
	})
}

// WithLogger sets the logger of the component and of everything it creates.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(opts *options) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		opts.logger = l

		return nil
	})
}
