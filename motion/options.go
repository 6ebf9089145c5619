package motion

import (
	"errors"
	"time"

	"github.com/arloliu/go-monochromator/logger"
)

type options struct {
	pollInterval   time.Duration
	moveTimeout    time.Duration
	gratingTimeout time.Duration
	logger         logger.Logger
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

// WithPollInterval sets the interval between status polls while a step is outstanding.
// It should be between 1 millisecond and 60 seconds.
//
// The default value is 0.5 seconds.
func WithPollInterval(d time.Duration) Option {
	return newOptFunc("WithPollInterval", func(opts *options) error {
		if d < time.Millisecond || d > time.Minute {
			return errors.New("poll interval out of range [0.001, 60]")
		}
		opts.pollInterval = d

		return nil
	})
}

// WithMoveTimeout bounds the confirmation of a wavelength, slit or calibration step.
//
// The default value is 60 seconds.
func WithMoveTimeout(d time.Duration) Option {
	return newOptFunc("WithMoveTimeout", func(opts *options) error {
		if d <= 0 {
			return errors.New("move timeout must be positive")
		}
		opts.moveTimeout = d

		return nil
	})
}

// WithGratingTimeout bounds the confirmation of a grating change, a setup that changes the
// grating, and a controller reset.
//
// The default value is 300 seconds.
func WithGratingTimeout(d time.Duration) Option {
	return newOptFunc("WithGratingTimeout", func(opts *options) error {
		if d <= 0 {
			return errors.New("grating timeout must be positive")
		}
		opts.gratingTimeout = d

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
