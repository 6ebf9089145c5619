package heartbeat

import (
	"errors"
	"time"

	"github.com/arloliu/go-monochromator/logger"
)

const (
	// DefaultPeriod is the default time between status polls.
	DefaultPeriod = time.Second
	// DefaultTimeout is the default read timeout of a status poll.
	DefaultTimeout = 5 * time.Second
	// DefaultFailureThreshold is the default number of consecutive poll timeouts reported as a loss.
	DefaultFailureThreshold = 3
)

type options struct {
	period    time.Duration
	timeout   time.Duration
	threshold int
	handlers  []LossHandler
	logger    logger.Logger
}

func defaultOptions() *options {
	return &options{
		period:    DefaultPeriod,
		timeout:   DefaultTimeout,
		threshold: DefaultFailureThreshold,
		logger:    logger.GetLogger(),
	}
}

// Option represents a functional option for configuring a Monitor.
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

// WithPeriod sets the time between status polls.
// It should be between 10 milliseconds and 1 hour.
//
// The default value is 1 second.
func WithPeriod(d time.Duration) Option {
	return newOptFunc("WithPeriod", func(opts *options) error {
		if d < 10*time.Millisecond || d > time.Hour {
			return errors.New("period out of range [0.01, 3600]")
		}
		opts.period = d

		return nil
	})
}

// WithTimeout sets the read timeout of a status poll.
// It should be between 1 millisecond and 600 seconds.
//
// The default value is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return newOptFunc("WithTimeout", func(opts *options) error {
		if d < time.Millisecond || d > 600*time.Second {
			return errors.New("timeout out of range [0.001, 600]")
		}
		opts.timeout = d

		return nil
	})
}

// WithFailureThreshold sets the number of consecutive poll timeouts reported as a loss.
//
// The default value is 3.
func WithFailureThreshold(n int) Option {
	return newOptFunc("WithFailureThreshold", func(opts *options) error {
		if n < 1 || n > 100 {
			return errors.New("failure threshold out of range [1, 100]")
		}
		opts.threshold = n

		return nil
	})
}

// WithLossHandler adds a handler invoked when a loss is reported.
//
// Handlers run on the poll goroutine and must not call Stop.
func WithLossHandler(h LossHandler) Option {
	return newOptFunc("WithLossHandler", func(opts *options) error {
		if h == nil {
			return errors.New("loss handler is nil")
		}
		opts.handlers = append(opts.handlers, h)

		return nil
	})
}

// WithLogger sets the logger of the monitor.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(opts *options) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		opts.logger = l

		return nil
	})
}
