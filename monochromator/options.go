package monochromator

import (
	"errors"

	"github.com/arloliu/go-monochromator/heartbeat"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/motion"
)

type options struct {
	motionOpts    []motion.Option
	heartbeatOpts []heartbeat.Option
	logger        logger.Logger
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

// WithMotionOptions passes options to the motion controller.
func WithMotionOptions(opts ...motion.Option) Option {
	return newOptFunc("WithMotionOptions", func(o *options) error {
		o.motionOpts = append(o.motionOpts, opts...)
		return nil
	})
}

// WithHeartbeatOptions passes options to the heartbeat monitor.
func WithHeartbeatOptions(opts ...heartbeat.Option) Option {
	return newOptFunc("WithHeartbeatOptions", func(o *options) error {
		o.heartbeatOpts = append(o.heartbeatOpts, opts...)
		return nil
	})
}

// WithLogger sets the logger of the controller and of the components it creates, unless
// they are given their own.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(o *options) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		o.logger = l

		return nil
	})
}
