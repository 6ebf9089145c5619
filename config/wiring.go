package config

import (
	"github.com/arloliu/go-monochromator/heartbeat"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/monochromator"
	"github.com/arloliu/go-monochromator/motion"
	"github.com/arloliu/go-monochromator/transport"
)

// TransportConfig returns the connection configuration for the configured host and port.
func (c *Config) TransportConfig(l logger.Logger) (*transport.Config, error) {
	opts := []transport.ConnOption{
		transport.WithConnectTimeout(c.ConnectTimeoutDuration()),
		transport.WithReadTimeout(c.ReadTimeoutDuration()),
		transport.WithWriteTimeout(c.WriteTimeoutDuration()),
	}
	if l != nil {
		opts = append(opts, transport.WithLogger(l))
	}

	return transport.NewConfig(c.Host, c.Port, opts...)
}

// MonochromatorOptions returns the motion and heartbeat settings as controller options.
func (c *Config) MonochromatorOptions() []monochromator.Option {
	return []monochromator.Option{
		monochromator.WithMotionOptions(
			motion.WithPollInterval(c.PollIntervalDuration()),
			motion.WithMoveTimeout(c.MoveTimeoutDuration()),
			motion.WithGratingTimeout(c.MoveGratingTimeoutDuration()),
		),
		monochromator.WithHeartbeatOptions(
			heartbeat.WithPeriod(c.PeriodDuration()),
			heartbeat.WithTimeout(c.TimeoutDuration()),
			heartbeat.WithFailureThreshold(c.HeartbeatFailureThreshold),
		),
	}
}
