// Package metrics exposes monochromator counters and state as Prometheus collectors.
//
// Collectors read the atomic counters of the connected session and heartbeat monitor at
// scrape time. The counters belong to a connection, so they restart from zero after a
// reconnect.
package metrics

import (
	"errors"

	"github.com/arloliu/go-monochromator/heartbeat"
	"github.com/arloliu/go-monochromator/monochromator"
	"github.com/arloliu/go-monochromator/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is the metric namespace used when none is given.
const DefaultNamespace = "monochromator"

// Source provides the values collected at scrape time.
type Source struct {
	// Controller returns the connected controller, nil when disconnected.
	Controller func() *monochromator.Controller
	// State returns the summary and detailed state codes. Optional.
	State func() (summary, detailed int)
}

// Collectors is the set of collectors over a Source.
type Collectors struct {
	src        Source
	names      []string
	collectors []prometheus.Collector
}

// New creates the collectors of src under namespace.
func New(namespace string, src Source) (*Collectors, error) {
	if src.Controller == nil {
		return nil, errors.New("metrics: source controller func is nil")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collectors{src: src}

	counter := func(subsystem, name, help string, value func() float64) {
		c.names = append(c.names, prometheus.BuildFQName(namespace, subsystem, name))
		c.collectors = append(c.collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, value))
	}
	gauge := func(subsystem, name, help string, value func() float64) {
		c.names = append(c.names, prometheus.BuildFQName(namespace, subsystem, name))
		c.collectors = append(c.collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, value))
	}

	counter("transport", "connects_total", "Successful connects of the current session.",
		c.transport(func(m *transport.Metrics) uint64 { return m.ConnectCount.Load() }))
	counter("transport", "connect_errors_total", "Failed connects of the current session.",
		c.transport(func(m *transport.Metrics) uint64 { return m.ConnectErrCount.Load() }))
	counter("transport", "commands_sent_total", "Request lines written to the controller.",
		c.transport(func(m *transport.Metrics) uint64 { return m.CommandSendCount.Load() }))
	counter("transport", "replies_received_total", "Reply lines read from the controller.",
		c.transport(func(m *transport.Metrics) uint64 { return m.ReplyRecvCount.Load() }))
	counter("transport", "io_errors_total", "Failed reads and writes, timeouts included.",
		c.transport(func(m *transport.Metrics) uint64 { return m.IOErrCount.Load() }))
	counter("transport", "timeouts_total", "Read and write timeouts.",
		c.transport(func(m *transport.Metrics) uint64 { return m.TimeoutCount.Load() }))
	counter("transport", "drained_lines_total", "Stale reply lines discarded.",
		c.transport(func(m *transport.Metrics) uint64 { return m.DrainedLineCount.Load() }))
	counter("transport", "faults_total", "Session transitions to FAULTED.",
		c.transport(func(m *transport.Metrics) uint64 { return m.FaultCount.Load() }))

	counter("heartbeat", "polls_total", "Heartbeat status polls sent.",
		c.heartbeat(func(m *heartbeat.Metrics) uint64 { return m.PollCount.Load() }))
	counter("heartbeat", "poll_errors_total", "Heartbeat polls that failed.",
		c.heartbeat(func(m *heartbeat.Metrics) uint64 { return m.PollErrCount.Load() }))
	counter("heartbeat", "timeouts_total", "Heartbeat polls that timed out.",
		c.heartbeat(func(m *heartbeat.Metrics) uint64 { return m.TimeoutCount.Load() }))
	counter("heartbeat", "losses_total", "Reported connection losses.",
		c.heartbeat(func(m *heartbeat.Metrics) uint64 { return m.LossCount.Load() }))

	gauge("heartbeat", "last_success_timestamp_seconds", "Unix time of the last successful heartbeat poll.",
		c.status(func(s monochromator.Status) float64 {
			if s.HeartbeatLastSuccess.IsZero() {
				return 0
			}
			return float64(s.HeartbeatLastSuccess.UnixNano()) / 1e9
		}))
	gauge("heartbeat", "consecutive_failures", "Consecutive failed heartbeat polls.",
		c.status(func(s monochromator.Status) float64 { return float64(s.HeartbeatFailures) }))

	gauge("session", "state", "Session state: 0 disconnected, 1 connecting, 2 connected, 3 faulted.",
		func() float64 {
			ctrl := c.src.Controller()
			if ctrl == nil {
				return float64(transport.DisconnectedState)
			}
			return float64(ctrl.Session().State())
		})

	gauge("device", "wavelength_nm", "Last confirmed wavelength.",
		c.status(func(s monochromator.Status) float64 { return s.Position.Wavelength }))
	gauge("device", "grating", "Last confirmed grating: 0 grating 1, 1 grating 2, 2 mirror.",
		c.status(func(s monochromator.Status) float64 { return float64(s.Position.Grating) }))
	gauge("device", "entrance_slit_mm", "Last confirmed entrance slit width.",
		c.status(func(s monochromator.Status) float64 { return s.Position.EntrySlit }))
	gauge("device", "exit_slit_mm", "Last confirmed exit slit width.",
		c.status(func(s monochromator.Status) float64 { return s.Position.ExitSlit }))
	gauge("device", "status", "Controller status: 0 ready, 1 setting up, 2 fault, 3 offline.",
		c.status(func(s monochromator.Status) float64 { return float64(s.Status) }))
	gauge("device", "moving", "1 while a move is outstanding.",
		c.status(func(s monochromator.Status) float64 { return boolFloat(s.Moving) }))

	if src.State != nil {
		gauge("component", "summary_state", "Summary state: 0 offline, 1 standby, 2 disabled, 3 enabled, 4 fault.",
			func() float64 { s, _ := src.State(); return float64(s) })
		gauge("component", "detailed_state", "Detailed state code.",
			func() float64 { _, d := src.State(); return float64(d) })
	}

	return c, nil
}

// Collectors returns the collectors, e.g. for a custom registry.
func (c *Collectors) Collectors() []prometheus.Collector { return c.collectors }

// Register registers every collector with reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range c.collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collectors) transport(f func(*transport.Metrics) uint64) func() float64 {
	return func() float64 {
		ctrl := c.src.Controller()
		if ctrl == nil {
			return 0
		}
		return float64(f(ctrl.Session().Metrics()))
	}
}

func (c *Collectors) heartbeat(f func(*heartbeat.Metrics) uint64) func() float64 {
	return func() float64 {
		ctrl := c.src.Controller()
		if ctrl == nil {
			return 0
		}
		return float64(f(ctrl.Heartbeat().Metrics()))
	}
}

func (c *Collectors) status(f func(monochromator.Status) float64) func() float64 {
	return func() float64 {
		ctrl := c.src.Controller()
		if ctrl == nil {
			return 0
		}
		return f(ctrl.GetStatus())
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
