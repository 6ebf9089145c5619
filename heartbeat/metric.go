package heartbeat

import "sync/atomic"

// Metrics contains atomic counters of a monitor.
type Metrics struct {
	// PollCount indicates the number of status polls sent.
	PollCount atomic.Uint64
	// PollErrCount indicates the number of polls that failed, timeouts included.
	PollErrCount atomic.Uint64
	// TimeoutCount indicates the number of polls that timed out.
	TimeoutCount atomic.Uint64
	// LossCount indicates the number of reported losses.
	LossCount atomic.Uint64
}

func (m *Metrics) incPollCount()    { m.PollCount.Add(1) }
func (m *Metrics) incPollErrCount() { m.PollErrCount.Add(1) }
func (m *Metrics) incTimeoutCount() { m.TimeoutCount.Add(1) }
func (m *Metrics) incLossCount()    { m.LossCount.Add(1) }
