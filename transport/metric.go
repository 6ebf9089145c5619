package transport

import "sync/atomic"

// Metrics contains atomic counters of a session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ConnectCount indicates the number of successful connects.
	ConnectCount atomic.Uint64
	// ConnectErrCount indicates the number of failed connects.
	ConnectErrCount atomic.Uint64

	// CommandSendCount indicates the number of request lines written.
	CommandSendCount atomic.Uint64
	// ReplyRecvCount indicates the number of reply lines read.
	ReplyRecvCount atomic.Uint64
	// IOErrCount indicates the number of failed writes and reads, timeouts included.
	IOErrCount atomic.Uint64
	// TimeoutCount indicates the number of read and write timeouts.
	TimeoutCount atomic.Uint64
	// DrainedLineCount indicates the number of stale reply lines discarded.
	DrainedLineCount atomic.Uint64

	// FaultCount indicates the number of transitions to FAULTED.
	FaultCount atomic.Uint64
}

func (m *Metrics) incConnectCount()     { m.ConnectCount.Add(1) }
func (m *Metrics) incConnectErrCount()  { m.ConnectErrCount.Add(1) }
func (m *Metrics) incCommandSendCount() { m.CommandSendCount.Add(1) }
func (m *Metrics) incReplyRecvCount()   { m.ReplyRecvCount.Add(1) }
func (m *Metrics) incIOErrCount()       { m.IOErrCount.Add(1) }
func (m *Metrics) incTimeoutCount()     { m.TimeoutCount.Add(1) }
func (m *Metrics) incDrainedLineCount() { m.DrainedLineCount.Add(1) }
func (m *Metrics) incFaultCount()       { m.FaultCount.Add(1) }
