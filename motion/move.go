package motion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/device"
)

// step is one set command of a move together with the values that confirm it.
type step struct {
	name    string
	cmd     codec.Command
	target  device.Position
	verbs   []codec.Verb
	timeout time.Duration
	// readBack confirms what the controller reports once READY instead of matching target.
	readBack bool
	// onConfirm runs once the step is confirmed.
	onConfirm func()
}

// Move is the handle of an outstanding or finished move. It is safe for concurrent use.
type Move struct {
	id      uint64
	kind    string
	target  device.Position
	started time.Time

	progress atomic.Uint64

	mu       sync.Mutex
	stepName string
	result   Result

	once   sync.Once
	done   chan struct{}
	cancel context.CancelFunc
}

func newMove(id uint64, kind string, target device.Position, cancel context.CancelFunc) *Move {
	return &Move{
		id:      id,
		kind:    kind,
		target:  target,
		started: time.Now(),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
}

// ID returns the sequence number of the move.
func (m *Move) ID() uint64 { return m.id }

// Kind names what the move changes, e.g. "wavelength".
func (m *Move) Kind() string { return m.kind }

// Target returns the position the move drives to.
func (m *Move) Target() device.Position { return m.target }

// Done returns a channel closed when the move ended.
func (m *Move) Done() <-chan struct{} { return m.done }

// Poll returns the current state of the move without blocking.
func (m *Move) Poll() Result {
	select {
	case <-m.done:
		m.mu.Lock()
		defer m.mu.Unlock()

		return m.result
	default:
	}

	return Result{
		Kind:     InProgress,
		Progress: m.progress.Load(),
		Elapsed:  time.Since(m.started),
		Step:     m.step(),
	}
}

// Wait blocks until the move ended or ctx is done and returns Poll. A done ctx leaves the
// move running; use Cancel to stop it.
func (m *Move) Wait(ctx context.Context) Result {
	select {
	case <-m.done:
	case <-ctx.Done():
	}

	return m.Poll()
}

// Cancel stops polling the controller. The move ends Failed with ErrMoveCanceled; a
// command already sent keeps executing on the controller.
func (m *Move) Cancel() { m.cancel() }

func (m *Move) setStep(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stepName = name
}

func (m *Move) step() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stepName
}

// finish records the final result once. It reports whether this call ended the move.
func (m *Move) finish(r Result, before func()) bool {
	ended := false
	m.once.Do(func() {
		r.Progress = m.progress.Load()
		r.Elapsed = time.Since(m.started)
		r.Step = m.step()

		m.mu.Lock()
		m.result = r
		m.mu.Unlock()

		if before != nil {
			before()
		}
		m.cancel()
		close(m.done)
		ended = true
	})

	return ended
}
