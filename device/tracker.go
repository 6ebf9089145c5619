package device

import (
	"sync"
	"time"
)

// Snapshot is a consistent view of the tracker.
type Snapshot struct {
	Position Position
	// Status is the last controller software status read back.
	Status Status
	// Moving is true while a motion is outstanding.
	Moving bool
	// Target is the target of the outstanding motion; meaningful only when Moving is true.
	Target Position
	// Updated is the time of the last confirmed update.
	Updated time.Time
}

// Tracker holds the last confirmed device position.
//
// It is a data sink: callers update it only after the controller confirmed a value,
// and it performs no validation. All methods are safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	seeded bool
}

// NewTracker creates a tracker holding initial.
func NewTracker(initial Position) *Tracker {
	return &Tracker{snap: Snapshot{Position: initial, Status: StatusOffline}}
}

// CurrentPosition returns the last confirmed position.
func (t *Tracker) CurrentPosition() Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snap.Position
}

// IsInMotion reports whether a motion is outstanding.
func (t *Tracker) IsInMotion() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snap.Moving
}

// Seeded reports whether the tracker has been loaded from a controller readback.
func (t *Tracker) Seeded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.seeded
}

// Snapshot returns a copy of the tracker state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snap
}

// Seed replaces the position and status with a full controller readback.
func (t *Tracker) Seed(p Position, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Position = p
	t.snap.Status = status
	t.snap.Updated = time.Now()
	t.seeded = true
}

// ConfirmPosition records a confirmed position.
func (t *Tracker) ConfirmPosition(p Position) {
	t.update(func(s *Snapshot) { s.Position = p })
}

// ConfirmWavelength records a confirmed wavelength.
func (t *Tracker) ConfirmWavelength(nm float64) {
	t.update(func(s *Snapshot) { s.Position.Wavelength = nm })
}

// ConfirmGrating records a confirmed grating.
func (t *Tracker) ConfirmGrating(g Grating) {
	t.update(func(s *Snapshot) { s.Position.Grating = g })
}

// ConfirmSlitWidth records a confirmed slit width.
func (t *Tracker) ConfirmSlitWidth(slit Slit, mm float64) {
	t.update(func(s *Snapshot) { s.Position = s.Position.WithSlitWidth(slit, mm) })
}

// ConfirmStatus records a controller software status.
func (t *Tracker) ConfirmStatus(status Status) {
	t.update(func(s *Snapshot) { s.Status = status })
}

// BeginMotion marks a motion toward target as outstanding.
// It returns false when another motion is already outstanding.
func (t *Tracker) BeginMotion(target Position) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Moving {
		return false
	}
	t.snap.Moving = true
	t.snap.Target = target

	return true
}

// EndMotion clears the outstanding motion.
func (t *Tracker) EndMotion() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Moving = false
	t.snap.Target = Position{}
}

func (t *Tracker) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.snap)
	t.snap.Updated = time.Now()
}
