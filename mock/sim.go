package mock

import (
	"sync"
	"time"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/device"
)

type pendingMove struct {
	target device.Position
	offset float64
	due    time.Time
}

// simDevice is the simulated controller state. Position.Wavelength holds the reported
// wavelength, i.e. the mechanical position corrected by offset.
type simDevice struct {
	mu     sync.Mutex
	limits device.Limits

	settle        time.Duration
	gratingSettle time.Duration
	connectStatus device.Status

	pos     device.Position
	offset  float64
	status  device.Status
	pending *pendingMove

	now func() time.Time
}

func newSimDevice(opts *options) *simDevice {
	return &simDevice{
		limits:        opts.limits,
		settle:        opts.settle,
		gratingSettle: opts.gratingSettle,
		connectStatus: opts.connectStatus,
		pos:           opts.initial,
		status:        device.StatusOffline,
		now:           time.Now,
	}
}

// tick completes the pending move once its settling time elapsed. mu must be held.
func (d *simDevice) tick() {
	if d.pending == nil || d.now().Before(d.pending.due) {
		return
	}

	d.pos = d.pending.target
	d.offset = d.pending.offset
	d.pending = nil
	if d.status == device.StatusSettingUp {
		d.status = device.StatusReady
	}
}

// begin starts a move to target. mu must be held.
func (d *simDevice) begin(target device.Position, offset float64, settle time.Duration) {
	if settle <= 0 {
		d.pos = target
		d.offset = offset
		return
	}

	d.pending = &pendingMove{target: target, offset: offset, due: d.now().Add(settle)}
	d.status = device.StatusSettingUp
}

// admit checks whether a set command may run now. mu must be held.
func (d *simDevice) admit() (codec.ReplyCode, bool) {
	d.tick()

	if d.pending != nil {
		return codec.CodeBusy, false
	}
	if d.status != device.StatusReady {
		return codec.CodeRejected, false
	}

	return codec.CodeOK, true
}

func (d *simDevice) wavelengthInRange(nm float64) bool {
	return nm >= d.limits.MinWavelength && nm <= d.limits.MaxWavelength
}

func (d *simDevice) slitInRange(mm float64) bool {
	return mm >= d.limits.MinSlitWidth && mm <= d.limits.MaxSlitWidth
}

func (d *simDevice) setWavelength(nm float64) codec.ReplyCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	if code, ok := d.admit(); !ok {
		return code
	}
	if !d.wavelengthInRange(nm) {
		return codec.CodeOutOfRange
	}

	target := d.pos
	target.Wavelength = nm
	d.begin(target, d.offset, d.settle)

	return codec.CodeOK
}

func (d *simDevice) setGrating(id int) codec.ReplyCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	if code, ok := d.admit(); !ok {
		return code
	}
	if !device.Grating(id).Valid() {
		return codec.CodeOutOfRange
	}

	target := d.pos
	target.Grating = device.Grating(id)
	d.begin(target, d.offset, d.gratingSettle)

	return codec.CodeOK
}

func (d *simDevice) setSlit(slit device.Slit, mm float64) codec.ReplyCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	if code, ok := d.admit(); !ok {
		return code
	}
	if !d.slitInRange(mm) {
		return codec.CodeOutOfRange
	}

	d.begin(d.pos.WithSlitWidth(slit, mm), d.offset, d.settle)

	return codec.CodeOK
}

// calibrate replaces the wavelength offset. The reported wavelength shifts by the difference
// between the new and the old offset and must stay within range.
func (d *simDevice) calibrate(offset float64) codec.ReplyCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	if code, ok := d.admit(); !ok {
		return code
	}

	reported := d.pos.Wavelength - d.offset + offset
	if !d.wavelengthInRange(reported) {
		return codec.CodeOutOfRange
	}

	d.pos.Wavelength = reported
	d.offset = offset

	return codec.CodeOK
}

func (d *simDevice) setAll(p device.Position) codec.ReplyCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	if code, ok := d.admit(); !ok {
		return code
	}
	if !d.wavelengthInRange(p.Wavelength) || !p.Grating.Valid() ||
		!d.slitInRange(p.EntrySlit) || !d.slitInRange(p.ExitSlit) {
		return codec.CodeOutOfRange
	}

	settle := d.settle
	if p.Grating != d.pos.Grating && d.gratingSettle > settle {
		settle = d.gratingSettle
	}
	d.begin(p, d.offset, settle)

	return codec.CodeOK
}

// reset returns to the initial position with a zero offset. It is accepted in any status but
// during a move, so it recovers a faulted controller.
func (d *simDevice) reset() codec.ReplyCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tick()
	if d.pending != nil {
		return codec.CodeBusy
	}

	initial := initialPosition(d.limits)

	if d.settle <= 0 {
		d.pos = initial
		d.offset = 0
		d.status = device.StatusReady

		return codec.CodeOK
	}

	d.begin(initial, 0, d.settle)

	return codec.CodeOK
}

func (d *simDevice) position() device.Position {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tick()

	return d.pos
}

func (d *simDevice) getStatus() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tick()

	return d.status
}

func (d *simDevice) setStatus(s device.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.status = s
}

func (d *simDevice) setPosition(p device.Position) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pos = p
	d.pending = nil
}

func (d *simDevice) getOffset() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tick()

	return d.offset
}

func (d *simDevice) moving() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tick()

	return d.pending != nil
}

// online sets the connect status, READY by default, when a client connects and OFFLINE
// when it leaves.
func (d *simDevice) online(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if connected {
		d.status = d.connectStatus
		return
	}

	d.status = device.StatusOffline
	if d.pending != nil {
		d.pos = d.pending.target
		d.offset = d.pending.offset
		d.pending = nil
	}
}
