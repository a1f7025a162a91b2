// Package simplatform is an in-memory platform.Platform and
// platform.CommandSource implementation for tests and demos: no real GPIO
// or ADC access, just step counters, configured endstop trip points, and a
// first-order heater thermal model.
package simplatform

import (
	"sync"

	"motioncore/internal/platform"
)

// DriveConfig is the static configuration for one simulated drive.
type DriveConfig struct {
	Limits               platform.DriveLimits
	LowLimit, HighLimit  float64 // mm, machine frame
	HasLow, HasHigh      bool
}

// HeaterConfig is the static configuration for one simulated heater,
// including the first-order thermal model's gain and loss coefficients.
type HeaterConfig struct {
	Limits  platform.HeaterLimits
	Ambient float64 // degrees C the heater cools toward with PWM 0
	Gain    float64 // degrees C/s at PWM 1, ignoring loss
	Loss    float64 // 1/s cooling-toward-ambient rate
}

type driveState struct {
	cfg       DriveConfig
	steps     int64
	direction bool // true = forward (+1)
	enabled   bool
}

type heaterState struct {
	cfg  HeaterConfig
	temp float64
	pwm  float64
}

// Platform is the simulated hardware. All methods are safe for concurrent
// use by one foreground caller and one ISR caller, matching the real
// contract: Step/SetDirection/Stopped are only ever called from the ISR
// goroutine, everything else only from the foreground.
type Platform struct {
	mu sync.Mutex

	now         float64
	interruptAt float64

	drives  []driveState
	heaters []heaterState

	zProbeStopHeight float64
	zProbeTriggered  bool
}

// New creates a simulated platform with the given drive and heater
// configurations. zProbeStopHeight is the machine Z height, in mm, the
// probe is considered to trip at.
func New(drives []DriveConfig, heaters []HeaterConfig, zProbeStopHeight float64) *Platform {
	p := &Platform{
		drives:           make([]driveState, len(drives)),
		heaters:          make([]heaterState, len(heaters)),
		zProbeStopHeight: zProbeStopHeight,
	}
	for i, c := range drives {
		p.drives[i] = driveState{cfg: c, direction: true}
	}
	for i, c := range heaters {
		p.heaters[i] = heaterState{cfg: c, temp: c.Ambient}
	}
	return p
}

// Time returns the simulated clock.
func (p *Platform) Time() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// SetInterrupt records when the ISR driver should next call Step.
func (p *Platform) SetInterrupt(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptAt = p.now + seconds
}

// NextInterrupt returns the absolute time of the most recently programmed
// interrupt, for the simulated ISR driver loop.
func (p *Platform) NextInterrupt() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interruptAt
}

// Step emits one step pulse on drive, advancing its simulated position.
func (p *Platform) Step(drive int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := &p.drives[drive]
	if d.direction {
		d.steps++
	} else {
		d.steps--
	}
}

// SetDirection sets drive's direction for subsequent Step calls.
func (p *Platform) SetDirection(drive int, forward bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drives[drive].direction = forward
}

// Disable de-energizes drive; the simulation just tracks the flag.
func (p *Platform) Disable(drive int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drives[drive].enabled = false
}

// Stopped polls drive's simulated endstop against its configured trip
// points.
func (p *Platform) Stopped(drive int) platform.StopState {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := &p.drives[drive]
	pos := float64(d.steps) / d.cfg.Limits.StepsPerUnit
	if d.cfg.HasLow && pos <= d.cfg.LowLimit {
		return platform.LowHit
	}
	if d.cfg.HasHigh && pos >= d.cfg.HighLimit {
		return platform.HighHit
	}
	return platform.NoStop
}

// GetTemperature returns heater's simulated temperature.
func (p *Platform) GetTemperature(heater int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heaters[heater].temp
}

// SetHeater publishes a PWM duty cycle for heater.
func (p *Platform) SetHeater(heater int, pwm float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pwm < 0 {
		pwm = 0
	}
	if pwm > 1 {
		pwm = 1
	}
	p.heaters[heater].pwm = pwm
}

// DriveLimits returns drive's configured limits.
func (p *Platform) DriveLimits(drive int) platform.DriveLimits {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drives[drive].cfg.Limits
}

// HeaterLimits returns heater's configured PID tuning.
func (p *Platform) HeaterLimits(heater int) platform.HeaterLimits {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heaters[heater].cfg.Limits
}

// UsePID reports heater's configured control mode.
func (p *Platform) UsePID(heater int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heaters[heater].cfg.Limits.UsePID
}

// ZProbe returns 1 if the simulated probe is currently forced triggered
// (via TriggerZProbe), 0 otherwise.
func (p *Platform) ZProbe() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.zProbeTriggered {
		return 1
	}
	return 0
}

// ZProbeStopHeight returns the configured probe trigger height.
func (p *Platform) ZProbeStopHeight() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.zProbeStopHeight
}

// TriggerZProbe forces the simulated probe's triggered state, for test
// scenarios that drive a probing move toward a known bed height.
func (p *Platform) TriggerZProbe(triggered bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zProbeTriggered = triggered
}

// Position returns drive's current simulated position in mm.
func (p *Platform) Position(drive int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := &p.drives[drive]
	return float64(d.steps) / d.cfg.Limits.StepsPerUnit
}

// AdvanceTime moves the simulated clock forward by dt seconds and updates
// every heater's first-order thermal model: dT/dt = pwm*gain -
// (T-ambient)*loss.
func (p *Platform) AdvanceTime(dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now += dt
	for i := range p.heaters {
		h := &p.heaters[i]
		h.temp += (h.pwm*h.cfg.Gain - (h.temp-h.cfg.Ambient)*h.cfg.Loss) * dt
	}
}

// QueuedMove is one move waiting in a QueueSource.
type QueuedMove struct {
	Target        []float64 // length drives: absolute axis mm / relative extruder delta mm
	FeedRate      float64
	CheckEndStops bool
}

// QueueSource is a platform.CommandSource backed by a plain FIFO slice of
// pre-built moves, for tests and demos that want to script an exact move
// sequence.
type QueueSource struct {
	mu     sync.Mutex
	drives int
	moves  []QueuedMove
}

// NewQueueSource creates an empty queue sized for drives axes+extruders.
func NewQueueSource(drives int) *QueueSource {
	return &QueueSource{drives: drives}
}

// Enqueue appends a move to the queue.
func (q *QueueSource) Enqueue(m QueuedMove) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.moves = append(q.moves, m)
}

// ReadMove implements platform.CommandSource.
func (q *QueueSource) ReadMove(target []float64) (checkEndStops bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.moves) == 0 {
		return false, false
	}
	m := q.moves[0]
	q.moves = q.moves[1:]
	copy(target[:q.drives], m.Target)
	target[q.drives] = m.FeedRate
	return m.CheckEndStops, true
}

// HaveIncomingData implements platform.CommandSource: true while more
// moves remain queued behind the one ReadMove just returned.
func (q *QueueSource) HaveIncomingData() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.moves) > 0
}
