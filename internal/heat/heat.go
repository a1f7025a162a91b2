// Package heat implements the per-heater PID loop and the Heat subsystem
// that owns all heaters and samples them at a fixed period.
package heat

import (
	"motioncore/internal/platform"
	"motioncore/pkg/log"
)

// PID holds one heater's closed-loop state.
type PID struct {
	Temperature     float64
	LastTemperature float64
	IState          float64
	DState          float64

	ActiveSetpoint  float64
	StandbySetpoint float64
	Active          bool // true: regulate to ActiveSetpoint; false: StandbySetpoint

	BadTemperatureCount int
	FaultLatched        bool

	PWM float64
}

func newPID() *PID {
	return &PID{
		Temperature:     platform.AbsZero,
		LastTemperature: platform.AbsZero,
		ActiveSetpoint:  platform.AbsZero,
		StandbySetpoint: platform.AbsZero,
	}
}

// Setpoint returns the setpoint currently in effect.
func (p *PID) Setpoint() float64 {
	if p.Active {
		return p.ActiveSetpoint
	}
	return p.StandbySetpoint
}

// spin runs one sample of the control algorithm described in §4.2,
// returning the PWM to publish and whether a fault newly latched this
// sample (as opposed to having already been latched).
func (p *PID) spin(measured float64, limits platform.HeaterLimits) (pwm float64, newlyFaulted bool) {
	p.LastTemperature = p.Temperature
	p.Temperature = measured

	if measured < platform.BadLowTemperature || measured > platform.BadHighTemperature {
		p.BadTemperatureCount++
		if p.BadTemperatureCount > platform.MaxBadTemperatureCount && !p.FaultLatched {
			p.FaultLatched = true
			newlyFaulted = true
		}
	} else {
		p.BadTemperatureCount = 0
	}

	if p.FaultLatched {
		p.PWM = 0
		return 0, newlyFaulted
	}

	setpoint := p.Setpoint()
	errTerm := setpoint - p.Temperature

	if !limits.UsePID {
		if errTerm > 0 {
			p.PWM = 1
		} else {
			p.PWM = 0
		}
		return p.PWM, newlyFaulted
	}

	switch {
	case errTerm < -limits.FullBand:
		p.IState = 0
		p.PWM = 0
	case errTerm > limits.FullBand:
		p.IState = 0
		p.PWM = 1
	default:
		p.IState = clamp(p.IState+limits.Ki*errTerm, limits.IMin, limits.IMax)
		p.DState = limits.Kd*(p.Temperature-p.LastTemperature)*(1-limits.DMix) + limits.DMix*p.DState
		out := limits.Kp*errTerm + p.IState - p.DState
		out = clamp(out, 0, 255)
		p.PWM = out / 255.0
	}
	return p.PWM, newlyFaulted
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Heat owns every heater's PID and samples them all at a fixed period,
// propagating newly-latched faults to every registered observer.
type Heat struct {
	platform platform.Platform
	pids     []*PID

	lastSampleTime float64
	sampled        bool

	observers []platform.FaultObserver

	log *log.Logger
}

// New creates a Heat subsystem for heaterCount heaters driven by p.
func New(p platform.Platform, heaterCount int) *Heat {
	pids := make([]*PID, heaterCount)
	for i := range pids {
		pids[i] = newPID()
	}
	return &Heat{
		platform: p,
		pids:     pids,
		log:      log.New("heat"),
	}
}

// RegisterObserver adds an observer notified of fault latch/clear
// transitions. internal/tool.Tool satisfies platform.FaultObserver.
func (h *Heat) RegisterObserver(o platform.FaultObserver) {
	h.observers = append(h.observers, o)
}

// HeaterCount returns the number of heaters this Heat owns.
func (h *Heat) HeaterCount() int { return len(h.pids) }

// Spin samples every heater if HeatSampleTime has elapsed since the last
// sample, and returns whether it did. Called once per foreground pass;
// never blocks.
func (h *Heat) Spin(now float64) bool {
	if h.sampled && now-h.lastSampleTime < platform.HeatSampleTime {
		return false
	}
	h.sampled = true
	h.lastSampleTime = now

	for i, pid := range h.pids {
		measured := h.platform.GetTemperature(i)
		limits := h.platform.HeaterLimits(i)
		pwm, newlyFaulted := pid.spin(measured, limits)
		h.platform.SetHeater(i, pwm)
		if newlyFaulted {
			h.log.WithField("heater", i).Warn("temperature fault latched")
			for _, obs := range h.observers {
				obs.OnHeaterFault(i)
			}
		}
	}
	return true
}

// ClearFault clears a latched fault on heater i, resetting its bad-reading
// counter, and notifies observers. This is the only way a fault ever
// clears; it must be called deliberately, e.g. by an operator acknowledging
// the condition.
func (h *Heat) ClearFault(i int) {
	pid := h.pids[i]
	if !pid.FaultLatched {
		return
	}
	pid.FaultLatched = false
	pid.BadTemperatureCount = 0
	for _, obs := range h.observers {
		obs.OnHeaterFaultCleared(i)
	}
}

// FaultLatched reports whether heater i currently has a latched fault.
func (h *Heat) FaultLatched(i int) bool { return h.pids[i].FaultLatched }

// GetTemperature returns heater i's last-sampled temperature.
func (h *Heat) GetTemperature(i int) float64 { return h.pids[i].Temperature }

// GetPWM returns heater i's last-commanded PWM fraction in [0,1].
func (h *Heat) GetPWM(i int) float64 { return h.pids[i].PWM }

// GetSetpoint returns heater i's currently active setpoint (active or
// standby, whichever is in effect).
func (h *Heat) GetSetpoint(i int) float64 { return h.pids[i].Setpoint() }

// SetActiveTemperature sets heater i's active setpoint.
func (h *Heat) SetActiveTemperature(i int, t float64) { h.pids[i].ActiveSetpoint = t }

// SetStandbyTemperature sets heater i's standby setpoint.
func (h *Heat) SetStandbyTemperature(i int, t float64) { h.pids[i].StandbySetpoint = t }

// Activate switches heater i to regulate against its active setpoint.
func (h *Heat) Activate(i int) { h.pids[i].Active = true }

// Standby switches heater i to regulate against its standby setpoint.
func (h *Heat) Standby(i int) { h.pids[i].Active = false }

// HeaterAtSetTemperature reports whether heater i is within tolerance of
// its current setpoint, per invariant 8. A setpoint below
// TemperatureLowSoDontCare is always considered "at temperature".
func (h *Heat) HeaterAtSetTemperature(i int) bool {
	pid := h.pids[i]
	setpoint := pid.Setpoint()
	if setpoint < platform.TemperatureLowSoDontCare {
		return true
	}
	diff := setpoint - pid.Temperature
	if diff < 0 {
		diff = -diff
	}
	return diff <= platform.TemperatureCloseEnough
}

// AllHeatersAtSetTemperatures reports whether every heater satisfies
// HeaterAtSetTemperature.
func (h *Heat) AllHeatersAtSetTemperatures() bool {
	for i := range h.pids {
		if !h.HeaterAtSetTemperature(i) {
			return false
		}
	}
	return true
}
