// Package tool implements the binding between a logical tool number and
// the drives/heaters it controls.
package tool

import (
	"math"

	"motioncore/internal/heat"
	"motioncore/internal/platform"
	"motioncore/pkg/errors"
)

// Tool binds a tool number to an ordered list of extruder drives and an
// ordered list of heaters, plus a per-drive mix vector. The motion core
// never consults Mix; a CommandSource driving a mixing tool is responsible
// for pre-mixing extruder deltas before they reach Move.ingest (see
// platform.CommandSource's doc comment).
type Tool struct {
	Number  int
	Drives  []int
	Heaters []int
	Mix     []float64

	activeTemperatures  []float64
	standbyTemperatures []float64

	active      bool
	heaterFault bool

	platform platform.Platform
	heat     *heat.Heat

	coldExtrudeAllowed bool

	next *Tool
}

// New creates a tool bound to drives and heaters, with a uniform mix
// vector, driven by p and regulated through h.
func New(number int, drives, heaters []int, p platform.Platform, h *heat.Heat) *Tool {
	mix := make([]float64, len(drives))
	if len(drives) > 0 {
		r := 1.0 / float64(len(drives))
		for i := range mix {
			mix[i] = r
		}
	}
	active := make([]float64, len(heaters))
	standby := make([]float64, len(heaters))
	for i := range active {
		active[i] = platform.AbsZero
		standby[i] = platform.AbsZero
	}
	return &Tool{
		Number:              number,
		Drives:              drives,
		Heaters:             heaters,
		Mix:                 mix,
		activeTemperatures:  active,
		standbyTemperatures: standby,
		platform:            p,
		heat:                h,
	}
}

// List is the insertion-ordered linked list of tools, matching the
// original firmware's tool list. Number uniqueness is enforced on Add.
type List struct {
	head *Tool
}

// Add appends t to the list, rejecting a duplicate tool number.
func (l *List) Add(t *Tool) error {
	if l.head == nil {
		l.head = t
		return nil
	}
	last := l.head
	for {
		if last.Number == t.Number {
			return errors.New(errors.ErrModuleExtruder, "tool number already in use")
		}
		if last.next == nil {
			break
		}
		last = last.next
	}
	last.next = t
	return nil
}

// ByNumber finds a tool by number, or nil.
func (l *List) ByNumber(number int) *Tool {
	for t := l.head; t != nil; t = t.next {
		if t.Number == number {
			return t
		}
	}
	return nil
}

// FlagTemperatureFault disables every tool using heater, matching
// Tool::FlagTemperatureFault in the original firmware. Heat does not call
// this: it calls OnHeaterFault (platform.FaultObserver) on every registered
// observer, so each registered Tool observes independently rather than one
// list head broadcasting to the rest.
func (l *List) FlagTemperatureFault(heater int) {
	for t := l.head; t != nil; t = t.next {
		t.OnHeaterFault(heater)
	}
}

// ClearTemperatureFault re-enables tools using heater.
func (l *List) ClearTemperatureFault(heater int) {
	for t := l.head; t != nil; t = t.next {
		t.OnHeaterFaultCleared(heater)
	}
}

// OnHeaterFault implements platform.FaultObserver.
func (t *Tool) OnHeaterFault(heater int) {
	for _, h := range t.Heaters {
		if h == heater {
			t.heaterFault = true
			return
		}
	}
}

// OnHeaterFaultCleared implements platform.FaultObserver.
func (t *Tool) OnHeaterFaultCleared(heater int) {
	for _, h := range t.Heaters {
		if h == heater {
			t.heaterFault = false
			return
		}
	}
}

// MaxFeedrate is the fastest of this tool's drives' platform max feedrate.
func (t *Tool) MaxFeedrate() float64 {
	if len(t.Drives) == 0 {
		return 1.0
	}
	result := 0.0
	for _, d := range t.Drives {
		mf := t.platform.DriveLimits(d).MaxFeedrate
		if mf > result {
			result = mf
		}
	}
	return result
}

// InstantDv is the slowest (most restrictive) of this tool's drives'
// platform instant-Dv.
func (t *Tool) InstantDv() float64 {
	if len(t.Drives) == 0 {
		return 1.0
	}
	result := math.MaxFloat64
	for _, d := range t.Drives {
		idv := t.platform.DriveLimits(d).InstantDv
		if idv < result {
			result = idv
		}
	}
	return result
}

// SetVariables sets this tool's per-heater active/standby setpoints and
// pushes them into Heat immediately.
func (t *Tool) SetVariables(standby, active []float64) {
	for i, h := range t.Heaters {
		t.activeTemperatures[i] = active[i]
		t.standbyTemperatures[i] = standby[i]
		t.heat.SetActiveTemperature(h, active[i])
		t.heat.SetStandbyTemperature(h, standby[i])
	}
}

// GetVariables returns copies of this tool's active/standby setpoints.
func (t *Tool) GetVariables() (standby, active []float64) {
	standby = append([]float64(nil), t.standbyTemperatures...)
	active = append([]float64(nil), t.activeTemperatures...)
	return
}

// Activate makes t the active tool, standing the previously active tool
// (if any, and if different) down first.
func (t *Tool) Activate(currentlyActive *Tool) {
	if t.active {
		return
	}
	if currentlyActive != nil && currentlyActive != t {
		currentlyActive.Standby()
	}
	for i, h := range t.Heaters {
		t.heat.SetActiveTemperature(h, t.activeTemperatures[i])
		t.heat.SetStandbyTemperature(h, t.standbyTemperatures[i])
		t.heat.Activate(h)
	}
	t.active = true
}

// Standby drives t's heaters to their standby setpoints and marks it
// inactive.
func (t *Tool) Standby() {
	if !t.active {
		return
	}
	for i, h := range t.Heaters {
		t.heat.SetStandbyTemperature(h, t.standbyTemperatures[i])
		t.heat.Standby(h)
	}
	t.active = false
}

// Active reports whether t is the currently-selected tool.
func (t *Tool) Active() bool { return t.active }

// SetColdExtrudeAllowed controls whether ToolCanDrive permits extrusion
// below HotEnoughToExtrude.
func (t *Tool) SetColdExtrudeAllowed(allowed bool) { t.coldExtrudeAllowed = allowed }

// AllHeatersAtHighTemperature reports whether every heater bound to t is
// at or above HotEnoughToExtrude.
func (t *Tool) AllHeatersAtHighTemperature() bool {
	for _, h := range t.Heaters {
		if t.heat.GetTemperature(h) < platform.HotEnoughToExtrude {
			return false
		}
	}
	return true
}

// ToolCanDrive reports whether t may currently extrude: no latched heater
// fault, and either cold extrusion is allowed or every heater is hot
// enough.
func (t *Tool) ToolCanDrive() bool {
	if t.heaterFault {
		return false
	}
	return t.coldExtrudeAllowed || t.AllHeatersAtHighTemperature()
}

// HasFault reports whether t currently has a latched heater fault.
func (t *Tool) HasFault() bool { return t.heaterFault }
