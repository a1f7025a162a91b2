// Package platform defines the contract between the motion/heater core and
// the hardware it drives. Nothing in this package talks to real pins or
// ADCs; it only states what a concrete implementation must provide.
package platform

// StopState is the result of polling a drive's endstop.
type StopState int

const (
	NoStop StopState = iota
	LowHit
	HighHit
)

func (s StopState) String() string {
	switch s {
	case LowHit:
		return "low_hit"
	case HighHit:
		return "high_hit"
	default:
		return "no_stop"
	}
}

// DriveLimits holds the platform-supplied constants for one drive (axis or
// extruder). StepsPerUnit, MaxFeedrate, Acceleration and InstantDv are used
// directly by the look-ahead envelope math in internal/move. AxisLength and
// HomeFeedrate only apply to linear axes.
type DriveLimits struct {
	StepsPerUnit float64
	MaxFeedrate  float64
	Acceleration float64
	InstantDv    float64
	AxisLength   float64
	HomeFeedrate float64
}

// HeaterLimits holds the platform-supplied PID tuning for one heater.
type HeaterLimits struct {
	Kp, Ki, Kd float64
	FullBand   float64
	IMin, IMax float64
	DMix       float64 // derivative low-pass mix, in [0,1]
	UsePID     bool    // false selects bang-bang control
}

// Platform is the hardware abstraction the motion/heater core drives. A
// real implementation talks to GPIO/timers/ADCs; internal/simplatform
// provides an in-memory stand-in for tests and demos.
type Platform interface {
	// Time returns the current monotonic time in seconds.
	Time() float64

	// SetInterrupt reprograms the one-shot stepping timer to fire in the
	// given number of seconds from now.
	SetInterrupt(seconds float64)

	// Step emits one step pulse on the given drive.
	Step(drive int)

	// SetDirection sets the direction pin for the given drive.
	SetDirection(drive int, forward bool)

	// Disable de-energizes the given drive.
	Disable(drive int)

	// Stopped polls the endstop associated with the given drive.
	Stopped(drive int) StopState

	// GetTemperature returns the current temperature reading, in degrees
	// Celsius, for the given heater.
	GetTemperature(heater int) float64

	// SetHeater publishes a PWM duty cycle in [0,1] for the given heater.
	SetHeater(heater int, pwm float64)

	// DriveLimits returns the platform-supplied scalars for a drive.
	DriveLimits(drive int) DriveLimits

	// HeaterLimits returns the platform-supplied PID tuning for a heater.
	HeaterLimits(heater int) HeaterLimits

	// UsePID reports whether the given heater is configured for PID
	// control rather than bang-bang.
	UsePID(heater int) bool

	// ZProbe returns the raw Z-probe reading (implementation-defined
	// units; 0 means untriggered for the purposes of this core).
	ZProbe() int

	// ZProbeStopHeight returns the machine Z height, in mm, at which the
	// probe is considered to have triggered.
	ZProbeStopHeight() float64
}

// CommandSource supplies moves to internal/move. Extruder entries in the
// target vector passed to ReadMove are always relative deltas for this
// move, never absolute positions: a command source that tracks an absolute
// extruder position internally must subtract the previous absolute position
// before calling ReadMove again. Move.ingest treats every extruder slot as
// a delta and has no way to detect (and will not attempt to detect) an
// absolute endpoint passed by mistake.
//
// Mixing: a Tool carries a mix vector (internal/tool), but the motion core
// never consults it. A CommandSource that drives a mixing tool is
// responsible for pre-mixing extruder deltas into the target vector before
// calling ReadMove; Tool.Mix remains queryable metadata only.
type CommandSource interface {
	// ReadMove fills target[0:D] (absolute machine-frame mm for axes,
	// relative mm delta for extruders) and target[D] (requested feedrate,
	// mm/s), and reports whether endstops should be polled while this
	// move executes. It returns false if no move is currently available.
	ReadMove(target []float64) (checkEndStops bool, ok bool)

	// HaveIncomingData reports whether more moves are likely to follow
	// the one just read, used by the planner to decide whether the
	// current tail move should be planned as isolated (decelerating to
	// a safe stop).
	HaveIncomingData() bool
}

// FaultObserver is notified when a heater's temperature fault latches or
// clears. internal/tool.Tool satisfies this interface.
type FaultObserver interface {
	OnHeaterFault(heater int)
	OnHeaterFaultCleared(heater int)
}

// Constants exposed as configuration, per the governing specification.
const (
	DDARingLength          = 5
	LookAheadRingLength    = 30
	LookAhead              = 20
	NumberOfProbePoints    = 5
	MaxBadTemperatureCount = 6
	BadLowTemperature      = -10.0
	BadHighTemperature     = 300.0
	TemperatureCloseEnough = 3.0
	TemperatureLowSoDontCare = 40.0
	HotEnoughToExtrude     = 170.0
	HeatSampleTime         = 0.5
	StandbyInterruptRate   = 2e-4
	Triangle0              = -0.001
	AbsZero                = -273.15
)
