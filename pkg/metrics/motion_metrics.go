// Motion-core metrics definitions.
//
// Defines the metrics surface for the motion/heater core: look-ahead
// planning, DDA stepping, heater PID, and homing. Mirrors the shape of a
// Prometheus exporter without pulling in the client library.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// MotionMetrics holds all metrics for the motion and heater core.
type MotionMetrics struct {
	// Motion metrics
	ToolheadPosition *Gauge
	StepsExecuted    *Counter
	MovePlanningTime *Histogram
	LookaheadDepth   *Gauge
	MaxAcceleration  *Gauge
	MaxVelocity      *Gauge

	// Temperature metrics
	SensorTemperature *Gauge
	HeaterTarget      *Gauge
	HeaterPWM         *Gauge
	HeaterOnTime      *Counter
	TemperatureError  *Gauge

	// Endstop metrics
	EndstopState   *Gauge
	HomingAttempts *Counter
	HomingTime     *Histogram

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Error metrics
	ErrorsTotal    *Counter
	WarningsTotal  *Counter
	ShutdownEvents *Counter

	startTime time.Time
	registry  *Registry
	mu        sync.RWMutex
}

// NewMotionMetrics creates and registers all motion-core metrics.
func NewMotionMetrics() *MotionMetrics {
	mm := &MotionMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	mm.ToolheadPosition = NewGauge("motioncore_toolhead_position_mm",
		"Current toolhead position in millimeters")
	mm.StepsExecuted = NewCounter("motioncore_steps_executed_total",
		"Total steps executed per drive")
	mm.MovePlanningTime = NewHistogram("motioncore_move_planning_seconds",
		"Time spent running the look-ahead passes", DefaultBuckets())
	mm.LookaheadDepth = NewGauge("motioncore_lookahead_queue_depth",
		"Number of entries currently in the look-ahead ring")
	mm.MaxAcceleration = NewGauge("motioncore_max_acceleration_mm_s2",
		"Configured maximum acceleration")
	mm.MaxVelocity = NewGauge("motioncore_max_velocity_mm_s",
		"Configured maximum velocity")

	mm.SensorTemperature = NewGauge("motioncore_sensor_temperature_celsius",
		"Current temperature reading from sensor")
	mm.HeaterTarget = NewGauge("motioncore_heater_target_celsius",
		"Target temperature for heater")
	mm.HeaterPWM = NewGauge("motioncore_heater_pwm",
		"Current PWM value for heater (0-1)")
	mm.HeaterOnTime = NewCounter("motioncore_heater_on_time_seconds_total",
		"Total time heater has been commanded on")
	mm.TemperatureError = NewGauge("motioncore_temperature_error_celsius",
		"Difference between target and current temperature")

	mm.EndstopState = NewGauge("motioncore_endstop_triggered",
		"Endstop trigger state (1=triggered, 0=open)")
	mm.HomingAttempts = NewCounter("motioncore_homing_attempts_total",
		"Total homing attempts per axis")
	mm.HomingTime = NewHistogram("motioncore_homing_time_seconds",
		"Time to complete homing", []float64{0.5, 1, 2, 5, 10, 30})

	mm.HostUptime = NewCounter("motioncore_host_uptime_seconds_total",
		"Total host uptime in seconds")
	mm.GoGoroutines = NewGauge("motioncore_go_goroutines",
		"Number of active goroutines")
	mm.GoMemoryHeap = NewGauge("motioncore_go_memory_heap_bytes",
		"Go heap memory in use")
	mm.GoMemoryAlloc = NewGauge("motioncore_go_memory_alloc_bytes",
		"Go total memory allocated")
	mm.GoGCCycles = NewCounter("motioncore_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	mm.ErrorsTotal = NewCounter("motioncore_errors_total",
		"Total errors by type")
	mm.WarningsTotal = NewCounter("motioncore_warnings_total",
		"Total warnings by type")
	mm.ShutdownEvents = NewCounter("motioncore_shutdown_events_total",
		"Total emergency-stop/shutdown events")

	mm.registerAll()

	return mm
}

func (mm *MotionMetrics) registerAll() {
	all := []Metric{
		mm.ToolheadPosition, mm.StepsExecuted, mm.MovePlanningTime,
		mm.LookaheadDepth, mm.MaxAcceleration, mm.MaxVelocity,
		mm.SensorTemperature, mm.HeaterTarget, mm.HeaterPWM,
		mm.HeaterOnTime, mm.TemperatureError,
		mm.EndstopState, mm.HomingAttempts, mm.HomingTime,
		mm.HostUptime, mm.GoGoroutines, mm.GoMemoryHeap, mm.GoMemoryAlloc, mm.GoGCCycles,
		mm.ErrorsTotal, mm.WarningsTotal, mm.ShutdownEvents,
	}
	for _, m := range all {
		mm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics refreshes the Go-runtime gauges.
func (mm *MotionMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	mm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	mm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	mm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	mm.GoGCCycles.Add(nil, uint64(m.NumGC)-mm.GoGCCycles.Get(nil))
	mm.HostUptime.Add(nil, uint64(time.Since(mm.startTime).Seconds())-mm.HostUptime.Get(nil))
}

// SetToolheadPosition updates the toolhead position gauge for every axis.
func (mm *MotionMetrics) SetToolheadPosition(names []string, coords []float64) {
	for i, name := range names {
		mm.ToolheadPosition.Set(Labels{"axis": name}, coords[i])
	}
}

// SetHeaterStatus updates the heater-related gauges for a single heater.
func (mm *MotionMetrics) SetHeaterStatus(name string, current, target, pwm float64) {
	mm.SensorTemperature.Set(Labels{"sensor": name}, current)
	mm.HeaterTarget.Set(Labels{"heater": name}, target)
	mm.HeaterPWM.Set(Labels{"heater": name}, pwm)
	mm.TemperatureError.Set(Labels{"heater": name}, target-current)
}

// RecordHoming records the outcome of a homing attempt on one axis.
func (mm *MotionMetrics) RecordHoming(axis string, elapsed time.Duration) {
	mm.HomingAttempts.Inc(Labels{"axis": axis})
	mm.HomingTime.Observe(Labels{"axis": axis}, elapsed.Seconds())
}

// RecordMovePlanning records the wall time of one look-ahead planning pass.
func (mm *MotionMetrics) RecordMovePlanning(elapsed time.Duration) {
	mm.MovePlanningTime.Observe(nil, elapsed.Seconds())
}

// RecordError records an error by type.
func (mm *MotionMetrics) RecordError(errorType string) {
	mm.ErrorsTotal.Inc(Labels{"type": errorType})
}

// RecordWarning records a warning by type.
func (mm *MotionMetrics) RecordWarning(warningType string) {
	mm.WarningsTotal.Inc(Labels{"type": warningType})
}

// RecordShutdown records an emergency-stop or fault shutdown.
func (mm *MotionMetrics) RecordShutdown(reason string) {
	mm.ShutdownEvents.Inc(Labels{"reason": reason})
}

// Gather returns all metrics in Prometheus text format.
func (mm *MotionMetrics) Gather() string {
	mm.UpdateSystemMetrics()
	return mm.registry.Gather()
}

// Registry returns the internal registry.
func (mm *MotionMetrics) Registry() *Registry {
	return mm.registry
}

var globalMetrics *MotionMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global motion-core metrics instance.
func GlobalMetrics() *MotionMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewMotionMetrics()
	})
	return globalMetrics
}
