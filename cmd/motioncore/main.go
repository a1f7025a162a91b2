// motioncore runs the motion-planning and heater-regulation core against
// an in-memory simulated platform: no real GPIO, MCU, or G-code front end
// is wired in. It exists to exercise the orchestrator end to end and to
// serve telemetry and metrics over HTTP for inspection.
//
// Usage:
//
//	motioncore -config printer.cfg [options]
//
// Options:
//
//	-config string         Printer configuration file (required)
//	-telemetry string      Telemetry WebSocket server address (default ":7126")
//	-metrics string        Prometheus-style metrics server address (default ":9100")
//	-logfile string        Log file path (default: stderr)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"motioncore/internal/heat"
	"motioncore/internal/move"
	"motioncore/internal/orchestrator"
	"motioncore/internal/platform"
	"motioncore/internal/simplatform"
	"motioncore/internal/telemetry"
	"motioncore/internal/tool"
	"motioncore/internal/transform"
	"motioncore/pkg/config"
	"motioncore/pkg/log"
	"motioncore/pkg/metrics"
)

// axisNames labels the axes motioncore knows how to report over telemetry,
// by drive index order. Axes beyond len(axisNames) are reported under a
// generic "axisN" label; extruders are not reported, since
// Move.LiveCoordinates covers axes only.
var axisNames = []string{"x", "y", "z"}

// statusSource adapts Move/Heat into a telemetry.Source. It holds no state
// of its own; every Snapshot call reads straight through to the live
// planner and heater subsystems.
type statusSource struct {
	p  platform.Platform
	mv *move.Move
	h  *heat.Heat
}

func (s *statusSource) Snapshot() telemetry.Snapshot {
	coords := s.mv.LiveCoordinates()
	axes := make(map[string]float64, len(coords))
	for i, v := range coords {
		axes[axisLabel(i)] = v
	}

	heaters := make([]telemetry.HeaterStatus, s.h.HeaterCount())
	for i := range heaters {
		heaters[i] = telemetry.HeaterStatus{
			Index:   i,
			Current: s.h.GetTemperature(i),
			Target:  s.h.GetSetpoint(i),
			PWM:     s.h.GetPWM(i),
			Fault:   s.h.FaultLatched(i),
		}
	}

	faulted := false
	for i := range heaters {
		if heaters[i].Fault {
			faulted = true
			break
		}
	}

	return telemetry.Snapshot{EventTime: s.p.Time(), Axes: axes, Heaters: heaters, Faulted: faulted}
}

func axisLabel(i int) string {
	if i < len(axisNames) {
		return axisNames[i]
	}
	return fmt.Sprintf("axis%d", i)
}

func main() {
	configFile := flag.String("config", "", "Printer configuration file (required)")
	telemetryAddr := flag.String("telemetry", ":7126", "Telemetry WebSocket server address")
	metricsAddr := flag.String("metrics", ":9100", "Metrics server address")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New("motioncore")
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.SetWriter(f)
	}

	logger.Info("========================================")
	logger.Info("motioncore starting")
	logger.Info("========================================")

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.WithError(err).Error("failed to load config")
		os.Exit(1)
	}

	drives, axisCount, zAxis, err := loadDrives(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to load drive configuration")
		os.Exit(1)
	}
	heaters, err := loadHeaters(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to load heater configuration")
		os.Exit(1)
	}
	zProbeStopHeight := loadZProbe(cfg)

	plat := simplatform.New(drives, heaters, zProbeStopHeight)
	src := simplatform.NewQueueSource(len(drives))

	mv := move.New(plat, src, move.Config{
		Drives:    len(drives),
		AxisCount: axisCount,
		ZAxis:     zAxis,
		Axis:      transform.Axis{},
		Bed:       transform.Identity{},
		Metrics:   metrics.GlobalMetrics(),
	})
	h := heat.New(plat, len(heaters))
	tools := &tool.List{}

	orch := orchestrator.New(orchestrator.Config{
		Platform: plat,
		Move:     mv,
		Heat:     h,
		Tools:    tools,
		Metrics:  metrics.GlobalMetrics(),
	})

	metricsSrv := metrics.NewMetricsServer(metrics.GlobalMetrics(), *metricsAddr)
	go func() {
		// Start blocks until the server stops.
		if err := metricsSrv.Start(); err != nil {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(ctx)
	}()

	logger.WithField("addr", *metricsAddr).Info("metrics server listening")

	telemetrySrv := telemetry.New(telemetry.Config{
		Addr:   *telemetryAddr,
		Source: &statusSource{p: plat, mv: mv, h: h},
	})
	if err := telemetrySrv.Start(); err != nil {
		logger.WithError(err).Error("failed to start telemetry server")
		os.Exit(1)
	}
	defer telemetrySrv.Stop()
	logger.WithField("addr", *telemetryAddr).Info("telemetry server listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go orch.Run(ctx)
	go orch.RunISR(ctx)

	logger.Info("========================================")
	logger.Info("motioncore ready")
	logger.Info("press Ctrl+C to stop")
	logger.Info("========================================")

	<-sigCh
	logger.Info("shutting down")
	cancel()
}

// loadDrives reads one [drive N] section per configured drive, in
// ascending N order, and returns the drives plus the axis count and the Z
// axis index (the last axis drive; drives past axisCount are extruders).
func loadDrives(cfg *config.Config) ([]simplatform.DriveConfig, int, int, error) {
	printerSection, err := cfg.GetSection("printer")
	if err != nil {
		return nil, 0, 0, err
	}
	axisCount, err := printerSection.GetInt("axis_count", 3)
	if err != nil {
		return nil, 0, 0, err
	}

	sections := cfg.GetPrefixSections("drive ")
	drives := make([]simplatform.DriveConfig, len(sections))
	for i := range sections {
		s, err := cfg.GetSection(fmt.Sprintf("drive %d", i))
		if err != nil {
			return nil, 0, 0, err
		}
		stepsPerUnit, err := s.GetFloat("steps_per_unit")
		if err != nil {
			return nil, 0, 0, err
		}
		maxFeedrate, err := s.GetFloat("max_feedrate")
		if err != nil {
			return nil, 0, 0, err
		}
		accel, err := s.GetFloat("acceleration")
		if err != nil {
			return nil, 0, 0, err
		}
		instantDv, _ := s.GetFloat("instant_dv", 2.0)
		axisLength, _ := s.GetFloat("axis_length", 0.0)
		homeFeedrate, _ := s.GetFloat("home_feedrate", maxFeedrate/10)
		lowLimit, hasLow := 0.0, false
		if s.HasOption("low_limit") {
			lowLimit, _ = s.GetFloat("low_limit")
			hasLow = true
		}
		highLimit, hasHigh := 0.0, false
		if s.HasOption("high_limit") {
			highLimit, _ = s.GetFloat("high_limit")
			hasHigh = true
		}

		drives[i] = simplatform.DriveConfig{
			Limits: platform.DriveLimits{
				StepsPerUnit: stepsPerUnit,
				MaxFeedrate:  maxFeedrate,
				Acceleration: accel,
				InstantDv:    instantDv,
				AxisLength:   axisLength,
				HomeFeedrate: homeFeedrate,
			},
			LowLimit:  lowLimit,
			HighLimit: highLimit,
			HasLow:    hasLow,
			HasHigh:   hasHigh,
		}
	}

	zAxis := axisCount - 1
	return drives, axisCount, zAxis, nil
}

// loadHeaters reads one [heater N] section per configured heater, in
// ascending N order.
func loadHeaters(cfg *config.Config) ([]simplatform.HeaterConfig, error) {
	sections := cfg.GetPrefixSections("heater ")
	heaters := make([]simplatform.HeaterConfig, len(sections))
	for i := range sections {
		s, err := cfg.GetSection(fmt.Sprintf("heater %d", i))
		if err != nil {
			return nil, err
		}
		kp, _ := s.GetFloat("kp", 0)
		ki, _ := s.GetFloat("ki", 0)
		kd, _ := s.GetFloat("kd", 0)
		fullBand, _ := s.GetFloat("full_band", 5.0)
		iMin, _ := s.GetFloat("i_min", -255)
		iMax, _ := s.GetFloat("i_max", 255)
		dMix, _ := s.GetFloat("d_mix", 1.0)
		usePID, _ := s.GetBool("use_pid", true)
		ambient, _ := s.GetFloat("ambient", 20.0)
		gain, _ := s.GetFloat("gain", 4.0)
		loss, _ := s.GetFloat("loss", 0.02)

		heaters[i] = simplatform.HeaterConfig{
			Limits: platform.HeaterLimits{
				Kp:       kp,
				Ki:       ki,
				Kd:       kd,
				FullBand: fullBand,
				IMin:     iMin,
				IMax:     iMax,
				DMix:     dMix,
				UsePID:   usePID,
			},
			Ambient: ambient,
			Gain:    gain,
			Loss:    loss,
		}
	}
	return heaters, nil
}

// loadZProbe reads the optional [probe] section's stop height.
func loadZProbe(cfg *config.Config) float64 {
	s := cfg.GetSectionOptional("probe")
	if s == nil {
		return 0
	}
	height, _ := s.GetFloat("stop_height", 0.7)
	return height
}
