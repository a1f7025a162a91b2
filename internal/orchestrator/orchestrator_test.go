package orchestrator

import (
	"context"
	"testing"
	"time"

	"motioncore/internal/heat"
	"motioncore/internal/move"
	"motioncore/internal/platform"
	"motioncore/internal/simplatform"
	"motioncore/internal/tool"
)

func TestRunDrivesAMoveToCompletion(t *testing.T) {
	limits := platform.DriveLimits{StepsPerUnit: 100, MaxFeedrate: 200, Acceleration: 1000, InstantDv: 5, AxisLength: 500}
	p := simplatform.New([]simplatform.DriveConfig{{Limits: limits}}, nil, 0)
	src := simplatform.NewQueueSource(1)
	src.Enqueue(simplatform.QueuedMove{Target: []float64{0.5}, FeedRate: 50})

	mv := move.New(p, src, move.Config{Drives: 1, AxisCount: 1, ZAxis: 0})
	h := heat.New(p, 0)
	tools := &tool.List{}

	orch := New(Config{Platform: p, Move: mv, Heat: h, Tools: tools})
	orch.idle = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		orch.RunISR(ctx)
		close(done)
	}()
	go orch.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("move never completed; final position = %v", p.Position(0))
		default:
		}
		if p.Position(0) == 0.5 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done
}
