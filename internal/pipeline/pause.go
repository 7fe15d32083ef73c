package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/hk-epaper-ingest/internal/metrics"
)

// Pause kinds reported to metrics.
const (
	pausePage  = "page"
	pauseDate  = "date"
	pauseBatch = "batch"
)

// TimerPauser sleeps for the requested delay unless ctx ends first.
type TimerPauser struct{}

// Pause implements epaper.Pauser.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (r *Runner) pause(ctx context.Context, kind string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	r.pauser.Pause(ctx, delay)
	metrics.ObservePause(kind, delay)
}
