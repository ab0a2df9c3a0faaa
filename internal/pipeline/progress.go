package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caseprobe/discovery-cli/internal/store"
)

// progressReporter throttles run progress writes. Reporting is
// fire-and-forget: a failed write is logged and the walk continues.
type progressReporter struct {
	store    store.Store
	runID    string
	throttle rate.Sometimes
}

func newProgressReporter(st store.Store, runID string, intervalSecs, every int) *progressReporter {
	if intervalSecs <= 0 {
		intervalSecs = 5
	}
	if every <= 0 {
		every = 500
	}
	return &progressReporter{
		store: st,
		runID: runID,
		throttle: rate.Sometimes{
			First:    1,
			Every:    every,
			Interval: time.Duration(intervalSecs) * time.Second,
		},
	}
}

// report records progress if the throttle allows it.
func (p *progressReporter) report(ctx context.Context, phase string, processed int) {
	p.throttle.Do(func() {
		p.write(ctx, phase, processed)
	})
}

// force records progress unconditionally, used at phase boundaries.
func (p *progressReporter) force(ctx context.Context, phase string, processed int) {
	p.write(ctx, phase, processed)
}

func (p *progressReporter) write(ctx context.Context, phase string, processed int) {
	if err := p.store.ReportProgress(ctx, p.runID, phase, processed); err != nil {
		zap.L().Warn("pipeline: progress write failed",
			zap.String("phase", phase),
			zap.Int("processed", processed),
			zap.Error(err))
	}
}
