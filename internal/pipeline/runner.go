// Package pipeline runs the sequential per-date ingestion loop: locate the issue, fetch each
// artifact, render PDFs, store page images and move the checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/clock/system"
	"github.com/JakeFAU/hk-epaper-ingest/internal/dates"
	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
	"github.com/JakeFAU/hk-epaper-ingest/internal/locator"
	"github.com/JakeFAU/hk-epaper-ingest/internal/metrics"
	"github.com/JakeFAU/hk-epaper-ingest/internal/missing"
	"github.com/JakeFAU/hk-epaper-ingest/internal/progress"
	"github.com/JakeFAU/hk-epaper-ingest/internal/sink"
)

// Hasher digests stored page images for progress events.
type Hasher interface {
	Hash(data []byte) string
}

// Deps are the collaborators a Runner drives. Checkpoint may be nil when the run neither
// resumes from nor writes a checkpoint.
type Deps struct {
	Locator    locator.Locator
	Fetcher    epaper.Fetcher
	Renderer   epaper.Renderer
	Sink       *sink.Sink
	Checkpoint epaper.Checkpointer
	Missing    epaper.MissingLog
	Progress   progress.Emitter
	Clock      epaper.Clock
	Pauser     epaper.Pauser
	Hasher     Hasher
	RunID      uuid.UUID
	Logger     *zap.Logger
}

// Runner executes one run over a date range.
type Runner struct {
	cfg        epaper.RunConfig
	locator    locator.Locator
	fetcher    epaper.Fetcher
	renderer   epaper.Renderer
	sink       *sink.Sink
	checkpoint epaper.Checkpointer
	missing    epaper.MissingLog
	events     progress.Emitter
	clock      epaper.Clock
	pauser     epaper.Pauser
	hasher     Hasher
	runID      [16]byte
	logger     *zap.Logger
}

// Summary totals a run.
type Summary struct {
	RunID   uuid.UUID
	Dates   int
	OK      int
	Skipped int
	Partial int

	PagesStored  int
	PagesSkipped int
	PagesFailed  int

	// Halted is set when a PARTIAL date stopped the run under the halt policy.
	Halted   bool
	HaltedAt time.Time
	// Checkpoint is the last date saved during this run, zero when none was.
	Checkpoint time.Time
}

func (s *Summary) add(res DateResult) {
	s.Dates++
	switch res.Outcome {
	case epaper.OutcomeOK:
		s.OK++
	case epaper.OutcomeSkipped:
		s.Skipped++
	case epaper.OutcomePartial:
		s.Partial++
	}
	s.PagesStored += res.Stored
	s.PagesSkipped += res.Skipped
	s.PagesFailed += res.Failed
}

// New validates cfg and deps and builds a Runner.
func New(cfg epaper.RunConfig, deps Deps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	switch {
	case deps.Locator == nil:
		return nil, errors.New("pipeline requires a locator")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline requires a fetcher")
	case deps.Sink == nil:
		return nil, errors.New("pipeline requires a sink")
	case deps.Renderer == nil && usesPDF(cfg.Publisher):
		return nil, errors.New("pipeline requires a renderer for pdf artifacts")
	}
	metrics.Init()
	r := &Runner{
		cfg:        cfg,
		locator:    deps.Locator,
		fetcher:    deps.Fetcher,
		renderer:   deps.Renderer,
		sink:       deps.Sink,
		checkpoint: deps.Checkpoint,
		missing:    deps.Missing,
		events:     deps.Progress,
		clock:      deps.Clock,
		pauser:     deps.Pauser,
		hasher:     deps.Hasher,
		logger:     deps.Logger,
	}
	if r.missing == nil {
		r.missing = missing.Discard{}
	}
	if r.events == nil {
		r.events = progress.Nop{}
	}
	if r.clock == nil {
		r.clock = system.New(nil)
	}
	if r.pauser == nil {
		r.pauser = TimerPauser{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	runID := deps.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	r.runID = progress.UUIDToBytes(runID)
	r.logger = r.logger.With(zap.String("publisher", cfg.Publisher.Name), zap.String("run_id", runID.String()))
	return r, nil
}

// Run processes every date from the resolved start through the configured end.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.UUID(r.runID)}
	started := r.clock.Now()
	today := dates.Day(started)

	if err := os.MkdirAll(r.cfg.TempDir, 0o750); err != nil {
		return summary, fmt.Errorf("create temp dir: %w", err)
	}

	start := r.resolveStart()
	weekdaysOnly := r.cfg.WeekdaysOnly || r.cfg.Publisher.WeekdaysOnly
	todo := dates.Range(start, r.cfg.End, today, weekdaysOnly)

	if r.cfg.ResumeMode == epaper.ResumeProbe && !r.hasCheckpoint() && len(todo) > 0 {
		idx, err := dates.ProbeResume(ctx, todo, r.firstPageStored)
		if err != nil {
			r.logger.Warn("probe resume failed; starting from configured start", zap.Error(err))
		} else {
			r.logger.Info("probe resume", zap.Int("already_stored", idx))
			todo = todo[idx:]
		}
	}

	if len(todo) == 0 {
		r.logger.Info("nothing to do", zap.String("start", start.Format(time.DateOnly)))
		r.emit(progress.Event{Stage: progress.StageRunStart, Publisher: r.cfg.Publisher.Name})
		r.emit(progress.Event{Stage: progress.StageRunDone, Publisher: r.cfg.Publisher.Name})
		return summary, nil
	}

	r.logger.Info("run starting",
		zap.String("first", todo[0].Format(time.DateOnly)),
		zap.String("last", todo[len(todo)-1].Format(time.DateOnly)),
		zap.Int("dates", len(todo)),
		zap.Bool("dry_run", r.cfg.DryRun),
	)
	r.emit(progress.Event{Stage: progress.StageRunStart, Publisher: r.cfg.Publisher.Name, Note: fmt.Sprintf("%d dates", len(todo))})

	for i, date := range todo {
		if i > 0 {
			if r.cfg.BatchPauseEvery > 0 && i%r.cfg.BatchPauseEvery == 0 {
				r.logger.Debug("batch pause", zap.Int("dates_done", i))
				r.pause(ctx, pauseBatch, r.cfg.BatchPause)
			} else {
				r.pause(ctx, pauseDate, r.cfg.DateDelay)
			}
		}
		if err := ctx.Err(); err != nil {
			return r.fail(summary, started, err)
		}

		dateStart := r.clock.Now()
		res, err := r.processDate(ctx, date)
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(summary, started, ctx.Err())
			}
			if r.cfg.AbortOnError {
				summary.add(res)
				return r.fail(summary, started, fmt.Errorf("process %s: %w", date.Format(time.DateOnly), err))
			}
			r.logger.Error("date failed", zap.String("date", date.Format(time.DateOnly)), zap.Error(err))
			res.Outcome = epaper.OutcomePartial
		}
		summary.add(res)
		r.emit(progress.Event{
			Stage:     progress.StageDateDone,
			Publisher: r.cfg.Publisher.Name,
			Date:      date,
			Outcome:   string(res.Outcome),
			Stored:    res.Stored,
			Skipped:   res.Skipped,
			Failed:    res.Failed,
			Dur:       r.clock.Now().Sub(dateStart),
		})

		if res.Outcome.Advances() && !r.cfg.DryRun && r.checkpoint != nil {
			if err := r.checkpoint.Save(date); err != nil {
				return r.fail(summary, started, fmt.Errorf("save checkpoint: %w", err))
			}
			summary.Checkpoint = date
		}
		if res.Outcome == epaper.OutcomePartial && r.cfg.PartialPolicy == epaper.PartialHalt {
			r.logger.Warn("halting after partial date",
				zap.String("date", date.Format(time.DateOnly)),
				zap.Bool("rate_limited", res.RateLimited),
			)
			summary.Halted = true
			summary.HaltedAt = date
			break
		}
	}

	r.logger.Info("run finished",
		zap.Int("dates", summary.Dates),
		zap.Int("ok", summary.OK),
		zap.Int("skipped", summary.Skipped),
		zap.Int("partial", summary.Partial),
		zap.Int("pages_stored", summary.PagesStored),
		zap.Int("pages_failed", summary.PagesFailed),
	)
	r.emit(progress.Event{
		Stage:     progress.StageRunDone,
		Publisher: r.cfg.Publisher.Name,
		Stored:    summary.PagesStored,
		Skipped:   summary.PagesSkipped,
		Failed:    summary.PagesFailed,
		Dur:       r.clock.Now().Sub(started),
	})
	return summary, nil
}

func (r *Runner) fail(summary Summary, started time.Time, err error) (Summary, error) {
	r.logger.Error("run aborted", zap.Error(err))
	r.emit(progress.Event{
		Stage:     progress.StageRunError,
		Publisher: r.cfg.Publisher.Name,
		Stored:    summary.PagesStored,
		Failed:    summary.PagesFailed,
		Dur:       r.clock.Now().Sub(started),
		Note:      err.Error(),
	})
	return summary, err
}

// resolveStart applies checkpoint resume. A malformed checkpoint is logged and ignored.
func (r *Runner) resolveStart() time.Time {
	if r.cfg.ResumeMode == epaper.ResumeNone || r.checkpoint == nil {
		return dates.Day(r.cfg.Start)
	}
	next, ok, err := r.checkpoint.Load()
	if err != nil {
		r.logger.Warn("ignoring unreadable checkpoint", zap.Error(err))
		return dates.Day(r.cfg.Start)
	}
	start := dates.ResumeFrom(r.cfg.Start, next, ok)
	if ok {
		r.logger.Info("resuming from checkpoint", zap.String("next", start.Format(time.DateOnly)))
	}
	return start
}

func (r *Runner) hasCheckpoint() bool {
	if r.checkpoint == nil {
		return false
	}
	_, ok, err := r.checkpoint.Load()
	return err == nil && ok
}

func (r *Runner) firstPageStored(ctx context.Context, date time.Time) (bool, error) {
	return r.sink.Exists(ctx, r.pageKey(date, 1))
}

func (r *Runner) pageKey(date time.Time, page int) epaper.PageKey {
	return epaper.PageKey{
		Publisher: r.cfg.Publisher.Name,
		Date:      date,
		Page:      page,
		Ext:       r.cfg.Publisher.Ext,
	}
}

func (r *Runner) emit(evt progress.Event) {
	evt.RunID = r.runID
	evt.TS = r.clock.Now().UTC()
	r.events.Emit(evt)
}

func usesPDF(p epaper.Profile) bool {
	if p.Strategy == epaper.StrategyIndex {
		return true
	}
	for _, f := range p.Formats {
		if f.Kind == epaper.ArtifactPDF {
			return true
		}
	}
	return false
}
