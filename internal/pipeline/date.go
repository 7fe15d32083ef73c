package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
	"github.com/JakeFAU/hk-epaper-ingest/internal/locator"
	"github.com/JakeFAU/hk-epaper-ingest/internal/progress"
)

// DateResult is the outcome of one date.
type DateResult struct {
	Date    time.Time
	Outcome epaper.Outcome
	Stored  int
	Skipped int
	Failed  int
	// RateLimited is set when a 429 stopped the date early.
	RateLimited bool
}

// processDate walks one issue. Page failures are recorded and counted; the returned error is
// reserved for conditions that should end the run, such as cancellation.
func (r *Runner) processDate(ctx context.Context, date time.Time) (DateResult, error) {
	res := DateResult{Date: date, Outcome: epaper.OutcomePending}
	log := r.logger.With(zap.String("date", date.Format(time.DateOnly)))
	r.emit(progress.Event{Stage: progress.StageDateStart, Publisher: r.cfg.Publisher.Name, Date: date})

	located := r.locator.Locate(ctx, date)
	switch located.Status {
	case locator.StatusNotFound:
		log.Info("no issue published")
		res.Outcome = epaper.OutcomeSkipped
		return res, nil
	case locator.StatusFailed:
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.RateLimited = errors.Is(located.Err, epaper.ErrRateLimited)
		log.Warn("issue lookup failed", zap.Error(located.Err), zap.Bool("rate_limited", res.RateLimited))
		res.Outcome = epaper.OutcomePartial
		return res, nil
	}
	if len(located.Artifacts) == 0 {
		res.Outcome = epaper.OutcomeSkipped
		return res, nil
	}

	if r.cfg.DryRun {
		r.logDryRun(log, located)
		res.Outcome = epaper.OutcomeOK
		return res, nil
	}

	fetched := false
	for _, art := range located.Artifacts {
		stop, err := r.processArtifact(ctx, log, date, art, &fetched, &res)
		if err != nil {
			res.Outcome = epaper.OutcomePartial
			return res, err
		}
		if stop {
			break
		}
	}

	switch {
	case res.Failed > 0 || res.RateLimited:
		res.Outcome = epaper.OutcomePartial
	case res.Stored+res.Skipped == 0:
		res.Outcome = epaper.OutcomeSkipped
	default:
		res.Outcome = epaper.OutcomeOK
	}
	log.Info("date processed",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("stored", res.Stored),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (r *Runner) logDryRun(log *zap.Logger, located locator.Result) {
	if located.Artifacts[0].Probe {
		log.Info("dry run: would probe issue",
			zap.String("format", located.Format),
			zap.String("first_url", located.Artifacts[0].URL),
			zap.Int("max_pages", len(located.Artifacts)),
		)
		return
	}
	for _, art := range located.Artifacts {
		log.Info("dry run: would fetch",
			zap.String("url", art.URL),
			zap.Int("first_page", art.FirstPage),
			zap.Int("pages", art.ExpectedPages),
		)
	}
}

// processArtifact fills the artifact's page slots. stop ends the date's artifact loop; err ends
// the run.
func (r *Runner) processArtifact(
	ctx context.Context,
	log *zap.Logger,
	date time.Time,
	art epaper.Artifact,
	fetched *bool,
	res *DateResult,
) (bool, error) {
	pending := make(map[int]bool)
	var order []int
	for _, page := range art.Pages() {
		key := r.pageKey(date, page)
		exists, err := r.sink.Exists(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			log.Warn("existence check failed; fetching anyway", zap.Int("page", page), zap.Error(err))
		}
		if exists {
			res.Skipped++
			r.emit(progress.Event{
				Stage:     progress.StagePageSkipped,
				Publisher: r.cfg.Publisher.Name,
				Date:      date,
				Page:      page,
				Key:       r.sink.Key(key),
			})
			continue
		}
		pending[page] = true
		order = append(order, page)
	}
	if len(order) == 0 {
		return false, nil
	}

	if *fetched {
		r.pause(ctx, pausePage, r.cfg.PageDelay)
	}
	*fetched = true

	path, cleanup, err := r.tempFile(art)
	if err != nil {
		return true, err
	}
	defer cleanup()

	if _, err := r.fetcher.Download(ctx, art.URL, path); err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		kind := epaper.Classify(err)
		if art.Probe && (kind == epaper.FailureNotFound || kind == epaper.FailureForbidden) {
			log.Info("end of issue", zap.Int("page", art.FirstPage), zap.String("url", art.URL))
			return true, nil
		}
		for _, page := range order {
			r.recordFailure(ctx, date, art.URL, page, err)
		}
		res.Failed += len(order)
		if kind == epaper.FailureRateLimited {
			log.Warn("rate limited; abandoning date", zap.String("url", art.URL))
			res.RateLimited = true
			return true, nil
		}
		log.Warn("download failed", zap.String("url", art.URL), zap.String("kind", string(kind)), zap.Error(err))
		return art.Probe, nil
	}

	if art.Kind == epaper.ArtifactImage {
		data, err := os.ReadFile(path)
		if err != nil {
			return true, fmt.Errorf("read downloaded image: %w", err)
		}
		r.storePage(ctx, log, date, art.URL, order[0], data, res)
		for _, page := range order[1:] {
			r.recordFailure(ctx, date, art.URL, page, fmt.Errorf("%w: image artifact yields one page", epaper.ErrRender))
			res.Failed++
		}
		return false, nil
	}

	images, err := r.renderer.Render(ctx, path, art.ExpectedPages)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		log.Warn("render failed", zap.String("url", art.URL), zap.Error(err))
		for _, page := range order {
			r.recordFailure(ctx, date, art.URL, page, err)
		}
		res.Failed += len(order)
		return false, nil
	}
	for _, img := range images {
		page := art.FirstPage + img.Page - 1
		if !pending[page] {
			continue
		}
		delete(pending, page)
		if img.Err != nil {
			log.Warn("page render failed", zap.Int("page", page), zap.Error(img.Err))
			r.recordFailure(ctx, date, art.URL, page, img.Err)
			res.Failed++
			continue
		}
		r.storePage(ctx, log, date, art.URL, page, img.Data, res)
	}
	for _, page := range order {
		if pending[page] {
			r.recordFailure(ctx, date, art.URL, page, fmt.Errorf("%w: artifact has fewer pages than expected", epaper.ErrRender))
			res.Failed++
		}
	}
	return false, nil
}

func (r *Runner) storePage(ctx context.Context, log *zap.Logger, date time.Time, url string, page int, data []byte, res *DateResult) {
	key := r.pageKey(date, page)
	uri, err := r.sink.Store(ctx, key, data)
	if err != nil {
		log.Warn("upload failed", zap.Int("page", page), zap.Error(err))
		r.recordFailure(ctx, date, url, page, err)
		res.Failed++
		return
	}
	res.Stored++
	evt := progress.Event{
		Stage:     progress.StagePageStored,
		Publisher: r.cfg.Publisher.Name,
		Date:      date,
		Page:      page,
		Key:       r.sink.Key(key),
		URL:       url,
		Bytes:     int64(len(data)),
		Note:      uri,
	}
	if r.hasher != nil {
		evt.Hash = r.hasher.Hash(data)
	}
	r.emit(evt)
	log.Debug("page stored", zap.Int("page", page), zap.String("uri", uri))
}

func (r *Runner) recordFailure(ctx context.Context, date time.Time, url string, page int, cause error) {
	kind := epaper.Classify(cause)
	entry := epaper.MissingPage{
		Publisher: r.cfg.Publisher.Name,
		Date:      date,
		URL:       url,
		Page:      page,
		Kind:      kind,
		Reason:    cause.Error(),
	}
	if err := r.missing.Record(ctx, entry); err != nil {
		r.logger.Warn("missing-page log write failed", zap.Int("page", page), zap.Error(err))
	}
	r.emit(progress.Event{
		Stage:     progress.StagePageFailed,
		Publisher: r.cfg.Publisher.Name,
		Date:      date,
		Page:      page,
		URL:       url,
		Kind:      string(kind),
		Note:      cause.Error(),
	})
}

// tempFile reserves a path in the run's temp dir; cleanup removes it on every exit path.
func (r *Runner) tempFile(art epaper.Artifact) (string, func(), error) {
	ext := strings.ToLower(filepath.Ext(art.URL))
	if ext == "" || len(ext) > 5 {
		ext = ".bin"
	}
	f, err := os.CreateTemp(r.cfg.TempDir, "artifact-*"+ext)
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	return path, func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("temp file cleanup failed", zap.String("path", path), zap.Error(err))
		}
	}, nil
}
