package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// ProbeLocator checks each of the publisher's URL formats for page 1 and, on the first hit,
// returns the open-ended page sequence in that format. The pipeline stops walking the sequence
// at the first missing page.
type ProbeLocator struct {
	profile epaper.Profile
	fetcher epaper.Fetcher
	logger  *zap.Logger
}

// Locate implements Locator.
func (l *ProbeLocator) Locate(ctx context.Context, date time.Time) Result {
	logger := l.logger.With(zap.String("date", date.Format(time.DateOnly)))
	var lastErr error
	for _, format := range l.profile.Formats {
		probeURL := l.profile.PageURL(format, date, 1)
		logger.Info("checking for issue", zap.String("format", format.Name), zap.String("url", probeURL))

		_, err := l.fetcher.Head(ctx, probeURL)
		switch {
		case err == nil:
			logger.Info("issue found", zap.String("format", format.Name))
			return Found(format.Name, l.sequence(format, date))
		case errors.Is(err, epaper.ErrRateLimited):
			logger.Warn("rate limited while probing, giving up on this date", zap.String("url", probeURL))
			return Failed(fmt.Errorf("probe %s: %w", probeURL, err))
		case ctx.Err() != nil:
			return Failed(ctx.Err())
		case errors.Is(err, epaper.ErrNotFound), errors.Is(err, epaper.ErrForbidden):
			continue
		default:
			logger.Warn("probe failed", zap.String("format", format.Name), zap.Error(err))
			lastErr = err
		}
	}
	if lastErr != nil {
		return Failed(fmt.Errorf("probe %s: %w", date.Format(time.DateOnly), lastErr))
	}
	logger.Info("no issue found after checking all formats")
	return NotFound()
}

func (l *ProbeLocator) sequence(format epaper.ProbeFormat, date time.Time) []epaper.Artifact {
	artifacts := make([]epaper.Artifact, 0, l.profile.MaxPages)
	for n := 1; n <= l.profile.MaxPages; n++ {
		artifacts = append(artifacts, epaper.Artifact{
			URL:           l.profile.PageURL(format, date, n),
			Index:         n - 1,
			FirstPage:     n,
			ExpectedPages: 1,
			Kind:          format.Kind,
			Probe:         true,
		})
	}
	return artifacts
}
