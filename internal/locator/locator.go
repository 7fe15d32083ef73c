// Package locator finds the artifacts that make up one publisher's issue for a date.
package locator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// Status is the three-valued outcome of a locate attempt.
type Status int

// Locate outcomes.
const (
	StatusFound Status = iota + 1
	StatusNotFound
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes what was found for a date. Artifacts is only populated for StatusFound and
// Err only for StatusFailed.
type Result struct {
	Status    Status
	Artifacts []epaper.Artifact
	Format    string
	Err       error
}

// Found builds a successful result.
func Found(format string, artifacts []epaper.Artifact) Result {
	return Result{Status: StatusFound, Format: format, Artifacts: artifacts}
}

// NotFound builds a "no issue for this date" result.
func NotFound() Result {
	return Result{Status: StatusNotFound}
}

// Failed builds an error result.
func Failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

// Locator discovers the artifacts of a date's issue.
type Locator interface {
	Locate(ctx context.Context, date time.Time) Result
}

// New returns the locator matching the profile's strategy.
func New(profile epaper.Profile, fetcher epaper.Fetcher, logger *zap.Logger) (Locator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("locator: fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("locator: %w", err)
	}
	logger = logger.With(zap.String("publisher", profile.Name))
	switch profile.Strategy {
	case epaper.StrategyIndex:
		return &IndexLocator{profile: profile, fetcher: fetcher, logger: logger}, nil
	case epaper.StrategyProbe:
		return &ProbeLocator{profile: profile, fetcher: fetcher, logger: logger}, nil
	default:
		return nil, fmt.Errorf("locator: unsupported strategy %q", profile.Strategy)
	}
}
