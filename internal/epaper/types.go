package epaper

import (
	"fmt"
	"time"
)

// ArtifactKind identifies what a downloaded artifact contains.
type ArtifactKind string

// Artifact kinds understood by the pipeline.
const (
	ArtifactPDF   ArtifactKind = "pdf"
	ArtifactImage ArtifactKind = "image"
)

// Artifact is one downloadable file that contributes ExpectedPages output pages starting at
// FirstPage. Probe artifacts belong to an open-ended sequence whose end is signalled by a
// not-found response.
type Artifact struct {
	URL           string
	Index         int
	FirstPage     int
	ExpectedPages int
	Kind          ArtifactKind
	Probe         bool
}

// Pages returns the 1-based output page slots the artifact occupies.
func (a Artifact) Pages() []int {
	n := a.ExpectedPages
	if n <= 0 {
		n = 1
	}
	out := make([]int, n)
	for i := range out {
		out[i] = a.FirstPage + i
	}
	return out
}

// RenderedImage is one rasterised page of an artifact. Page is 1-based within the artifact.
// Err is set when that page alone failed to convert.
type RenderedImage struct {
	Page   int
	Data   []byte
	Format string
	Err    error
}

// Outcome is the terminal state of one date.
type Outcome string

// Per-date states: PENDING -> SKIPPED-OK | OK | PARTIAL.
const (
	OutcomePending Outcome = "pending"
	OutcomeSkipped Outcome = "skipped_ok"
	OutcomeOK      Outcome = "ok"
	OutcomePartial Outcome = "partial"
)

// Advances reports whether a date with this outcome may move the checkpoint forward.
func (o Outcome) Advances() bool {
	return o == OutcomeSkipped || o == OutcomeOK
}

// MissingPage describes a page slot that could not be produced.
type MissingPage struct {
	Publisher string
	Date      time.Time
	URL       string
	Page      int
	Kind      FailureKind
	Reason    string
}

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Key          string
	URI          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// ResumeMode selects how a run picks its first date.
type ResumeMode string

// Supported resume modes.
const (
	ResumeNone       ResumeMode = "none"
	ResumeCheckpoint ResumeMode = "checkpoint"
	ResumeProbe      ResumeMode = "probe"
)

// PartialPolicy decides what happens after a date ends PARTIAL.
type PartialPolicy string

// Supported partial policies.
const (
	PartialHalt     PartialPolicy = "halt"
	PartialContinue PartialPolicy = "continue"
)

// RunConfig is the immutable description of one run. It is built once from configuration and
// passed by value into the pipeline.
type RunConfig struct {
	Publisher      Profile
	Start          time.Time
	End            time.Time
	WeekdaysOnly   bool
	CheckpointPath string
	TempDir        string
	Container      string

	ResumeMode      ResumeMode
	PartialPolicy   PartialPolicy
	AbortOnError    bool
	PageDelay       time.Duration
	DateDelay       time.Duration
	BatchPauseEvery int
	BatchPause      time.Duration
	DryRun          bool
}

// Validate checks the run description for contradictions.
func (c RunConfig) Validate() error {
	if err := c.Publisher.Validate(); err != nil {
		return err
	}
	if c.Start.IsZero() {
		return fmt.Errorf("run start date is required")
	}
	if c.TempDir == "" {
		return fmt.Errorf("run temp dir is required")
	}
	switch c.ResumeMode {
	case ResumeNone, ResumeCheckpoint, ResumeProbe:
	default:
		return fmt.Errorf("unknown resume mode %q", c.ResumeMode)
	}
	if c.ResumeMode == ResumeCheckpoint && c.CheckpointPath == "" {
		return fmt.Errorf("checkpoint path is required for checkpoint resume")
	}
	switch c.PartialPolicy {
	case PartialHalt, PartialContinue:
	default:
		return fmt.Errorf("unknown partial policy %q", c.PartialPolicy)
	}
	if c.PageDelay < 0 || c.DateDelay < 0 || c.BatchPause < 0 {
		return fmt.Errorf("delays must be >= 0")
	}
	return nil
}
