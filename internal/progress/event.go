package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageDateStart   Stage = "DATE_START"
	StageDateDone    Stage = "DATE_DONE"
	StagePageStored  Stage = "PAGE_STORED"
	StagePageSkipped Stage = "PAGE_SKIPPED"
	StagePageFailed  Stage = "PAGE_FAILED"
)

// Event captures a single milestone of a run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte `json:"-"`
	// TS is the UTC timestamp recorded by the emitter.
	TS        time.Time `json:"ts"`
	Stage     Stage     `json:"stage"`
	Publisher string    `json:"publisher,omitempty"`
	// Date is the issue date for date and page events.
	Date time.Time `json:"date,omitempty"`
	Page int       `json:"page,omitempty"`
	Key  string    `json:"key,omitempty"`
	URL  string    `json:"url,omitempty"`
	// Bytes is the stored size for PAGE_STORED.
	Bytes int64 `json:"bytes,omitempty"`
	// Hash is the hex content digest for PAGE_STORED.
	Hash string `json:"hash,omitempty"`
	// Outcome is the terminal date state for DATE_DONE.
	Outcome string `json:"outcome,omitempty"`
	// Kind is the failure classification for PAGE_FAILED.
	Kind    string        `json:"kind,omitempty"`
	Stored  int           `json:"stored,omitempty"`
	Skipped int           `json:"skipped,omitempty"`
	Failed  int           `json:"failed,omitempty"`
	Dur     time.Duration `json:"dur_ns,omitempty"`
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageDateStart, StageDateDone:
		if e.Publisher == "" || e.Date.IsZero() {
			return fmt.Errorf("%s requires publisher and date", e.Stage)
		}
		if e.Stage == StageDateDone && e.Outcome == "" {
			return errors.New("date done requires outcome")
		}
	case StagePageStored, StagePageSkipped, StagePageFailed:
		if e.Publisher == "" || e.Date.IsZero() {
			return fmt.Errorf("%s requires publisher and date", e.Stage)
		}
		if e.Page <= 0 {
			return fmt.Errorf("%s requires a page number", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
