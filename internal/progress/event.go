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
	StageTargetPage  Stage = "TARGET_PAGE"
	StageTargetDone  Stage = "TARGET_DONE"
	StageTargetError Stage = "TARGET_ERROR"
	StageJobSaved    Stage = "JOB_SAVED"
	StageRunDone     Stage = "RUN_DONE"
)

// Event captures a single milestone of a scan run.
type Event struct {
	// RunID identifies the run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Target is the configured target name; empty for run-level stages.
	Target string
	// Strategy names the scan strategy that produced the event.
	Strategy string
	// Offset is the page offset for TARGET_PAGE events.
	Offset int
	// Records counts postings on a page, or the final total on TARGET_DONE.
	Records int
	Dur     time.Duration
	// Note carries low-volume context such as an error string or finish reason.
	Note string
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
	case StageRunStart, StageRunDone:
	case StageTargetPage, StageTargetDone, StageTargetError, StageJobSaved:
		if e.Target == "" {
			return fmt.Errorf("%s requires target", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Offset < 0 {
		return errors.New("offset must be >= 0")
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
