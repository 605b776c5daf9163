package progress

import (
	"time"

	"github.com/google/uuid"
)

// Reporter stamps events with a run id and forwards them to an Emitter. A nil
// Reporter, or one without an Emitter, discards everything.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time
}

// NewReporter binds emitter to runID.
func NewReporter(emitter Emitter, runID uuid.UUID) *Reporter {
	return &Reporter{
		emitter: emitter,
		runID:   UUIDToBytes(runID),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunStart reports the beginning of a run over n targets.
func (r *Reporter) RunStart(targets int) {
	r.emit(Event{Stage: StageRunStart, Records: targets})
}

// RunDone reports the end of a run.
func (r *Reporter) RunDone(saved int, dur time.Duration) {
	r.emit(Event{Stage: StageRunDone, Records: saved, Dur: dur})
}

// Page reports one fetched page (or a one-shot result set).
func (r *Reporter) Page(strategy, target string, offset, records int, dur time.Duration) {
	r.emit(Event{Stage: StageTargetPage, Strategy: strategy, Target: target, Offset: offset, Records: records, Dur: dur})
}

// TargetDone reports that a target finished and why.
func (r *Reporter) TargetDone(strategy, target string, records int, reason string) {
	r.emit(Event{Stage: StageTargetDone, Strategy: strategy, Target: target, Records: records, Note: reason})
}

// TargetError reports a failed fetch that finished a target.
func (r *Reporter) TargetError(strategy, target string, offset int, err error) {
	note := ""
	if err != nil {
		note = err.Error()
	}
	r.emit(Event{Stage: StageTargetError, Strategy: strategy, Target: target, Offset: offset, Note: note})
}

// JobSaved reports a persisted job.
func (r *Reporter) JobSaved(target, jobID string) {
	r.emit(Event{Stage: StageJobSaved, Target: target, Note: jobID})
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.now()
	r.emitter.Emit(evt)
}
