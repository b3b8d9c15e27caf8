package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
)

// job is one registered run. Identity fields are fixed at creation; the
// rest is guarded by mu. cancel is read without the lock.
type job struct {
	id        string
	uploadID  int64
	plan      []model.Step
	scope     []int64
	startedAt time.Time
	order     uint64
	log       *zap.Logger

	ctx   context.Context
	abort context.CancelFunc

	cancel atomic.Bool

	mu         sync.RWMutex
	status     model.JobStatus
	event      model.EventType
	current    model.Step
	doneUnits  int
	steps      []model.StepProgress
	errMsg     string
	finishedAt *time.Time
	seq        uint64
}

func newJob(id string, uploadID int64, plan []model.Step, scope []int64, now time.Time, order uint64) *job {
	ctx, abort := context.WithCancel(context.Background())
	steps := make([]model.StepProgress, len(plan))
	for i, s := range plan {
		steps[i] = model.StepProgress{Step: s, Total: len(scope)}
	}
	return &job{
		id:        id,
		uploadID:  uploadID,
		plan:      plan,
		scope:     scope,
		startedAt: now,
		order:     order,
		log:       zap.L().With(zap.String("job_id", id), zap.Int64("upload_id", uploadID)),
		ctx:       ctx,
		abort:     abort,
		status:    model.JobStatusQueued,
		event:     model.EventQueued,
		steps:     steps,
		seq:       1,
	}
}

func (j *job) snapshot() model.Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snapshotLocked()
}

func (j *job) snapshotLocked() model.Snapshot {
	total := len(j.scope)
	units := total * len(j.plan)

	s := model.Snapshot{
		ID:            j.id,
		UploadID:      j.uploadID,
		Steps:         append([]model.Step(nil), j.plan...),
		Status:        j.status,
		Event:         j.event,
		CurrentStep:   j.current,
		TotalItems:    total,
		StepProgress:  append([]model.StepProgress(nil), j.steps...),
		StopRequested: j.cancel.Load(),
		Error:         j.errMsg,
		StartedAt:     j.startedAt,
		Seq:           j.seq,
	}
	if len(j.plan) > 0 {
		s.ProcessedItems = j.doneUnits / len(j.plan)
	}
	if units > 0 {
		s.Percent = float64(j.doneUnits) * 100 / float64(units)
	}
	if j.finishedAt != nil {
		t := *j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// update applies fn under the write lock unless the job is terminal, bumps
// the sequence and returns the new snapshot. ok is false when nothing
// changed.
func (j *job) update(ev model.EventType, fn func()) (model.Snapshot, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return j.snapshotLocked(), false
	}
	if fn != nil {
		fn()
	}
	j.event = ev
	j.seq++
	return j.snapshotLocked(), true
}

func (j *job) markRunning() (model.Snapshot, bool) {
	return j.update(model.EventStarted, func() { j.status = model.JobStatusRunning })
}

func (j *job) beginStep(idx int) (model.Snapshot, bool) {
	return j.update(model.EventStepStart, func() { j.current = j.plan[idx] })
}

func (j *job) endStep() (model.Snapshot, bool) {
	return j.update(model.EventStepComplete, nil)
}

// recordDone counts one finished record of step idx.
func (j *job) recordDone(idx int, ok bool) (model.Snapshot, bool) {
	return j.update(model.EventProgress, func() {
		sp := &j.steps[idx]
		if sp.Processed >= sp.Total {
			return
		}
		sp.Processed++
		if ok {
			sp.Succeeded++
		} else {
			sp.Failed++
		}
		j.doneUnits++
	})
}

// finalize moves the job to a terminal status. It returns false when the
// job was already terminal.
func (j *job) finalize(status model.JobStatus, errMsg string, at time.Time) (model.Snapshot, bool) {
	ev := model.EventCompleted
	switch status {
	case model.JobStatusFailed:
		ev = model.EventFailed
	case model.JobStatusStopped:
		ev = model.EventStopped
	}
	snap, ok := j.update(ev, func() {
		j.status = status
		j.errMsg = errMsg
		j.current = ""
		j.finishedAt = &at
	})
	if ok {
		j.abort()
	}
	return snap, ok
}

// requestStop sets the cancel flag. It reports whether the flag changed on
// a live job.
func (j *job) requestStop() (model.Snapshot, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() || !j.cancel.CompareAndSwap(false, true) {
		return j.snapshotLocked(), false
	}
	j.seq++
	return j.snapshotLocked(), true
}

func (j *job) terminal() (bool, time.Time) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.status.IsTerminal() || j.finishedAt == nil {
		return false, time.Time{}
	}
	return true, *j.finishedAt
}
