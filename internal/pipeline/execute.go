package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadflow/internal/enrich"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
)

// run drives one job from queued to a terminal status.
func (r *Registry) run(j *job) {
	defer r.wg.Done()
	defer j.abort()

	start := time.Now()
	if snap, ok := j.markRunning(); ok {
		r.hub.Publish(snap)
	}
	j.log.Info("pipeline: job started")

	stopped, err := r.execute(j)

	status, msg := model.JobStatusCompleted, ""
	switch {
	case err != nil:
		status, msg = model.JobStatusFailed, err.Error()
		j.log.Error("pipeline: job failed", zap.Error(err))
	case stopped:
		status = model.JobStatusStopped
	}
	r.finalize(j, status, msg)

	j.log.Info("pipeline: job finished",
		zap.String("status", string(status)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// execute runs the plan's steps in order. stopped is true when the cancel
// flag caused work to be skipped.
func (r *Registry) execute(j *job) (stopped bool, err error) {
	for i, step := range j.plan {
		if j.cancel.Load() {
			return true, nil
		}
		if snap, ok := j.beginStep(i); ok {
			r.hub.Publish(snap)
		}
		j.log.Info("pipeline: step started", zap.String("step", step.String()))

		stopped, err := r.runStep(j, i, step)
		if err != nil {
			return false, err
		}
		if stopped {
			return true, nil
		}

		snap, ok := j.endStep()
		if ok {
			r.hub.Publish(snap)
		}
		sp := snap.StepProgress[i]
		j.log.Info("pipeline: step complete",
			zap.String("step", step.String()),
			zap.Int("succeeded", sp.Succeeded),
			zap.Int("failed", sp.Failed),
		)
	}
	return false, nil
}

// runStep applies step to every record of the scope with the step's
// worker limit. The cancel flag is checked before each record is queued.
func (r *Registry) runStep(j *job, idx int, step model.Step) (bool, error) {
	g, gctx := errgroup.WithContext(j.ctx)
	g.SetLimit(r.workers(step))

	stopped := false
	for _, id := range j.scope {
		if j.cancel.Load() {
			stopped = true
			break
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return r.processRecord(gctx, j, idx, step, id)
		})
	}
	err := g.Wait()

	if j.cancel.Load() && j.ctx.Err() != nil {
		// Force stop: in-flight calls were canceled, not failed.
		return true, nil
	}
	return stopped, err
}

func (r *Registry) workers(step model.Step) int {
	if n := r.cfg.Workers[step]; n > 0 {
		return n
	}
	return defaultWorkers
}

// processRecord runs one record through step. Only fatal errors are
// returned; soft failures are counted and noted on the record.
func (r *Registry) processRecord(ctx context.Context, j *job, idx int, step model.Step, id int64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = enrich.Fatal(eris.Errorf("pipeline: panic in %s for record %d: %v", step, id, p))
		}
	}()

	var rec *model.Record
	err = r.storeCall(ctx, "get_record", func(ctx context.Context) error {
		var gerr error
		rec, gerr = r.store.GetRecord(ctx, id)
		return gerr
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		j.log.Warn("pipeline: record vanished", zap.Int64("record_id", id))
		r.progress(j, idx, false)
		return nil
	case err != nil:
		return r.storeFailure(ctx, err, "load record %d", id)
	}

	patch, aerr := r.adapters.buildPatch(ctx, step, *rec, r.now().UTC())
	if ctx.Err() != nil {
		return nil
	}
	if enrich.IsFatal(aerr) {
		return aerr
	}
	if aerr != nil {
		patch.AppendNote = fmt.Sprintf("%s: %s", step, enrich.Reason(aerr))
		j.log.Debug("pipeline: record failed",
			zap.String("step", step.String()),
			zap.Int64("record_id", id),
			zap.Error(aerr),
		)
	}

	if !patch.Empty() {
		err = r.storeCall(ctx, "apply_patch", func(ctx context.Context) error {
			return r.store.ApplyPatch(ctx, id, patch)
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			j.log.Warn("pipeline: record vanished", zap.Int64("record_id", id))
			r.progress(j, idx, false)
			return nil
		case err != nil:
			return r.storeFailure(ctx, err, "write record %d", id)
		}
	}

	r.progress(j, idx, aerr == nil)
	return nil
}

// storeCall runs a store operation behind the breaker, retrying transient
// failures within the single call.
func (r *Registry) storeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, r.cfg.StoreRetry, op, fn)
	})
}

// storeFailure converts a store error into a fatal job error unless the job
// context is already done.
func (r *Registry) storeFailure(ctx context.Context, err error, format string, args ...any) error {
	if ctx.Err() != nil {
		return nil
	}
	return enrich.Fatal(eris.Wrapf(err, "pipeline: "+format, args...))
}

func (r *Registry) progress(j *job, idx int, ok bool) {
	if snap, changed := j.recordDone(idx, ok); changed {
		r.hub.Publish(snap)
	}
}

// finalize moves the job to status, records it in history and publishes
// the final snapshot, which closes every subscription.
func (r *Registry) finalize(j *job, status model.JobStatus, msg string) {
	snap, ok := j.finalize(status, msg, r.now().UTC())
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveJob(ctx, snap); err != nil {
		j.log.Warn("pipeline: save job history failed", zap.Error(err))
	}
	r.hub.Publish(snap)
}
