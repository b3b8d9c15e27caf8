package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/notify"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
)

// Config tunes job execution and retention.
type Config struct {
	Workers         map[model.Step]int
	Retention       time.Duration
	JanitorInterval time.Duration
	StoreRetry      resilience.Policy
	BreakerFailures int
	BreakerCooldown time.Duration
}

const defaultWorkers = 4

// StartRequest asks for a job over one upload.
type StartRequest struct {
	UploadID int64         `json:"upload_id"`
	Steps    []string      `json:"steps"`
	Filters  model.Filters `json:"filters"`
}

// Registry owns every live and recently finished job. The map lock is held
// only for map access; each job guards its own state.
type Registry struct {
	store    store.Store
	adapters Adapters
	hub      *notify.Hub
	cfg      Config
	breaker  *resilience.Breaker

	now   func() time.Time
	newID func() string
	order atomic.Uint64

	mu   sync.RWMutex
	jobs map[string]*job

	wg         sync.WaitGroup
	forceGrace time.Duration
}

// NewRegistry creates a registry executing jobs against st.
func NewRegistry(st store.Store, adapters Adapters, hub *notify.Hub, cfg Config) *Registry {
	if cfg.Retention <= 0 {
		cfg.Retention = 15 * time.Minute
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	if hub == nil {
		hub = notify.NewHub(0)
	}
	return &Registry{
		store:      st,
		adapters:   adapters,
		hub:        hub,
		cfg:        cfg,
		breaker:    resilience.NewBreaker("store", cfg.BreakerFailures, cfg.BreakerCooldown),
		now:        time.Now,
		newID:      uuid.NewString,
		forceGrace: 5 * time.Second,
		jobs:       make(map[string]*job),
	}
}

// Start validates the request, resolves its scope and launches the job in
// the background. Nothing is registered when it returns an error.
func (r *Registry) Start(ctx context.Context, req StartRequest) (model.Snapshot, error) {
	if req.UploadID <= 0 {
		return model.Snapshot{}, eris.Wrapf(ErrInvalidRequest, "invalid upload id %d", req.UploadID)
	}
	if err := req.Filters.Validate(); err != nil {
		return model.Snapshot{}, eris.Wrap(ErrInvalidRequest, err.Error())
	}
	plan, err := ParsePlan(req.Steps)
	if err != nil {
		return model.Snapshot{}, err
	}
	scope, err := Resolve(ctx, r.store, req.UploadID, req.Filters, plan)
	if err != nil {
		return model.Snapshot{}, err
	}
	if len(scope) == 0 {
		return model.Snapshot{}, eris.Wrapf(ErrEmptyScope, "upload %d", req.UploadID)
	}

	j := newJob(r.newID(), req.UploadID, plan, scope, r.now().UTC(), r.order.Add(1))

	r.mu.Lock()
	r.jobs[j.id] = j
	r.mu.Unlock()

	snap := j.snapshot()
	r.hub.Publish(snap)
	j.log.Info("pipeline: job queued",
		zap.Strings("steps", stepNames(plan)),
		zap.Int("total", len(scope)),
	)

	r.wg.Add(1)
	go r.run(j)
	return snap, nil
}

func (r *Registry) get(id string) (*job, error) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return j, nil
}

// Status returns a snapshot of the job.
func (r *Registry) Status(id string) (model.Snapshot, error) {
	j, err := r.get(id)
	if err != nil {
		return model.Snapshot{}, err
	}
	return j.snapshot(), nil
}

// ListActive returns snapshots of every retained job, newest first.
func (r *Registry) ListActive() []model.Snapshot {
	r.mu.RLock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].order > jobs[b].order })
	out := make([]model.Snapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.snapshot()
	}
	return out
}

// Stop asks the job to stop before its next record. It returns at once and
// is a no-op on finished jobs.
func (r *Registry) Stop(id string) (model.Snapshot, error) {
	j, err := r.get(id)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap, changed := j.requestStop()
	if changed {
		j.log.Info("pipeline: stop requested")
	}
	return snap, nil
}

// ForceStop stops the job and cancels adapter calls in flight.
func (r *Registry) ForceStop(id string) (model.Snapshot, error) {
	j, err := r.get(id)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap, changed := j.requestStop()
	if changed {
		j.log.Info("pipeline: force stop requested")
		j.abort()
	}
	return snap, nil
}

// Subscribe returns a channel of the job's snapshots, closed after the
// final one, and a func to unsubscribe early.
func (r *Registry) Subscribe(id string) (<-chan model.Snapshot, func(), error) {
	j, err := r.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsub := r.hub.Subscribe(id, j.snapshot())
	return ch, unsub, nil
}

// History returns finalized jobs from the store, newest first.
func (r *Registry) History(ctx context.Context, limit int) ([]model.Snapshot, error) {
	jobs, err := r.store.ListJobs(ctx, limit)
	return jobs, eris.Wrap(err, "pipeline: list job history")
}

// Run evicts finished jobs past the retention window until ctx ends.
func (r *Registry) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.JanitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.evict(); n > 0 {
				zap.L().Debug("pipeline: evicted jobs", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) evict() int {
	cutoff := r.now().Add(-r.cfg.Retention)

	r.mu.RLock()
	var expired []string
	for id, j := range r.jobs {
		if done, at := j.terminal(); done && at.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}
	r.mu.Lock()
	for _, id := range expired {
		delete(r.jobs, id)
	}
	r.mu.Unlock()
	for _, id := range expired {
		r.hub.Forget(id)
	}
	return len(expired)
}

// Shutdown stops every live job and waits for them to finalize. If ctx
// ends first, adapter calls still in flight are canceled and Shutdown waits
// up to the force grace period for the jobs to finalize as stopped.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	live := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		j.requestStop()
		live = append(live, j)
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	zap.L().Warn("pipeline: shutdown deadline reached, canceling in-flight calls", zap.Int("jobs", len(live)))
	for _, j := range live {
		j.abort()
	}
	select {
	case <-done:
		return nil
	case <-time.After(r.forceGrace):
		return eris.Wrap(ctx.Err(), "pipeline: shutdown")
	}
}

func stepNames(steps []model.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}
