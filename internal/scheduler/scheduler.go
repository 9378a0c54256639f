package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timewave-computer/causality-sub006/internal/clock"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/store"
)

// Status is the scheduler's run state.
type Status uint8

const (
	Stopped Status = iota
	Running
	Paused
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Task log statuses.
const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskSkipped   = "skipped"
	TaskFailed    = "failed"
	TaskRetrying  = "retrying"
)

// Stats summarizes scheduler activity since construction.
type Stats struct {
	Successful         int
	Failed             int
	Skipped            int
	Retries            int
	TotalRelationships int
	Active             int
	Pending            int
	AvgSyncTime        time.Duration
	LastRun            time.Time
}

// TaskResult is the outcome of one task attempt.
type TaskResult struct {
	Task       Task
	Result     relationship.SyncResult
	Err        error
	Retried    bool
	FinishedAt time.Time
	Duration   time.Duration
}

// TaskLog persists task transitions. *store.Store satisfies it.
type TaskLog interface {
	SaveTask(ctx context.Context, rec store.TaskRecord) error
}

const resultsPerRelationship = 32

// Scheduler polls the registry for relationships due to sync, queues them
// and runs them on a bounded set of workers, retrying transient failures
// with backoff.
//
// Thread-safety: all methods are safe for concurrent use.
type Scheduler struct {
	registry *relationship.Registry
	syncer   *relationship.SyncManager
	clock    clock.Source
	log      TaskLog
	observer func(TaskResult)
	scan     time.Duration
	newID    func() string

	control sync.Mutex // serializes Start, Stop, Pause, Resume
	cancel  context.CancelFunc
	loop    sync.WaitGroup
	workers sync.WaitGroup

	queue *taskQueue

	mu        sync.Mutex
	cfg       Config
	status    Status
	running   map[ids.RelationshipID]Task
	results   map[ids.RelationshipID][]TaskResult
	stats     Stats
	totalTime time.Duration
	timed     int
	lastCheck time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the source for due checks and backoff deadlines.
func WithClock(src clock.Source) Option {
	return func(s *Scheduler) { s.clock = src }
}

// WithTaskLog persists every task transition.
func WithTaskLog(log TaskLog) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithObserver is called after every finished attempt, outside any lock.
func WithObserver(fn func(TaskResult)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// WithScanInterval sets how often the run loop scans the queue. Default
// 100ms.
func WithScanInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.scan = d }
}

// New returns a stopped scheduler. cfg must pass Validate.
func New(registry *relationship.Registry, syncer *relationship.SyncManager, cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		registry: registry,
		syncer:   syncer,
		clock:    clock.System{},
		scan:     100 * time.Millisecond,
		newID:    func() string { return uuid.NewString() },
		queue:    newTaskQueue(),
		cfg:      cfg,
		running:  make(map[ids.RelationshipID]Task),
		results:  make(map[ids.RelationshipID][]TaskResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the run loop. Workers run on a context detached from
// ctx's cancellation so Stop can drain them.
func (s *Scheduler) Start(ctx context.Context) error {
	const op = "scheduler.start"
	s.control.Lock()
	defer s.control.Unlock()

	s.mu.Lock()
	if s.status != Stopped {
		st := s.status
		s.mu.Unlock()
		return errs.New(errs.InvalidState, op, "scheduler is %s", st)
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return errs.New(errs.InvalidState, op, "scheduler is disabled")
	}
	s.status = Running
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	workCtx := context.WithoutCancel(ctx)
	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		s.run(loopCtx, workCtx)
	}()
	slog.Info("scheduler started", "max_concurrent", s.cfg.MaxConcurrentTasks, "scan", s.scan)
	return nil
}

func (s *Scheduler) run(loopCtx, workCtx context.Context) {
	ticker := time.NewTicker(s.scan)
	defer ticker.Stop()
	for {
		s.tick(workCtx)
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
		case <-s.queue.Wait():
		}
	}
}

// Stop ends the run loop and waits for in-flight tasks. Queued tasks stay
// queued for a later Start.
func (s *Scheduler) Stop() error {
	s.control.Lock()
	defer s.control.Unlock()

	s.mu.Lock()
	if s.status == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.status = Stopped
	s.mu.Unlock()

	s.cancel()
	s.loop.Wait()
	s.workers.Wait()
	slog.Info("scheduler stopped", "pending", s.queue.Len())
	return nil
}

// Pause freezes dispatch. In-flight tasks keep running.
func (s *Scheduler) Pause() error {
	return s.transition("scheduler.pause", Running, Paused)
}

// Resume restarts dispatch after Pause.
func (s *Scheduler) Resume() error {
	return s.transition("scheduler.resume", Paused, Running)
}

func (s *Scheduler) transition(op string, from, to Status) error {
	s.control.Lock()
	defer s.control.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return errs.New(errs.InvalidState, op, "scheduler is %s, not %s", s.status, from)
	}
	s.status = to
	slog.Info("scheduler "+to.String())
	return nil
}

// Status returns the current run state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig swaps the configuration. Queued tasks keep their deadlines.
func (s *Scheduler) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Stats returns counters with live active and pending counts.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Active = len(s.running)
	st.Pending = s.queue.Len()
	if s.timed > 0 {
		st.AvgSyncTime = s.totalTime / time.Duration(s.timed)
	}
	return st
}

// Pending returns the queued tasks in dispatch order.
func (s *Scheduler) Pending() []Task {
	return s.queue.Snapshot()
}

// TaskResults returns the recent attempts for a relationship, oldest
// first.
func (s *Scheduler) TaskResults(id ids.RelationshipID) []TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TaskResult(nil), s.results[id]...)
}

// ScheduleSyncNow queues id at manual priority for immediate dispatch. A
// queued task for id is promoted instead; a running one is followed by the
// new task once it finishes.
func (s *Scheduler) ScheduleSyncNow(ctx context.Context, id ids.RelationshipID) error {
	r, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if s.queue.Promote(id, now, PriorityManual) {
		slog.Debug("sync request coalesced", "relationship", id.Short())
		return nil
	}
	t := s.newTask(r, now, PriorityManual)
	if s.queue.Push(t) {
		s.save(ctx, t, TaskQueued, "")
	}
	return nil
}

func (s *Scheduler) newTask(r *relationship.Relationship, now time.Time, priority int) Task {
	return Task{
		ID:           s.newID(),
		Relationship: r.ID,
		SourceDomain: r.SourceDomain,
		TargetDomain: r.TargetDomain,
		ScheduledAt:  now,
		ExecuteAt:    now,
		Priority:     priority,
	}
}

// CheckRelationships queues every registered relationship that ShouldSync
// reports due and that is neither queued nor running. It returns the
// number queued.
func (s *Scheduler) CheckRelationships(ctx context.Context) int {
	all := s.registry.All()
	now := s.clock.Now()

	s.mu.Lock()
	s.stats.TotalRelationships = len(all)
	s.lastCheck = now
	s.mu.Unlock()

	n := 0
	for _, r := range all {
		if !s.syncer.ShouldSync(r) || s.isRunning(r.ID) {
			continue
		}
		t := s.newTask(r, now, PriorityPeriodic)
		if s.queue.Push(t) {
			s.save(ctx, t, TaskQueued, "")
			slog.Debug("relationship queued", "relationship", r.ID.Short(), "kind", r.Kind)
			n++
		}
	}
	return n
}

func (s *Scheduler) isRunning(id ids.RelationshipID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// tick runs one scan: the periodic check when due, then dispatch.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.status != Running {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	s.stats.LastRun = now
	checkDue := s.lastCheck.IsZero() || now.Sub(s.lastCheck) >= s.cfg.PeriodicCheckInterval
	s.mu.Unlock()

	if checkDue {
		s.CheckRelationships(ctx)
	}
	s.dispatch(ctx)
}

func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	free := s.cfg.MaxConcurrentTasks - len(s.running)
	if free <= 0 {
		s.mu.Unlock()
		return
	}
	ready := s.queue.PopReady(s.clock.Now(), free, func(id ids.RelationshipID) bool {
		_, ok := s.running[id]
		return ok
	})
	for _, t := range ready {
		s.running[t.Relationship] = t
	}
	s.mu.Unlock()

	for _, t := range ready {
		s.workers.Add(1)
		go s.execute(ctx, t)
	}
}

func (s *Scheduler) execute(ctx context.Context, t Task) {
	defer s.workers.Done()
	s.save(ctx, t, TaskRunning, "")
	cfg := s.Config()
	started := s.clock.Now()

	res, err := s.attempt(ctx, t, cfg)
	s.complete(ctx, t, cfg, res, err, s.clock.Now().Sub(started))
}

func (s *Scheduler) attempt(ctx context.Context, t Task, cfg Config) (relationship.SyncResult, error) {
	r, err := s.registry.Get(t.Relationship)
	if errs.Is(err, errs.NotFound) {
		return relationship.Skipped("relationship removed"), nil
	}
	if err != nil {
		return relationship.Failed(err), err
	}
	if cfg.ValidateBeforeSync {
		v := relationship.NewValidator(cfg.ValidationLevel)
		if res := v.Validate(r); !res.Valid {
			slog.Warn("relationship failed validation gate", "relationship", r.ID.Short(), "level", cfg.ValidationLevel)
			return relationship.Skipped("validation failed at " + cfg.ValidationLevel.String()), nil
		}
	}
	opts := relationship.DefaultSyncOptions()
	opts.Timeout = cfg.SyncTimeout
	opts.Validate = false
	return s.syncer.SyncRelationship(ctx, r, opts)
}

func (s *Scheduler) complete(ctx context.Context, t Task, cfg Config, res relationship.SyncResult, err error, elapsed time.Duration) {
	out := TaskResult{Task: t, Result: res, Err: err, FinishedAt: s.clock.Now(), Duration: elapsed}
	status := TaskSucceeded

	s.mu.Lock()
	delete(s.running, t.Relationship)
	switch {
	case err != nil || res.Status == relationship.StatusFailed:
		s.stats.Failed++
		status = TaskFailed
		if err == nil {
			err = res.Err
		}
		if cfg.RetryFailed && t.RetryAttempt < cfg.MaxRetryAttempts && errs.IsTransient(err) {
			delay := cfg.RetryBackoff.Calculate(t.RetryAttempt)
			next := t
			next.RetryAttempt++
			next.ScheduledAt = out.FinishedAt
			next.ExecuteAt = out.FinishedAt.Add(delay)
			if s.queue.Push(next) {
				s.stats.Retries++
				out.Retried = true
				status = TaskRetrying
				slog.Debug("sync retry scheduled", "relationship", t.Relationship.Short(), "attempt", next.RetryAttempt, "delay", delay)
			}
		} else if !errs.IsTransient(err) {
			slog.Warn("sync failed permanently", "relationship", t.Relationship.Short(), "kind", errs.KindOf(err), "error", err)
		}
	case res.Status == relationship.StatusSkipped:
		s.stats.Skipped++
		status = TaskSkipped
	case res.Status == relationship.StatusInProgress:
		// Another caller holds the relationship; the next due check picks it up.
		status = TaskSkipped
	default:
		s.stats.Successful++
		s.totalTime += elapsed
		s.timed++
	}
	hist := append(s.results[t.Relationship], out)
	if len(hist) > resultsPerRelationship {
		hist = hist[len(hist)-resultsPerRelationship:]
	}
	s.results[t.Relationship] = hist
	s.mu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.save(ctx, t, status, msg)
	if s.observer != nil {
		s.observer(out)
	}
}

func (s *Scheduler) save(ctx context.Context, t Task, status, lastErr string) {
	if s.log == nil {
		return
	}
	rec := store.TaskRecord{
		ID:             t.ID,
		RelationshipID: t.Relationship,
		SourceDomain:   t.SourceDomain,
		TargetDomain:   t.TargetDomain,
		Status:         status,
		Attempts:       t.RetryAttempt + 1,
		LastError:      lastErr,
		CreatedAt:      t.ScheduledAt,
		UpdatedAt:      s.clock.Now(),
	}
	if err := s.log.SaveTask(ctx, rec); err != nil {
		slog.Warn("task log write failed", "task", t.ID, "error", err)
	}
}

// RunOnce checks relationships, dispatches everything due and waits for it
// to finish. It is the single-pass mode used by the CLI and needs a
// stopped scheduler.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	s.control.Lock()
	defer s.control.Unlock()
	s.mu.Lock()
	if s.status != Stopped {
		st := s.status
		s.mu.Unlock()
		return 0, errs.New(errs.InvalidState, "scheduler.run_once", "scheduler is %s", st)
	}
	s.mu.Unlock()

	n := s.CheckRelationships(ctx)
	for s.hasReady() {
		s.dispatch(ctx)
		s.workers.Wait()
	}
	return n, nil
}

func (s *Scheduler) hasReady() bool {
	now := s.clock.Now()
	for _, t := range s.queue.Snapshot() {
		if !t.ExecuteAt.After(now) {
			return true
		}
	}
	return false
}
