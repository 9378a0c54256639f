package relationship

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/clock"
	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// Status is the outcome class of one sync.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusSkipped
	StatusInProgress
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSkipped:
		return "skipped"
	case StatusInProgress:
		return "in_progress"
	default:
		return "failed"
	}
}

// SyncResult reports what a sync did. Metadata is set for Success, Reason
// for Skipped, Percent for InProgress, and Err for Failed.
type SyncResult struct {
	Status   Status
	Metadata map[string]string
	Reason   string
	Percent  uint8
	Err      error
}

func Success(md map[string]string) SyncResult {
	return SyncResult{Status: StatusSuccess, Metadata: md}
}

func Skipped(reason string) SyncResult {
	return SyncResult{Status: StatusSkipped, Reason: reason}
}

func InProgress(pct uint8) SyncResult {
	return SyncResult{Status: StatusInProgress, Percent: pct}
}

func Failed(err error) SyncResult {
	return SyncResult{Status: StatusFailed, Err: err}
}

// Action values reported in Success metadata under "action".
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionNoop    = "noop"
	ActionKept    = "target_newer"
	ActionGranted = "granted"
)

// ReasonReference is the skip reason for Reference relationships.
const ReasonReference = "Reference relationships don't require synchronization"

// SyncOptions tune one SyncRelationship call.
type SyncOptions struct {
	// Force writes even when the target is unchanged or newer.
	Force bool

	// Timeout bounds the handler. Zero means no limit.
	Timeout time.Duration

	// Validate runs the manager's validator before syncing.
	Validate bool

	// Custom is passed through to custom handlers.
	Custom map[string]string
}

// DefaultSyncOptions returns a 60s timeout with validation on.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{Timeout: 60 * time.Second, Validate: true}
}

// Handler syncs a custom relationship.
type Handler func(ctx context.Context, r *Relationship, opts SyncOptions) (SyncResult, error)

// HistoryEntry records one finished sync.
type HistoryEntry struct {
	Relationship ids.RelationshipID
	Result       SyncResult
	StartedAt    time.Time
	Duration     time.Duration
}

type domainPair struct {
	source, target ids.DomainID
}

// SyncManager reconciles relationships against a ResourceStore.
//
// Thread-safety: all methods are safe for concurrent use. Two syncs of the
// same relationship never overlap; the second reports InProgress.
type SyncManager struct {
	resources *ResourceStore
	validator *Validator
	clock     clock.Source

	mu           sync.RWMutex
	custom       map[string]Handler
	pairHandlers map[domainPair]Handler
	derived      map[domainPair]Transform
	bridges      map[domainPair]BridgeTransform
	history      map[ids.RelationshipID][]HistoryEntry
	lastSync     map[ids.RelationshipID]time.Time
	inFlight     map[ids.RelationshipID]struct{}
	historyLimit int
	fallback     time.Duration
}

// SyncOption configures a SyncManager.
type SyncOption func(*SyncManager)

// WithClock sets the wall-clock source.
func WithClock(src clock.Source) SyncOption {
	return func(m *SyncManager) { m.clock = src }
}

// WithValidator replaces the default Moderate validator.
func WithValidator(v *Validator) SyncOption {
	return func(m *SyncManager) { m.validator = v }
}

// WithHistoryLimit caps the entries kept per relationship.
func WithHistoryLimit(n int) SyncOption {
	return func(m *SyncManager) { m.historyLimit = n }
}

// WithEventDrivenFallback makes EventDriven relationships behave like
// Hybrid(d) in ShouldSync. Zero disables the fallback.
func WithEventDrivenFallback(d time.Duration) SyncOption {
	return func(m *SyncManager) { m.fallback = d }
}

// NewSyncManager returns a manager writing through resources.
func NewSyncManager(resources *ResourceStore, opts ...SyncOption) *SyncManager {
	m := &SyncManager{
		resources:    resources,
		validator:    NewValidator(Moderate),
		clock:        clock.System{},
		custom:       make(map[string]Handler),
		pairHandlers: make(map[domainPair]Handler),
		derived:      make(map[domainPair]Transform),
		bridges:      make(map[domainPair]BridgeTransform),
		history:      make(map[ids.RelationshipID][]HistoryEntry),
		lastSync:     make(map[ids.RelationshipID]time.Time),
		inFlight:     make(map[ids.RelationshipID]struct{}),
		historyLimit: 100,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resources returns the store the manager writes through.
func (m *SyncManager) Resources() *ResourceStore {
	return m.resources
}

// SetEventDrivenFallback changes the EventDriven fallback at runtime.
func (m *SyncManager) SetEventDrivenFallback(d time.Duration) {
	m.mu.Lock()
	m.fallback = d
	m.mu.Unlock()
}

// RegisterCustomHandler handles Custom(name) relationships.
func (m *SyncManager) RegisterCustomHandler(name string, h Handler) {
	m.mu.Lock()
	m.custom[name] = h
	m.mu.Unlock()
}

// RegisterHandler handles custom relationships between two domains when no
// handler is registered for the kind's name.
func (m *SyncManager) RegisterHandler(source, target ids.DomainID, h Handler) {
	m.mu.Lock()
	m.pairHandlers[domainPair{source, target}] = h
	m.mu.Unlock()
}

// RegisterDerived sets the transform for Derived relationships between two
// domains.
func (m *SyncManager) RegisterDerived(source, target ids.DomainID, fn Transform) {
	m.mu.Lock()
	m.derived[domainPair{source, target}] = fn
	m.mu.Unlock()
}

// RegisterDerivedScript compiles a JavaScript transform and registers it.
func (m *SyncManager) RegisterDerivedScript(source, target ids.DomainID, script string) error {
	fn, err := ScriptTransform(script)
	if err != nil {
		return err
	}
	m.RegisterDerived(source, target, fn)
	return nil
}

// RegisterBridge sets the transform pair for Bridge relationships between
// two domains.
func (m *SyncManager) RegisterBridge(source, target ids.DomainID, t BridgeTransform) {
	m.mu.Lock()
	m.bridges[domainPair{source, target}] = t
	m.mu.Unlock()
}

// LastSync returns the time of the last Success or Skipped sync of id.
func (m *SyncManager) LastSync(id ids.RelationshipID) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lastSync[id]
	return t, ok
}

// History returns the recorded syncs of id, oldest first.
func (m *SyncManager) History(id ids.RelationshipID) []HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]HistoryEntry(nil), m.history[id]...)
}

// ShouldSync decides whether r is due at the current clock reading.
func (m *SyncManager) ShouldSync(r *Relationship) bool {
	last, synced := m.LastSync(r.ID)
	m.mu.RLock()
	fallback := m.fallback
	m.mu.RUnlock()
	return Due(r, m.clock.Now(), last, synced, fallback)
}

// Due is the should-sync table. last is meaningful only when synced is
// true. fallback, when positive, gives EventDriven a Hybrid fallback.
func Due(r *Relationship, now, last time.Time, synced bool, fallback time.Duration) bool {
	if !r.Metadata.RequiresSync {
		return false
	}
	s := r.Metadata.Strategy
	switch s.Mode {
	case OneTime:
		return !synced
	case Periodic, Hybrid:
		return !synced || now.Sub(last) >= s.Interval
	case EventDriven:
		if fallback <= 0 {
			return false
		}
		return !synced || now.Sub(last) >= fallback
	default:
		return false
	}
}

// SyncRelationship reconciles r once. Failures are returned both as a
// Failed result and as the error.
//
// On timeout it returns without waiting for the handler. The handler keeps
// running on the expired ctx, and every ResourceStore write checks ctx
// before committing, so a late handler cannot change state after the
// timeout was reported.
func (m *SyncManager) SyncRelationship(ctx context.Context, r *Relationship, opts SyncOptions) (SyncResult, error) {
	const op = "relationship.sync"
	if opts.Validate {
		if res := m.validator.Validate(r); !res.Valid {
			err := res.Err()
			return Failed(err), err
		}
	}

	m.mu.Lock()
	if _, busy := m.inFlight[r.ID]; busy {
		m.mu.Unlock()
		return InProgress(0), nil
	}
	m.inFlight[r.ID] = struct{}{}
	m.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	started := m.clock.Now()
	type outcome struct {
		res SyncResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.inFlight, r.ID)
			m.mu.Unlock()
		}()
		res, err := m.dispatch(ctx, r, opts)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = errs.NewTransient(errs.Timeout, op, "sync of %s: %v", r.ID.Short(), ctx.Err())
	}
	if out.err != nil {
		out.res = Failed(out.err)
	}

	elapsed := m.clock.Now().Sub(started)
	m.record(r.ID, out.res, started, elapsed)
	attrs := []any{"id", r.ID.Short(), "kind", r.Kind, "status", out.res.Status, "duration", elapsed}
	if out.err != nil {
		slog.Warn("sync failed", append(attrs, "error", out.err)...)
	} else {
		slog.Debug("sync finished", attrs...)
	}
	return out.res, out.err
}

func (m *SyncManager) record(id ids.RelationshipID, res SyncResult, started time.Time, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[id], HistoryEntry{Relationship: id, Result: res, StartedAt: started, Duration: elapsed})
	if m.historyLimit > 0 && len(h) > m.historyLimit {
		h = h[len(h)-m.historyLimit:]
	}
	m.history[id] = h
	if res.Status == StatusSuccess || res.Status == StatusSkipped {
		m.lastSync[id] = started
	}
}

func (m *SyncManager) dispatch(ctx context.Context, r *Relationship, opts SyncOptions) (SyncResult, error) {
	switch {
	case r.Kind == Mirror:
		return m.syncMirror(ctx, r, opts)
	case r.Kind == Reference:
		return Skipped(ReasonReference), nil
	case r.Kind == Ownership:
		return m.syncOwnership(ctx, r)
	case r.Kind == Derived:
		return m.syncDerived(ctx, r, opts)
	case r.Kind == Bridge:
		return m.syncBridge(ctx, r, opts)
	case r.Kind.IsCustom():
		return m.syncCustom(ctx, r, opts)
	default:
		return SyncResult{}, errs.New(errs.InvalidArgument, "relationship.sync", "unknown relationship kind %q", r.Kind)
	}
}

func (m *SyncManager) source(r *Relationship) (ResourceState, error) {
	st, ok, err := m.resources.State(r.SourceDomain, r.SourceResource)
	if err != nil {
		return ResourceState{}, err
	}
	if !ok {
		return ResourceState{}, errs.New(errs.DependencyMissing, "relationship.sync",
			"source %s has no state in domain %s", r.SourceResource.Short(), r.SourceDomain.Short())
	}
	return st, nil
}

func result(action string, version uint64) SyncResult {
	return Success(map[string]string{"action": action, "version": fmt.Sprint(version)})
}

// sourceWins breaks a tie between concurrent source and target states by
// the bytes of (domain, resource); the larger key wins.
func sourceWins(r *Relationship) bool {
	key := func(d ids.DomainID, res ids.ResourceID) []byte {
		e := codec.NewEncoder()
		e.Write(d)
		e.Write(res)
		return e.Bytes()
	}
	return bytes.Compare(key(r.SourceDomain, r.SourceResource), key(r.TargetDomain, r.TargetResource)) > 0
}

// syncMirror copies the source state onto the target. The target keeps the
// source's time map so later source writes order after it.
func (m *SyncManager) syncMirror(ctx context.Context, r *Relationship, opts SyncOptions) (SyncResult, error) {
	src, err := m.source(r)
	if err != nil {
		return SyncResult{}, err
	}
	tgt, exists, err := m.resources.State(r.TargetDomain, r.TargetResource)
	if err != nil {
		return SyncResult{}, err
	}
	if exists && !opts.Force {
		if value.Equal(src.Data, tgt.Data) {
			return result(ActionNoop, tgt.Version), nil
		}
		switch src.Time.Compare(tgt.Time) {
		case clock.Before, clock.Equal:
			return result(ActionKept, tgt.Version), nil
		case clock.Concurrent:
			if !sourceWins(r) {
				return result(ActionKept, tgt.Version), nil
			}
		}
	}
	next := ResourceState{Data: value.Clone(src.Data), Version: tgt.Version + 1, Time: src.Time.Clone()}
	if err := m.resources.PutState(ctx, r.TargetDomain, r.TargetResource, next); err != nil {
		return SyncResult{}, err
	}
	if !exists {
		return result(ActionCreated, next.Version), nil
	}
	return result(ActionUpdated, next.Version), nil
}

// syncOwnership grants the source resource write authority on the target.
func (m *SyncManager) syncOwnership(ctx context.Context, r *Relationship) (SyncResult, error) {
	g := Grant{Domain: r.SourceDomain, Resource: r.SourceResource, Mode: "write"}
	changed, err := m.resources.Grant(ctx, r.TargetDomain, r.TargetResource, g)
	if err != nil {
		return SyncResult{}, err
	}
	action := ActionNoop
	if changed {
		action = ActionGranted
	}
	return Success(map[string]string{"action": action}), nil
}

// syncDerived overwrites only the fields the transform produces.
func (m *SyncManager) syncDerived(ctx context.Context, r *Relationship, opts SyncOptions) (SyncResult, error) {
	m.mu.RLock()
	fn := m.derived[domainPair{r.SourceDomain, r.TargetDomain}]
	m.mu.RUnlock()
	if fn == nil {
		return Skipped("no derived transform registered"), nil
	}
	src, err := m.source(r)
	if err != nil {
		return SyncResult{}, err
	}
	fields, err := fn(ctx, src.Data)
	if err != nil {
		return SyncResult{}, err
	}
	tgt, exists, err := m.resources.State(r.TargetDomain, r.TargetResource)
	if err != nil {
		return SyncResult{}, err
	}
	data := value.Object{}
	if obj, ok := tgt.Data.(value.Object); ok {
		data = value.Clone(obj).(value.Object)
	}
	maps.Copy(data, fields)
	if exists && !opts.Force && value.Equal(data, tgt.Data) {
		return result(ActionNoop, tgt.Version), nil
	}
	next := ResourceState{Data: data, Version: tgt.Version + 1, Time: tgt.Time.Merge(src.Time)}
	if err := m.resources.PutState(ctx, r.TargetDomain, r.TargetResource, next); err != nil {
		return SyncResult{}, err
	}
	if !exists {
		return result(ActionCreated, next.Version), nil
	}
	return result(ActionUpdated, next.Version), nil
}

// syncBridge runs Forward from source to target, or Backward when a
// bidirectional bridge's target is causally newer than its source.
func (m *SyncManager) syncBridge(ctx context.Context, r *Relationship, opts SyncOptions) (SyncResult, error) {
	m.mu.RLock()
	t, ok := m.bridges[domainPair{r.SourceDomain, r.TargetDomain}]
	m.mu.RUnlock()
	if !ok || t.Forward == nil {
		return Skipped("no bridge transform registered"), nil
	}

	src, srcOK, err := m.resources.State(r.SourceDomain, r.SourceResource)
	if err != nil {
		return SyncResult{}, err
	}
	tgt, tgtOK, err := m.resources.State(r.TargetDomain, r.TargetResource)
	if err != nil {
		return SyncResult{}, err
	}

	toDomain, toRes := r.TargetDomain, r.TargetResource
	from, to, toOK, fn, direction := src, tgt, tgtOK, t.Forward, "forward"
	backward := r.Bidirectional && t.Backward != nil && tgtOK &&
		(!srcOK || tgt.Time.Compare(src.Time) == clock.After)
	if backward {
		toDomain, toRes = r.SourceDomain, r.SourceResource
		from, to, toOK, fn, direction = tgt, src, srcOK, t.Backward, "backward"
	} else if !srcOK {
		return SyncResult{}, errs.New(errs.DependencyMissing, "relationship.sync",
			"source %s has no state in domain %s", r.SourceResource.Short(), r.SourceDomain.Short())
	}

	data, err := fn(ctx, from.Data)
	if err != nil {
		return SyncResult{}, err
	}
	md := map[string]string{"direction": direction}
	if toOK && !opts.Force && value.Equal(data, to.Data) {
		md["action"] = ActionNoop
		return Success(md), nil
	}
	next := ResourceState{Data: data, Version: to.Version + 1, Time: to.Time.Merge(from.Time)}
	if err := m.resources.PutState(ctx, toDomain, toRes, next); err != nil {
		return SyncResult{}, err
	}
	md["action"] = ActionUpdated
	if !toOK {
		md["action"] = ActionCreated
	}
	md["version"] = fmt.Sprint(next.Version)
	return Success(md), nil
}

func (m *SyncManager) syncCustom(ctx context.Context, r *Relationship, opts SyncOptions) (SyncResult, error) {
	m.mu.RLock()
	h, ok := m.custom[r.Kind.CustomName()]
	if !ok {
		h, ok = m.pairHandlers[domainPair{r.SourceDomain, r.TargetDomain}]
	}
	m.mu.RUnlock()
	if !ok {
		return Skipped(fmt.Sprintf("no handler registered for %s", r.Kind)), nil
	}
	return h(ctx, r, opts)
}
