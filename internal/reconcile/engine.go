package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edvin/wsbridge/internal/backoff"
	"github.com/edvin/wsbridge/internal/model"
	"github.com/edvin/wsbridge/internal/store"
)

// ErrStopped is returned by Submit once the engine no longer accepts events.
var ErrStopped = errors.New("reconciliation engine stopped")

// errEventDropped marks events that were resolved without a store write
// (stale duplicates, cluster mismatches). Not an error to the caller.
var errEventDropped = errors.New("event dropped")

// InstanceStore is the persistence surface the engine writes instances
// through.
type InstanceStore interface {
	GetByID(ctx context.Context, instanceID string) (*model.WorkspaceInstance, error)
	Apply(ctx context.Context, inst *model.WorkspaceInstance, metrics json.RawMessage) error
}

// DeadLetterSink receives events that exhausted their persistence retries.
type DeadLetterSink interface {
	Insert(ctx context.Context, ev *model.DeadLetterEvent) error
}

// ClusterResolver validates incoming events' cluster references.
type ClusterResolver interface {
	Resolve(name string) (model.WorkspaceCluster, bool)
}

type Config struct {
	// Lanes is the number of serialized apply lanes; 0 means one per
	// available CPU.
	Lanes       int
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
	IOTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Lanes <= 0 {
		c.Lanes = runtime.GOMAXPROCS(0)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 30 * time.Second
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 10 * time.Second
	}
}

// Engine converts an unordered, duplicate-prone event stream into a
// linearizable-per-instance view in the store. Events are fanned out across
// lanes by instance id hash: events for the same instance are applied by a
// single goroutine in arrival order, events for different instances proceed
// concurrently.
type Engine struct {
	resolver    ClusterResolver
	instances   InstanceStore
	deadLetters DeadLetterSink
	logger      zerolog.Logger
	cfg         Config

	lanes []chan model.InstanceStatusEvent
	wg    sync.WaitGroup
	// submitters counts Submit calls between the stopped check and the lane
	// send; Stop waits for it before closing the lanes.
	submitters sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	// abort makes draining lanes dead-letter instead of applying, once the
	// shutdown timeout has passed.
	abort chan struct{}
}

func New(resolver ClusterResolver, instances InstanceStore, deadLetters DeadLetterSink, logger zerolog.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		resolver:    resolver,
		instances:   instances,
		deadLetters: deadLetters,
		logger:      logger.With().Str("component", "reconcile").Logger(),
		cfg:         cfg,
		abort:       make(chan struct{}),
	}
	e.lanes = make([]chan model.InstanceStatusEvent, cfg.Lanes)
	for i := range e.lanes {
		e.lanes[i] = make(chan model.InstanceStatusEvent, 64)
	}
	return e
}

// Start launches the apply lanes. It returns immediately.
func (e *Engine) Start() {
	for _, ch := range e.lanes {
		e.wg.Add(1)
		go e.laneLoop(ch)
	}
	e.logger.Info().Int("lanes", e.cfg.Lanes).Msg("reconciliation engine started")
}

// Submit routes an event onto its instance's lane. It blocks while the lane
// is full (backpressure to the ingestion queue) and fails with ErrStopped
// after Stop.
func (e *Engine) Submit(ctx context.Context, ev model.InstanceStatusEvent) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.submitters.Add(1)
	lane := e.lanes[laneFor(ev.InstanceID, len(e.lanes))]
	e.mu.Unlock()
	defer e.submitters.Done()

	select {
	case lane <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops intake and drains in-flight events. Events still queued when
// drainTimeout expires are dead-lettered rather than silently discarded.
func (e *Engine) Stop(drainTimeout time.Duration) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	// Submits that passed the stopped check may still be parked on a full
	// lane; the lanes keep draining, so they finish. Only then is closing
	// safe.
	e.submitters.Wait()
	for _, lane := range e.lanes {
		close(lane)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info().Msg("reconciliation engine drained")
	case <-time.After(drainTimeout):
		e.logger.Warn().Msg("drain timeout exceeded, dead-lettering queued events")
		close(e.abort)
		<-done
	}
}

func (e *Engine) laneLoop(ch <-chan model.InstanceStatusEvent) {
	defer e.wg.Done()
	for ev := range ch {
		select {
		case <-e.abort:
			e.deadLetter(ev, e.cfg.MaxAttempts, errors.New("undrained at shutdown"))
		default:
			e.handle(ev)
		}
	}
}

// handle runs the full reconciliation algorithm for one event. Per-event
// errors never escape: they end in a drop, a partial apply, or the
// dead-letter path.
func (e *Engine) handle(ev model.InstanceStatusEvent) {
	cluster, ok := e.resolver.Resolve(ev.ClusterName)
	if !ok {
		unknownClusterEvents.Inc()
		e.logger.Warn().Str("cluster", ev.ClusterName).Str("instance_id", ev.InstanceID).
			Msg("dropping event for unknown cluster")
		return
	}
	if cluster.Deleted || cluster.State == model.ClusterDeleted {
		eventsForDeletedCluster.Inc()
		e.logger.Warn().Str("cluster", ev.ClusterName).Str("instance_id", ev.InstanceID).
			Msg("dropping event for deleted cluster")
		return
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff.Delay(e.cfg.RetryBase, e.cfg.RetryCap, attempt-1))
		}

		err := e.applyOnce(ev)
		if err == nil {
			eventsApplied.Inc()
			return
		}
		if errors.Is(err, errEventDropped) {
			return
		}

		lastErr = err
		e.logger.Warn().Err(err).Str("instance_id", ev.InstanceID).Int("attempt", attempt+1).
			Msg("transient failure applying event")
	}

	e.deadLetter(ev, e.cfg.MaxAttempts, lastErr)
}

func (e *Engine) applyOnce(ev model.InstanceStatusEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.IOTimeout)
	defer cancel()

	inst, err := e.instances.GetByID(ctx, ev.InstanceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First report for this instance id creates the row; no separate
		// create event exists.
		inst = &model.WorkspaceInstance{
			InstanceID:     ev.InstanceID,
			WorkspaceID:    ev.WorkspaceID,
			ClusterName:    ev.ClusterName,
			Phase:          model.PhaseUnknown,
			PhasePersisted: model.PhaseUnknown,
			Configuration:  ev.Configuration,
		}
	case err != nil:
		return err
	}

	if !ev.Supersedes(inst.LastModified, inst.Sequence) {
		staleEvents.Inc()
		return errEventDropped
	}

	if inst.ClusterName != ev.ClusterName && !inst.Deleted {
		// Cross-cluster migration anomaly: never silently reassign.
		clusterMismatches.Inc()
		e.logger.Error().Str("instance_id", ev.InstanceID).
			Str("owner", inst.ClusterName).Str("reporter", ev.ClusterName).
			Msg("cluster mismatch, keeping existing record")
		return errEventDropped
	}

	phase := ev.Phase
	if phase.RegressesFrom(inst.Phase) {
		// Reject the phase component but let the timestamp and metrics
		// advance; a regressed report must not corrupt progress tracking.
		phaseRegressions.Inc()
		e.logger.Warn().Str("instance_id", ev.InstanceID).
			Str("current", string(inst.Phase)).Str("reported", string(ev.Phase)).
			Msg("phase regression rejected")
		phase = inst.Phase
	}

	inst.Phase = phase
	inst.PhasePersisted = phase
	inst.Sequence = ev.Sequence
	inst.LastModified = ev.Timestamp

	return e.instances.Apply(ctx, inst, ev.Metrics)
}

func (e *Engine) deadLetter(ev model.InstanceStatusEvent, attempts int, cause error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		payload = []byte("{}")
	}

	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.IOTimeout)
	defer cancel()

	dl := &model.DeadLetterEvent{
		ID:          uuid.NewString(),
		ClusterName: ev.ClusterName,
		InstanceID:  ev.InstanceID,
		Payload:     payload,
		Reason:      reason,
		Attempts:    attempts,
	}
	if err := e.deadLetters.Insert(ctx, dl); err != nil {
		e.logger.Error().Err(err).Str("instance_id", ev.InstanceID).
			Msg("failed to park event on dead-letter path")
		return
	}

	deadLetteredEvents.Inc()
	e.logger.Error().Str("instance_id", ev.InstanceID).Str("dead_letter_id", dl.ID).
		Str("reason", reason).Msg("event dead-lettered")
}

func laneFor(instanceID string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(instanceID))
	return int(h.Sum32() % uint32(lanes))
}

// Replay resubmits a dead-lettered event through the normal pipeline.
func (e *Engine) Replay(ctx context.Context, payload json.RawMessage) error {
	var ev model.InstanceStatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode dead letter payload: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	return e.Submit(ctx, ev)
}
