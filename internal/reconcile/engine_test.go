package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/wsbridge/internal/model"
	"github.com/edvin/wsbridge/internal/store"
)

// ---------- Fakes ----------

type fakeInstanceStore struct {
	mu        sync.Mutex
	instances map[string]*model.WorkspaceInstance
	metrics   map[string]json.RawMessage
	applied   []model.Phase
	failures  int

	// applyGate, when set, parks every Apply until the channel is closed;
	// applyEntered receives one signal per Apply entry.
	applyGate    chan struct{}
	applyEntered chan struct{}
}

func newFakeInstanceStore() *fakeInstanceStore {
	return &fakeInstanceStore{
		instances: make(map[string]*model.WorkspaceInstance),
		metrics:   make(map[string]json.RawMessage),
	}
}

func (f *fakeInstanceStore) GetByID(ctx context.Context, id string) (*model.WorkspaceInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (f *fakeInstanceStore) Apply(ctx context.Context, inst *model.WorkspaceInstance, metrics json.RawMessage) error {
	if f.applyEntered != nil {
		f.applyEntered <- struct{}{}
	}
	if f.applyGate != nil {
		<-f.applyGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("transient store failure")
	}
	cp := *inst
	f.instances[inst.InstanceID] = &cp
	f.applied = append(f.applied, inst.Phase)
	if metrics != nil {
		f.metrics[inst.InstanceID] = metrics
	}
	return nil
}

func (f *fakeInstanceStore) get(id string) *model.WorkspaceInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[id]
}

type fakeDeadLetters struct {
	mu     sync.Mutex
	events []model.DeadLetterEvent
}

func (f *fakeDeadLetters) Insert(ctx context.Context, ev *model.DeadLetterEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

type fakeResolver struct {
	clusters map[string]model.WorkspaceCluster
}

func (f *fakeResolver) Resolve(name string) (model.WorkspaceCluster, bool) {
	c, ok := f.clusters[name]
	return c, ok
}

func newTestEngine(t *testing.T) (*Engine, *fakeInstanceStore, *fakeDeadLetters) {
	t.Helper()
	instances := newFakeInstanceStore()
	deadLetters := &fakeDeadLetters{}
	resolver := &fakeResolver{clusters: map[string]model.WorkspaceCluster{
		"eu-west-1": {Name: "eu-west-1", State: model.ClusterAvailable},
		"us-east-1": {Name: "us-east-1", State: model.ClusterAvailable},
		"graveyard": {Name: "graveyard", State: model.ClusterDeleted, Deleted: true},
	}}
	e := New(resolver, instances, deadLetters, zerolog.Nop(), Config{
		Lanes:       2,
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
		RetryCap:    2 * time.Millisecond,
		IOTimeout:   time.Second,
	})
	return e, instances, deadLetters
}

func event(instanceID string, phase model.Phase, ts int64, seq uint64) model.InstanceStatusEvent {
	return model.InstanceStatusEvent{
		InstanceID:  instanceID,
		ClusterName: "eu-west-1",
		Phase:       phase,
		Sequence:    seq,
		Timestamp:   time.Unix(ts, 0).UTC(),
	}
}

// ---------- Scenarios ----------

func TestEngine_CreatesInstanceOnFirstReport(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	ev := event("i-1", model.PhaseCreating, 100, 1)
	ev.WorkspaceID = "ws-1"
	e.handle(ev)

	inst := instances.get("i-1")
	require.NotNil(t, inst)
	assert.Equal(t, model.PhaseCreating, inst.Phase)
	assert.Equal(t, model.PhaseCreating, inst.PhasePersisted)
	assert.Equal(t, "ws-1", inst.WorkspaceID)
	assert.Equal(t, "eu-west-1", inst.ClusterName)
}

func TestEngine_Idempotence(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	ev := event("i-1", model.PhaseRunning, 100, 1)
	e.handle(ev)
	first := *instances.get("i-1")

	e.handle(ev)
	second := *instances.get("i-1")

	assert.Equal(t, first, second, "duplicate application must be a no-op")
	assert.Len(t, instances.applied, 1)
}

func TestEngine_LateDuplicate(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	e.handle(event("i-1", model.PhaseRunning, 100, 1))
	// Late retransmission of an older report.
	e.handle(event("i-1", model.PhaseCreating, 90, 1))

	inst := instances.get("i-1")
	assert.Equal(t, model.PhaseRunning, inst.Phase)
	assert.Equal(t, time.Unix(100, 0).UTC(), inst.LastModified)
}

func TestEngine_SequenceBreaksTimestampTies(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	e.handle(event("i-1", model.PhaseCreating, 100, 1))
	e.handle(event("i-1", model.PhaseInitializing, 100, 2))
	// Same timestamp, lower sequence: stale.
	e.handle(event("i-1", model.PhaseStopped, 100, 1))

	assert.Equal(t, model.PhaseInitializing, instances.get("i-1").Phase)
}

func TestEngine_PhaseRegression_PartialApply(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	e.handle(event("i-2", model.PhaseRunning, 100, 1))
	// Newer event reporting an earlier phase: phase kept, clock advances.
	e.handle(event("i-2", model.PhasePending, 200, 5))

	inst := instances.get("i-2")
	assert.Equal(t, model.PhaseRunning, inst.Phase)
	assert.Equal(t, time.Unix(200, 0).UTC(), inst.LastModified)
	assert.Equal(t, uint64(5), inst.Sequence)
}

func TestEngine_RegressionStillAppliesMetrics(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	e.handle(event("i-2", model.PhaseRunning, 100, 1))

	ev := event("i-2", model.PhasePending, 200, 5)
	ev.Metrics = json.RawMessage(`{"cpu":0.9}`)
	e.handle(ev)

	assert.Equal(t, model.PhaseRunning, instances.get("i-2").Phase)
	assert.JSONEq(t, `{"cpu":0.9}`, string(instances.metrics["i-2"]))
}

func TestEngine_StoppedIsTerminal(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	e.handle(event("i-1", model.PhaseStopped, 100, 1))
	e.handle(event("i-1", model.PhaseRunning, 200, 1))

	assert.Equal(t, model.PhaseStopped, instances.get("i-1").Phase)
}

func TestEngine_InterruptedResumesRunning(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	e.handle(event("i-1", model.PhaseRunning, 100, 1))
	e.handle(event("i-1", model.PhaseInterrupted, 110, 1))
	e.handle(event("i-1", model.PhaseRunning, 120, 1))

	assert.Equal(t, model.PhaseRunning, instances.get("i-1").Phase)
}

func TestEngine_UnknownCluster(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	ev := event("i-1", model.PhaseRunning, 100, 1)
	ev.ClusterName = "ghost"
	e.handle(ev)

	assert.Nil(t, instances.get("i-1"), "no row created for unknown cluster")
}

func TestEngine_DeletedCluster(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	ev := event("i-1", model.PhaseRunning, 100, 1)
	ev.ClusterName = "graveyard"
	e.handle(ev)

	assert.Nil(t, instances.get("i-1"), "events for deleted clusters are dropped")
}

func TestEngine_ClusterMismatch(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	e.handle(event("i-1", model.PhaseRunning, 100, 1))

	ev := event("i-1", model.PhaseStopping, 200, 1)
	ev.ClusterName = "us-east-1"
	e.handle(ev)

	inst := instances.get("i-1")
	assert.Equal(t, "eu-west-1", inst.ClusterName, "never silently reassigned")
	assert.Equal(t, model.PhaseRunning, inst.Phase)
	assert.Equal(t, time.Unix(100, 0).UTC(), inst.LastModified)
}

func TestEngine_OrderingConvergence(t *testing.T) {
	e, instances, _ := newTestEngine(t)

	// Shuffled interleaving of one instance's history.
	e.handle(event("i-1", model.PhaseInitializing, 40, 1))
	e.handle(event("i-1", model.PhasePending, 20, 1))
	e.handle(event("i-1", model.PhaseRunning, 50, 1))
	e.handle(event("i-1", model.PhaseCreating, 30, 1))
	e.handle(event("i-1", model.PhasePreparing, 10, 1))

	inst := instances.get("i-1")
	assert.Equal(t, model.PhaseRunning, inst.Phase, "greatest accepted tuple wins")
	assert.Equal(t, time.Unix(50, 0).UTC(), inst.LastModified)
}

func TestEngine_RetriesTransientFailures(t *testing.T) {
	e, instances, deadLetters := newTestEngine(t)

	instances.failures = 2
	e.handle(event("i-1", model.PhaseRunning, 100, 1))

	assert.Equal(t, model.PhaseRunning, instances.get("i-1").Phase)
	assert.Empty(t, deadLetters.events)
}

func TestEngine_DeadLettersAfterRetriesExhaust(t *testing.T) {
	e, instances, deadLetters := newTestEngine(t)

	instances.failures = 10
	e.handle(event("i-1", model.PhaseRunning, 100, 1))

	require.Len(t, deadLetters.events, 1)
	dl := deadLetters.events[0]
	assert.Equal(t, "i-1", dl.InstanceID)
	assert.Equal(t, "eu-west-1", dl.ClusterName)
	assert.Equal(t, 3, dl.Attempts)
	assert.NotEmpty(t, dl.ID)

	var ev model.InstanceStatusEvent
	require.NoError(t, json.Unmarshal(dl.Payload, &ev))
	assert.Equal(t, model.PhaseRunning, ev.Phase)
}

func TestEngine_SubmitSerializesPerInstance(t *testing.T) {
	e, instances, _ := newTestEngine(t)
	e.Start()

	ctx := context.Background()
	phases := []model.Phase{
		model.PhasePreparing, model.PhasePending, model.PhaseCreating,
		model.PhaseInitializing, model.PhaseRunning,
	}
	for i, p := range phases {
		require.NoError(t, e.Submit(ctx, event("i-1", p, int64(100+i), 1)))
	}
	e.Stop(5 * time.Second)

	inst := instances.get("i-1")
	require.NotNil(t, inst)
	assert.Equal(t, model.PhaseRunning, inst.Phase)
	assert.Equal(t, phases, instances.applied, "same-instance events apply in submission order")
}

func TestEngine_StopWithBlockedSubmit(t *testing.T) {
	instances := newFakeInstanceStore()
	instances.applyGate = make(chan struct{})
	instances.applyEntered = make(chan struct{}, 128)
	deadLetters := &fakeDeadLetters{}
	resolver := &fakeResolver{clusters: map[string]model.WorkspaceCluster{
		"eu-west-1": {Name: "eu-west-1", State: model.ClusterAvailable},
	}}
	e := New(resolver, instances, deadLetters, zerolog.Nop(), Config{
		Lanes:       1,
		MaxAttempts: 1,
		RetryBase:   time.Millisecond,
		RetryCap:    time.Millisecond,
		IOTimeout:   time.Second,
	})
	e.Start()

	ctx := context.Background()

	// The first event parks the lane inside the store; every further event
	// piles up in the lane buffer.
	require.NoError(t, e.Submit(ctx, event("i-1", model.PhasePreparing, 100, 1)))
	select {
	case <-instances.applyEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("lane never reached the store")
	}
	queued := cap(e.lanes[0])
	for i := 0; i < queued; i++ {
		require.NoError(t, e.Submit(ctx, event("i-1", model.PhasePending, int64(101+i), 1)))
	}

	// This submit finds the lane full and blocks in the send.
	blocked := make(chan error, 1)
	go func() {
		blocked <- e.Submit(ctx, event("i-1", model.PhaseRunning, 500, 1))
	}()
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		e.Stop(10 * time.Second)
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)

	close(instances.applyGate)

	select {
	case err := <-blocked:
		require.NoError(t, err, "a submit in flight before Stop must complete, not panic")
	case <-time.After(5 * time.Second):
		t.Fatal("blocked submit never returned")
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never drained")
	}

	assert.Empty(t, deadLetters.events, "drained events are applied, not parked")
	assert.Len(t, instances.applied, queued+2)
	assert.Equal(t, model.PhaseRunning, instances.get("i-1").Phase)
	assert.ErrorIs(t, e.Submit(ctx, event("i-1", model.PhaseStopping, 600, 1)), ErrStopped)
}

func TestEngine_SubmitAfterStop(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Start()
	e.Stop(time.Second)

	err := e.Submit(context.Background(), event("i-1", model.PhaseRunning, 100, 1))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_Replay(t *testing.T) {
	e, instances, _ := newTestEngine(t)
	e.Start()
	defer e.Stop(time.Second)

	payload, err := json.Marshal(event("i-9", model.PhaseRunning, 100, 1))
	require.NoError(t, err)

	require.NoError(t, e.Replay(context.Background(), payload))

	require.Eventually(t, func() bool {
		return instances.get("i-9") != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.PhaseRunning, instances.get("i-9").Phase)

	assert.Error(t, e.Replay(context.Background(), json.RawMessage(`{"instanceId":""}`)))
}
