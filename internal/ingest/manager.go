package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/edvin/wsbridge/internal/model"
)

// Registry is the cluster registry surface the manager consumes.
type Registry interface {
	List(state model.ClusterState) []model.WorkspaceCluster
	Watch() <-chan struct{}
	MarkDegraded(name string, degraded bool)
}

// Manager keeps one running subscriber per registered, non-deleted cluster.
// It reacts to registry mutations: a newly registered cluster gains a
// subscription, a deleted cluster has its subscription cancelled without
// affecting the others.
type Manager struct {
	conn     *nats.Conn
	engine   Engine
	registry Registry
	logger   zerolog.Logger
	cfg      Config

	mu   sync.Mutex
	subs map[string]*runningSub
}

type runningSub struct {
	sub    *subscriber
	cancel context.CancelFunc
}

func NewManager(conn *nats.Conn, engine Engine, registry Registry, logger zerolog.Logger, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		conn:     conn,
		engine:   engine,
		registry: registry,
		logger:   logger.With().Str("component", "ingest").Logger(),
		cfg:      cfg,
		subs:     make(map[string]*runningSub),
	}
}

// Run reconciles the subscriber set against the registry until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	watch := m.registry.Watch()
	// Periodic resync as a safety net for missed signals.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.resync(ctx)
	for {
		select {
		case <-watch:
			m.resync(ctx)
		case <-ticker.C:
			m.resync(ctx)
		case <-ctx.Done():
			m.stopAll()
			return nil
		}
	}
}

func (m *Manager) resync(ctx context.Context) {
	desired := make(map[string]struct{})
	for _, cluster := range m.registry.List("") {
		if cluster.Deleted || cluster.State == model.ClusterDeleted {
			continue
		}
		desired[cluster.Name] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, running := range m.subs {
		if _, ok := desired[name]; !ok {
			running.cancel()
			delete(m.subs, name)
			m.logger.Info().Str("cluster", name).Msg("cluster subscription cancelled")
		}
	}

	for name := range desired {
		if _, ok := m.subs[name]; ok {
			continue
		}
		subCtx, cancel := context.WithCancel(ctx)
		sub := newSubscriber(name, m.conn, m.engine, m.registry, m.logger, m.cfg)
		m.subs[name] = &runningSub{sub: sub, cancel: cancel}
		go sub.run(subCtx)
		m.logger.Info().Str("cluster", name).Msg("cluster subscription started")
	}
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, running := range m.subs {
		running.cancel()
		delete(m.subs, name)
	}
}

// Healthy reports whether the transport is connected and at least one
// cluster subscription is live. Feeds the /healthz endpoint.
func (m *Manager) Healthy() bool {
	if !m.conn.IsConnected() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, running := range m.subs {
		if running.sub.healthy.Load() {
			return true
		}
	}
	return false
}
