package ingest

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/edvin/wsbridge/internal/backoff"
	"github.com/edvin/wsbridge/internal/messaging"
	"github.com/edvin/wsbridge/internal/model"
)

// Engine consumes the one-directional event stream a subscriber produces.
type Engine interface {
	Submit(ctx context.Context, ev model.InstanceStatusEvent) error
}

// DegradedReporter receives the channel's health signal for a cluster. The
// signal never changes cluster state.
type DegradedReporter interface {
	MarkDegraded(name string, degraded bool)
}

type Config struct {
	// QueueSize bounds the per-cluster queue; on saturation the oldest
	// queued event is dropped, since newer state supersedes older state for
	// the same instance.
	QueueSize int
	// MaxFailures is the consecutive-subscribe-failure threshold for the
	// degraded signal.
	MaxFailures int
	RetryBase   time.Duration
	RetryCap    time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 30 * time.Second
	}
}

// subscriber owns one cluster's subscription: it decodes and validates
// events off the wire, buffers them in a bounded drop-oldest queue, and
// forwards them to the engine. It never blocks the NATS callback on engine
// backpressure.
type subscriber struct {
	cluster  string
	conn     *nats.Conn
	engine   Engine
	registry DegradedReporter
	logger   zerolog.Logger
	cfg      Config

	queue    chan model.InstanceStatusEvent
	healthy  atomic.Bool
	degraded atomic.Bool
}

func newSubscriber(cluster string, conn *nats.Conn, engine Engine, registry DegradedReporter, logger zerolog.Logger, cfg Config) *subscriber {
	cfg.applyDefaults()
	return &subscriber{
		cluster:  cluster,
		conn:     conn,
		engine:   engine,
		registry: registry,
		logger:   logger.With().Str("component", "ingest").Str("cluster", cluster).Logger(),
		cfg:      cfg,
		queue:    make(chan model.InstanceStatusEvent, cfg.QueueSize),
	}
}

// run maintains the subscription until ctx is cancelled, retrying subscribe
// failures with exponential backoff and full jitter.
func (s *subscriber) run(ctx context.Context) {
	go s.forward(ctx)

	subject := messaging.InstanceEventsSubject(s.cluster)
	failures := 0
	for {
		sub, err := s.conn.Subscribe(subject, s.handleMsg)
		if err != nil {
			failures++
			s.setHealthy(false)
			if failures >= s.cfg.MaxFailures {
				s.setDegraded(true)
			}
			s.logger.Warn().Err(err).Int("failures", failures).Msg("subscribe failed, backing off")

			select {
			case <-time.After(backoff.Delay(s.cfg.RetryBase, s.cfg.RetryCap, failures-1)):
				continue
			case <-ctx.Done():
				return
			}
		}

		failures = 0
		s.setHealthy(true)
		s.setDegraded(false)
		s.logger.Info().Str("subject", subject).Msg("subscribed to cluster events")

		s.watchConnection(ctx)
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug().Err(err).Msg("unsubscribe failed")
		}
		s.setHealthy(false)
		return
	}
}

// watchConnection polls the transport state while the subscription is live
// and returns when ctx is cancelled. A NATS subscription stays formally valid
// through a client reconnect, so subscribe errors alone never surface an
// outage: a lost connection flips the subscription unhealthy, and past
// MaxFailures consecutive down ticks the cluster is marked degraded. Both
// clear once the client reconnects.
func (s *subscriber) watchConnection(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RetryBase)
	defer ticker.Stop()

	down := 0
	for {
		select {
		case <-ticker.C:
			if s.conn.IsConnected() {
				down = 0
				s.setHealthy(true)
				s.setDegraded(false)
				continue
			}
			down++
			s.setHealthy(false)
			if down >= s.cfg.MaxFailures {
				s.setDegraded(true)
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleMsg runs on the NATS delivery goroutine; it must not block.
func (s *subscriber) handleMsg(msg *nats.Msg) {
	receivedEvents.WithLabelValues(s.cluster).Inc()

	var ev model.InstanceStatusEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		malformedEvents.WithLabelValues(s.cluster).Inc()
		s.logger.Warn().Err(err).Msg("dropping unparseable event")
		return
	}
	if err := ev.Validate(); err != nil {
		malformedEvents.WithLabelValues(s.cluster).Inc()
		s.logger.Warn().Err(err).Str("instance_id", ev.InstanceID).Msg("dropping malformed event")
		return
	}

	s.enqueue(ev)
}

func (s *subscriber) enqueue(ev model.InstanceStatusEvent) {
	select {
	case s.queue <- ev:
		return
	default:
	}

	// Queue saturated: make room by discarding the oldest event.
	select {
	case old := <-s.queue:
		droppedEvents.WithLabelValues(s.cluster).Inc()
		s.logger.Warn().Str("instance_id", old.InstanceID).Msg("ingest queue saturated, dropped oldest event")
	default:
	}
	select {
	case s.queue <- ev:
	default:
		droppedEvents.WithLabelValues(s.cluster).Inc()
	}
}

func (s *subscriber) forward(ctx context.Context) {
	for {
		select {
		case ev := <-s.queue:
			if err := s.engine.Submit(ctx, ev); err != nil {
				s.logger.Warn().Err(err).Str("instance_id", ev.InstanceID).Msg("engine rejected event")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscriber) setHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

func (s *subscriber) setDegraded(degraded bool) {
	if s.degraded.Swap(degraded) == degraded {
		return
	}
	if degraded {
		degradedClusters.Inc()
		s.logger.Warn().Msg("cluster subscription degraded")
	} else {
		degradedClusters.Dec()
	}
	s.registry.MarkDegraded(s.cluster, degraded)
}
