package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lorawatch/internal/device"
	"github.com/nerrad567/lorawatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/lorawatch/internal/uplink"
)

// Pipeline defaults.
const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultBackoff   = 5 * time.Second
)

// Broker is the MQTT session the pipeline drives. *mqtt.Client satisfies it.
type Broker interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	HasSubscription(topic string) bool
	SetOnDisconnect(callback func(err error))
	Close() error
}

// StateStore receives every accepted uplink. *device.Store satisfies it.
type StateStore interface {
	Upsert(ev uplink.Event) (device.State, error)
	Seal()
}

// Persister queues a state for durable storage without blocking.
type Persister interface {
	Enqueue(state device.State)
}

// Notifier pushes a state to live subscribers without blocking.
type Notifier interface {
	Notify(state device.State)
}

// Exporter writes per-uplink telemetry without blocking.
type Exporter interface {
	WriteUplink(state device.State)
}

// Logger defines the logging interface used by the Pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config controls the pipeline.
type Config struct {
	// ApplicationID restricts the subscription to one ChirpStack
	// application. Empty subscribes to all applications.
	ApplicationID string

	// QoS for the uplink subscription.
	QoS byte

	// Workers is the number of worker goroutines, each with its own queue.
	Workers int

	// QueueSize is the capacity of each worker queue.
	QueueSize int

	// Backoff is the fixed wait between connection attempts.
	Backoff time.Duration
}

// Deps holds the pipeline's collaborators. Broker and Store are required.
type Deps struct {
	Broker    Broker
	Store     StateStore
	Persister Persister
	Notifier  Notifier
	Exporter  Exporter
	Logger    Logger
}

// Stats reports pipeline counters.
type Stats struct {
	State      string `json:"state"`
	Received   int64  `json:"received"`
	Accepted   int64  `json:"accepted"`
	Malformed  int64  `json:"malformed"`
	Ignored    int64  `json:"ignored"`
	Dropped    int64  `json:"dropped"`
	Reconnects int64  `json:"reconnects"`
	QueueDepth int    `json:"queue_depth"`
}

// Pipeline consumes ChirpStack uplinks from the broker and applies them.
//
// Broker callbacks decode each message and hand it to one of Workers
// bounded queues chosen by hashing the device EUI, so uplinks for one
// device are applied in arrival order while different devices proceed in
// parallel. A full queue blocks the broker callback, which holds back the
// broker client rather than dropping messages.
//
// Each worker applies the uplink to the store and then hands the resulting
// state to the persister, notifier and exporter, none of which block.
type Pipeline struct {
	cfg    Config
	broker Broker
	store  StateStore

	persister Persister
	notifier  Notifier
	exporter  Exporter
	logger    Logger

	now   func() time.Time
	topic string

	state  atomic.Int32
	queues []chan uplink.Event
	lost   chan error

	// Shutdown runs in three steps: stopping releases handlers blocked on a
	// full queue, closed (under enqueueMu) turns away late deliveries, and
	// drain tells workers to empty their queues and exit.
	stopping  chan struct{}
	enqueueMu sync.RWMutex
	closed    bool
	drain     chan struct{}

	received   atomic.Int64
	accepted   atomic.Int64
	malformed  atomic.Int64
	ignored    atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

// New creates a pipeline. Zero Workers, QueueSize and Backoff take their
// defaults (4, 256, 5s).
//
// Parameters:
//   - cfg: Subscription and worker settings
//   - deps: Collaborators; Broker and Store must be non-nil
//
// Returns:
//   - *Pipeline: Ready to Run
//   - error: ErrMissingDependency or ErrInvalidConfig
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Broker == nil {
		return nil, fmt.Errorf("%w: broker", ErrMissingDependency)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if cfg.Workers < 0 || cfg.QueueSize < 0 || cfg.Backoff < 0 {
		return nil, fmt.Errorf("%w: negative workers, queue size or backoff", ErrInvalidConfig)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidConfig, cfg.QoS)
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = defaultBackoff
	}

	p := &Pipeline{
		cfg:       cfg,
		broker:    deps.Broker,
		store:     deps.Store,
		persister: deps.Persister,
		notifier:  deps.Notifier,
		exporter:  deps.Exporter,
		logger:    deps.Logger,
		now:       time.Now,
		topic:     mqtt.Topics{}.AllUplinks(cfg.ApplicationID),
		queues:    make([]chan uplink.Event, cfg.Workers),
		lost:      make(chan error, 1),
		stopping:  make(chan struct{}),
		drain:     make(chan struct{}),
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	for i := range p.queues {
		p.queues[i] = make(chan uplink.Event, cfg.QueueSize)
	}

	p.broker.SetOnDisconnect(p.connectionLost)
	return p, nil
}

// Topic returns the uplink subscription pattern.
func (p *Pipeline) Topic() string {
	return p.topic
}

// HealthCheck fails unless the pipeline is subscribed and the broker
// session still holds the uplink subscription.
func (p *Pipeline) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s := p.State(); s != StateSubscribed {
		return fmt.Errorf("%w: state %s", ErrNotSubscribed, s)
	}
	if !p.broker.HasSubscription(p.topic) {
		return fmt.Errorf("%w: session has no subscription for %s", ErrNotSubscribed, p.topic)
	}
	return nil
}

// State returns the current connection state.
func (p *Pipeline) State() ConnState {
	return ConnState(p.state.Load())
}

func (p *Pipeline) setState(s ConnState) {
	prev := ConnState(p.state.Swap(int32(s)))
	if prev != s {
		p.logger.Debug("ingest state changed", "from", prev.String(), "to", s.String())
	}
}

// Run connects, subscribes and processes uplinks until ctx is cancelled.
// Connection failures and lost sessions are retried forever after a fixed
// backoff. Run seals the store before the first message can arrive and
// returns nil once workers have drained.
func (p *Pipeline) Run(ctx context.Context) error {
	p.store.Seal()

	var wg sync.WaitGroup
	for i, q := range p.queues {
		wg.Add(1)
		go func(id int, q chan uplink.Event) {
			defer wg.Done()
			p.worker(id, q)
		}(i, q)
	}

	p.logger.Info("ingest pipeline started",
		"topic", p.topic,
		"workers", len(p.queues),
		"queue_size", p.cfg.QueueSize,
	)

	p.supervise(ctx)

	p.setState(StateStopped)
	close(p.stopping)
	if err := p.broker.Close(); err != nil {
		p.logger.Warn("error closing broker session", "error", err)
	}

	// Every enqueue completes before closed is set, so the drain below sees it.
	p.enqueueMu.Lock()
	p.closed = true
	p.enqueueMu.Unlock()
	close(p.drain)
	wg.Wait()

	p.logger.Info("ingest pipeline stopped",
		"received", p.received.Load(),
		"accepted", p.accepted.Load(),
		"dropped", p.dropped.Load(),
	)
	return nil
}

// supervise runs the connection state machine until ctx ends.
func (p *Pipeline) supervise(ctx context.Context) {
	for ctx.Err() == nil {
		p.drainLost()
		p.setState(StateConnecting)

		if err := p.connectAndSubscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.setState(StateDisconnected)
			p.logger.Warn("broker connection failed, retrying",
				"error", err,
				"backoff", p.cfg.Backoff,
			)
			p.wait(ctx)
			continue
		}

		p.setState(StateSubscribed)
		p.logger.Info("subscribed to uplinks", "topic", p.topic)

		select {
		case <-ctx.Done():
			return
		case err := <-p.lost:
			p.setState(StateDisconnected)
			p.reconnects.Add(1)
			p.logger.Warn("broker connection lost, reconnecting",
				"error", err,
				"backoff", p.cfg.Backoff,
			)
			p.wait(ctx)
		}
	}
}

func (p *Pipeline) connectAndSubscribe(ctx context.Context) error {
	if err := p.broker.Connect(ctx); err != nil {
		return err
	}
	if err := p.broker.Subscribe(p.topic, p.cfg.QoS, p.handleMessage); err != nil {
		// Drop the half-open session so the next attempt starts clean.
		if closeErr := p.broker.Close(); closeErr != nil {
			p.logger.Debug("error closing session after subscribe failure", "error", closeErr)
		}
		return fmt.Errorf("subscribing to %s: %w", p.topic, err)
	}
	return nil
}

// connectionLost is the broker's disconnect callback.
func (p *Pipeline) connectionLost(err error) {
	select {
	case p.lost <- err:
	default:
	}
}

// drainLost discards a lost-connection signal left over from an earlier session.
func (p *Pipeline) drainLost() {
	select {
	case <-p.lost:
	default:
	}
}

// wait sleeps for the backoff or until ctx ends.
func (p *Pipeline) wait(ctx context.Context) {
	timer := time.NewTimer(p.cfg.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// handleMessage is the broker callback. It blocks while the target queue is
// full and gives up only when the pipeline stops. Every decoded uplink ends
// up either applied by a worker or counted as dropped.
func (p *Pipeline) handleMessage(topic string, payload []byte) error {
	p.received.Add(1)

	ev, err := uplink.Decode(topic, payload, p.now())
	switch {
	case errors.Is(err, uplink.ErrNotUplink):
		p.ignored.Add(1)
		return nil
	case err != nil:
		p.malformed.Add(1)
		p.logger.Warn("dropping malformed uplink", "topic", topic, "error", err)
		return nil
	}

	p.enqueueMu.RLock()
	defer p.enqueueMu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return nil
	}

	q := p.queues[p.shard(ev.DeviceID)]
	select {
	case q <- ev:
		return nil
	default:
	}

	select {
	case q <- ev:
	case <-p.stopping:
		p.dropped.Add(1)
	}
	return nil
}

// shard picks the worker queue for a device.
func (p *Pipeline) shard(deviceID string) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID)) //nolint:errcheck // hash.Hash never returns an error
	return int(h.Sum32() % uint32(len(p.queues)))
}

// worker applies uplinks from q until the pipeline stops, then drains
// whatever is already queued.
func (p *Pipeline) worker(id int, q chan uplink.Event) {
	for {
		select {
		case ev := <-q:
			p.process(ev)
		case <-p.drain:
			for {
				select {
				case ev := <-q:
					p.process(ev)
				default:
					p.logger.Debug("ingest worker stopped", "worker", id)
					return
				}
			}
		}
	}
}

// process applies one uplink and fans the result out.
func (p *Pipeline) process(ev uplink.Event) {
	state, err := p.store.Upsert(ev)
	if err != nil {
		p.malformed.Add(1)
		p.logger.Warn("rejected uplink", "device_eui", ev.DeviceID, "error", err)
		return
	}
	p.accepted.Add(1)

	p.logger.Debug("uplink applied",
		"device_eui", state.DeviceID,
		"message_count", state.MessageCount,
	)

	if p.persister != nil {
		p.persister.Enqueue(state)
	}
	if p.notifier != nil {
		p.notifier.Notify(state)
	}
	if p.exporter != nil {
		p.exporter.WriteUplink(state)
	}
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	depth := 0
	for _, q := range p.queues {
		depth += len(q)
	}
	return Stats{
		State:      p.State().String(),
		Received:   p.received.Load(),
		Accepted:   p.accepted.Load(),
		Malformed:  p.malformed.Load(),
		Ignored:    p.ignored.Load(),
		Dropped:    p.dropped.Load(),
		Reconnects: p.reconnects.Load(),
		QueueDepth: depth,
	}
}
