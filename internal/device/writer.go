package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Writer defaults.
const (
	// defaultSaveTimeout bounds a single Save call.
	defaultSaveTimeout = 5 * time.Second

	// finalFlushTimeout bounds the drain performed when Run stops.
	finalFlushTimeout = 10 * time.Second
)

// WriterStats reports write-behind activity.
type WriterStats struct {
	Saved     int64 `json:"saved"`
	Failed    int64 `json:"failed"`
	Coalesced int64 `json:"coalesced"`
	Pending   int   `json:"pending"`
}

// Writer persists device states behind the ingestion path.
//
// Enqueue never blocks: at most one state per device is pending, and a newer
// state replaces the pending one. Run drains pending states in arrival order
// and saves each through the Repository. Save failures are logged and the
// state is dropped; the in-memory store stays the source of truth and the
// next uplink for that device retries naturally.
type Writer struct {
	repo   Repository
	logger Logger

	mu      sync.Mutex
	pending map[string]State
	order   []string

	wake chan struct{}

	saveTimeout time.Duration

	saved     atomic.Int64
	failed    atomic.Int64
	coalesced atomic.Int64
}

// NewWriter creates a write-behind writer over repo.
func NewWriter(repo Repository) *Writer {
	return &Writer{
		repo:        repo,
		logger:      noopLogger{},
		pending:     make(map[string]State),
		wake:        make(chan struct{}, 1),
		saveTimeout: defaultSaveTimeout,
	}
}

// SetLogger sets the logger for the writer.
func (w *Writer) SetLogger(logger Logger) {
	w.logger = logger
}

// Enqueue schedules state for persistence. It never blocks.
func (w *Writer) Enqueue(state State) {
	id := NormalizeID(state.DeviceID)
	if id == "" {
		return
	}

	w.mu.Lock()
	if prev, ok := w.pending[id]; ok {
		if state.MessageCount >= prev.MessageCount {
			w.pending[id] = state
		}
		w.coalesced.Add(1)
	} else {
		w.pending[id] = state
		w.order = append(w.order, id)
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run saves pending states until ctx is cancelled, then performs a final
// bounded flush. It always returns nil.
//
// Saves already in progress when ctx is cancelled run to completion (each is
// still bounded by the save timeout), so a batch taken just before shutdown
// is not lost.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Info("persistence writer started")
	saveCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(saveCtx, finalFlushTimeout)
			w.Flush(flushCtx)
			cancel()
			w.logger.Info("persistence writer stopped",
				"saved", w.saved.Load(),
				"failed", w.failed.Load(),
				"pending", w.Stats().Pending,
			)
			return nil
		case <-w.wake:
			w.Flush(saveCtx)
		}
	}
}

// Flush saves every currently pending state. States enqueued during the
// flush are picked up by the same call.
//
// If ctx ends mid-batch, the unsaved remainder goes back to the pending set
// (unless a newer state for the device arrived meanwhile) for a later flush.
func (w *Writer) Flush(ctx context.Context) {
	for {
		batch := w.take()
		if len(batch) == 0 {
			return
		}
		for i := range batch {
			if ctx.Err() != nil {
				w.requeue(batch[i:])
				w.logger.Warn("persistence flush interrupted", "requeued", len(batch)-i)
				return
			}
			if err := w.save(ctx, batch[i]); err != nil && ctx.Err() != nil {
				w.requeue(batch[i:])
				w.logger.Warn("persistence flush interrupted", "requeued", len(batch)-i)
				return
			}
		}
	}
}

// requeue puts unsaved states back ahead of anything enqueued since they
// were taken. A pending state with a higher message count wins.
func (w *Writer) requeue(states []State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	front := make([]string, 0, len(states))
	for _, st := range states {
		id := NormalizeID(st.DeviceID)
		if prev, ok := w.pending[id]; ok {
			if st.MessageCount > prev.MessageCount {
				w.pending[id] = st
			}
			continue
		}
		w.pending[id] = st
		front = append(front, id)
	}
	w.order = append(front, w.order...)
}

// take removes and returns all pending states in arrival order.
func (w *Writer) take() []State {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.order) == 0 {
		return nil
	}
	batch := make([]State, 0, len(w.order))
	for _, id := range w.order {
		batch = append(batch, w.pending[id])
	}
	w.order = w.order[:0]
	clear(w.pending)
	return batch
}

// save persists one state. A failure caused by ctx ending is left for the
// caller to requeue and is not counted.
func (w *Writer) save(ctx context.Context, state State) error {
	saveCtx, cancel := context.WithTimeout(ctx, w.saveTimeout)
	defer cancel()

	if err := w.repo.Save(saveCtx, state); err != nil {
		if ctx.Err() != nil {
			return err
		}
		w.failed.Add(1)
		w.logger.Error("failed to persist device state",
			"device_eui", state.DeviceID,
			"message_count", state.MessageCount,
			"error", err,
		)
		return err
	}
	w.saved.Add(1)
	return nil
}

// Stats returns a snapshot of writer counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	pending := len(w.order)
	w.mu.Unlock()

	return WriterStats{
		Saved:     w.saved.Load(),
		Failed:    w.failed.Load(),
		Coalesced: w.coalesced.Load(),
		Pending:   pending,
	}
}
