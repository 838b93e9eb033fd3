/*
Package audit persists ledger audit entries in the background.

PURPOSE:
  Worker implements ledger.AuditSink. The ledger hands it entries after
  each commit; the worker buffers them on a channel and writes them to a
  Saver in batches from a single goroutine.

DESIGN:
  - Record never blocks: a full buffer drops the entry (Warn + OnDrop)
  - Batches are flushed every FlushInterval or when BatchSize is reached
  - Stop drains whatever is still buffered before returning
  - A failed save is logged and counted, never retried

CONFIGURATION:
  - FlushInterval: How often a partial batch is written (default: 1s)
  - BatchSize:     Entries per write (default: 64)
  - SaveTimeout:   Deadline for one write (default: 5s)

USAGE:
  worker := audit.NewWorker(store, 1024)
  worker.Start()
  defer worker.Stop()
  l := ledger.New(store, store, ledger.WithAuditSink(worker))

SEE ALSO:
  - ledger/audit.go:         AuditSink contract
  - store/sqlstore/audit.go: audit_events persistence
*/
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/spend-ledger/ledger"
)

// Drop reasons reported to OnDrop.
const (
	DropBufferFull = "buffer_full"
	DropSaveFailed = "save_failed"
	DropStopped    = "stopped"
)

// Saver writes a batch of entries atomically.
type Saver interface {
	SaveAudit(ctx context.Context, entries []ledger.AuditEntry) error
}

// Worker buffers audit entries and persists them in batches.
type Worker struct {
	Saver         Saver
	FlushInterval time.Duration
	BatchSize     int
	SaveTimeout   time.Duration
	Logger        *slog.Logger

	// OnDrop is called with the reason and count of every lost entry.
	OnDrop func(reason string, n int)

	entries chan ledger.AuditEntry
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// sendMu orders Record's sends before Stop's drain.
	sendMu  sync.RWMutex
	stopped bool
}

var _ ledger.AuditSink = (*Worker)(nil)

// NewWorker creates a worker with room for buffer pending entries.
func NewWorker(saver Saver, buffer int) *Worker {
	if buffer < 1 {
		buffer = 1
	}
	return &Worker{
		Saver:         saver,
		FlushInterval: time.Second,
		BatchSize:     64,
		SaveTimeout:   5 * time.Second,
		Logger:        slog.Default(),
		entries:       make(chan ledger.AuditEntry, buffer),
		stop:          make(chan struct{}),
	}
}

// Start begins the flush loop. Calling it twice is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running || w.isStopped() {
		return
	}
	if w.BatchSize < 1 {
		w.BatchSize = 1
	}
	w.running = true
	w.ticker = time.NewTicker(w.FlushInterval)
	w.wg.Add(1)

	go w.run()

	w.Logger.Info("audit worker started", "buffer", cap(w.entries), "flush_interval", w.FlushInterval)
}

// Stop flushes everything buffered and waits for the loop to exit.
// Entries buffered by a worker that was never started are counted as
// dropped.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sendMu.Lock()
	already := w.stopped
	w.stopped = true
	w.sendMu.Unlock()

	if already {
		return
	}
	if !w.running {
		if n := w.discard(); n > 0 {
			w.Logger.Warn("audit worker stopped before start", "dropped", n)
			if w.OnDrop != nil {
				w.OnDrop(DropStopped, n)
			}
		}
		return
	}
	w.ticker.Stop()
	close(w.stop)
	w.wg.Wait()
	w.Logger.Info("audit worker stopped")
}

// Record implements ledger.AuditSink.
func (w *Worker) Record(_ context.Context, entry ledger.AuditEntry) {
	w.sendMu.RLock()
	reason := ""
	if w.stopped {
		reason = DropStopped
	} else {
		select {
		case w.entries <- entry:
		default:
			reason = DropBufferFull
		}
	}
	w.sendMu.RUnlock()

	if reason != "" {
		w.drop(reason, entry)
	}
}

func (w *Worker) isStopped() bool {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	return w.stopped
}

// discard empties the buffer and returns how many entries it held.
func (w *Worker) discard() int {
	n := 0
	for {
		select {
		case <-w.entries:
			n++
		default:
			return n
		}
	}
}

// Pending returns the number of buffered entries.
func (w *Worker) Pending() int { return len(w.entries) }

func (w *Worker) run() {
	defer w.wg.Done()

	batch := make([]ledger.AuditEntry, 0, w.BatchSize)
	for {
		select {
		case e := <-w.entries:
			batch = append(batch, e)
			if len(batch) >= w.BatchSize {
				batch = w.flush(batch)
			}
		case <-w.ticker.C:
			batch = w.flush(batch)
		case <-w.stop:
			for {
				select {
				case e := <-w.entries:
					batch = append(batch, e)
					if len(batch) >= w.BatchSize {
						batch = w.flush(batch)
					}
				default:
					w.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes batch and returns it emptied for reuse.
func (w *Worker) flush(batch []ledger.AuditEntry) []ledger.AuditEntry {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.SaveTimeout)
	defer cancel()

	if err := w.Saver.SaveAudit(ctx, batch); err != nil {
		w.Logger.Error("failed to save audit entries", "count", len(batch), "error", err)
		if w.OnDrop != nil {
			w.OnDrop(DropSaveFailed, len(batch))
		}
	} else {
		w.Logger.Debug("saved audit entries", "count", len(batch))
	}
	return batch[:0]
}

func (w *Worker) drop(reason string, entry ledger.AuditEntry) {
	w.Logger.Warn("audit entry dropped",
		"reason", reason,
		"action", entry.Action,
		"trip_id", entry.TripID,
		"entity_id", entry.EntityID,
	)
	if w.OnDrop != nil {
		w.OnDrop(reason, 1)
	}
}
