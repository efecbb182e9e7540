package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lagless/engine/internal/sim"
)

// HitWriter is the sink the recorder flushes batches to. *HitRepo implements
// it.
type HitWriter interface {
	WriteBatch(ctx context.Context, recs []sim.HitRecord) error
}

// Recorder buffers hit records off the game loop and flushes them to the
// repo in the background. Record never blocks the frame; a full buffer drops
// the oldest entries instead.
type Recorder struct {
	repo     HitWriter
	log      *zap.Logger
	interval time.Duration
	capacity int

	mu  sync.Mutex
	buf []sim.HitRecord

	done chan struct{}
	wg   sync.WaitGroup
}

func NewRecorder(repo HitWriter, interval time.Duration, capacity int, log *zap.Logger) *Recorder {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Recorder{
		repo:     repo,
		log:      log,
		interval: interval,
		capacity: capacity,
		done:     make(chan struct{}),
	}
}

// Record enqueues one hit record. Safe to call from the game loop.
func (r *Recorder) Record(rec sim.HitRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) >= r.capacity {
		r.buf = r.buf[1:]
		r.log.Warn("hit buffer full, dropping oldest record")
	}
	r.buf = append(r.buf, rec)
}

// Start launches the background flush loop.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.flush(ctx)
			case <-r.done:
				r.flush(context.Background())
				return
			case <-ctx.Done():
				// Shutdown cancels this context before Stop runs; the buffered
				// tail still has to reach the repo.
				r.flush(context.Background())
				return
			}
		}
	}()
}

// Stop flushes the remaining buffer and waits for the loop to exit. Records
// accepted after the flush loop already exited are flushed here.
func (r *Recorder) Stop() {
	close(r.done)
	r.wg.Wait()
	r.flush(context.Background())
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.repo.WriteBatch(flushCtx, batch); err != nil {
		r.log.Error("hit batch flush failed", zap.Int("records", len(batch)), zap.Error(err))
	}
}
