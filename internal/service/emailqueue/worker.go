package emailqueue

import (
	"context"
	"log"
	"time"

	"github.com/foundermatch/funnel/internal/domain"
)

// Processor runs one queue pass.
type Processor interface {
	ProcessEmailQueue(ctx context.Context, maxBatch int) domain.ProcessResult
}

// DefaultWorkerInterval is the fallback poll interval between kicks.
const DefaultWorkerInterval = time.Minute

// Worker drives a Processor from kicks and a periodic ticker. Records that
// miss a kick (future schedule, retries, lost pub/sub message) are picked up
// on the next tick.
type Worker struct {
	proc     Processor
	kicks    <-chan struct{}
	interval time.Duration
	batch    int
}

// NewWorker creates a worker. kicks may be nil for tick-only operation.
func NewWorker(proc Processor, kicks <-chan struct{}, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = DefaultWorkerInterval
	}
	return &Worker{proc: proc, kicks: kicks, interval: interval, batch: batch}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[EmailQueueWorker] Starting (interval=%s, batch=%d)", w.interval, w.batch)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.drain(ctx)
	kicks := w.kicks
	for {
		select {
		case <-ctx.Done():
			log.Println("[EmailQueueWorker] Stopping")
			return
		case <-ticker.C:
			w.drain(ctx)
		case _, ok := <-kicks:
			if !ok {
				kicks = nil
				continue
			}
			w.drain(ctx)
		}
	}
}

// drain keeps running passes while they come back full and clean. A pass
// with failures stops the drain so retries wait for the next tick.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		res := w.proc.ProcessEmailQueue(ctx, w.batch)
		if w.batch <= 0 || res.Processed < w.batch || res.Failed > 0 {
			return
		}
	}
}
