package dashboard

import (
	"context"
	"time"

	"github.com/kestrelmedia/studioforge/internal/platform/logger"
)

// RefreshWorker repeatedly drains the dashboard refresh queue, grounded on
// refresh_worker.py's run(): claim a batch, process it, sleep only when the
// batch came back empty so a backlog drains without idling between
// batches.
type RefreshWorker struct {
	Service      *Service
	BatchSize    int
	PollInterval time.Duration

	log *logger.Logger
}

func NewRefreshWorker(svc *Service, batchSize int, pollInterval time.Duration, baseLog *logger.Logger) *RefreshWorker {
	return &RefreshWorker{
		Service:      svc,
		BatchSize:    batchSize,
		PollInterval: pollInterval,
		log:          baseLog.With("worker", "dashboard_refresh"),
	}
}

// Run blocks until ctx is canceled, backing off briefly after an error so
// a transient DB hiccup doesn't spin the loop.
func (w *RefreshWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := w.Service.ProcessRefreshBatch(ctx, w.BatchSize)
		if err != nil {
			w.log.Error("process_batch", "err", err)
			sleep(ctx, 1500*time.Millisecond)
			continue
		}
		if n == 0 {
			sleep(ctx, w.PollInterval)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
