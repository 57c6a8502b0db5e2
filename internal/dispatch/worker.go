package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/journal-sync/internal/broker"
)

// runWorker polls queueName and hands each message to process, acking on
// success and nacking (with a reason) on failure so the queue's
// redelivery/dead-letter policy takes over.
func runWorker(ctx context.Context, logger *slog.Logger, b broker.Broker, queueName string, process func(context.Context, []byte) error) {
	q, err := b.Queue(queueName)
	if err != nil {
		logger.Error("dispatch: worker cannot open queue", "queue", queueName, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := q.Receive(ctx, 10, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dispatch: receive failed", "queue", queueName, "error", err)
			continue
		}

		for _, m := range msgs {
			if err := process(ctx, m.Body); err != nil {
				logger.Warn("dispatch: job failed", "queue", queueName, "error", err)
				if nacker, ok := q.(interface {
					NackWithReason(context.Context, string, string) error
				}); ok {
					_ = nacker.NackWithReason(ctx, m.Handle, err.Error())
				} else {
					_ = q.Nack(ctx, m.Handle)
				}
				continue
			}
			_ = q.Ack(ctx, m.Handle)
		}
	}
}

// RunWorkers starts the batch jobs consumer loop. The scheduled-notifications
// queue is owned by the Scheduler/Reaper (C10), which decides whether a
// due-for-delivery message has truly arrived or needs re-deferring past the
// broker's delay cap.
func (d *Dispatcher) RunWorkers(ctx context.Context) {
	go runWorker(ctx, d.logger, d.brokerB, broker.Jobs, d.ProcessBatchJob)
}
