package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// Job identifies one requested follow-up task.
type Job struct {
	Type string
	ID   string
}

// Dispatcher requests the analysis jobs that follow an enrichment run. It
// never runs them itself.
type Dispatcher struct {
	queue  Enqueuer
	logger *zap.Logger
}

func NewDispatcher(queue Enqueuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, logger: logger.Named("dispatch")}
}

// Dispatch enqueues media analysis unless metadataOnly is set, and keyframe
// indexing when the item has a video part.
func (d *Dispatcher) Dispatch(ctx context.Context, item *models.CatalogItem, metadataOnly bool) ([]Job, error) {
	var want []string
	if !metadataOnly {
		want = append(want, TaskAnalyzeMedia)
	}
	if item.HasVideo() {
		want = append(want, TaskKeyframes)
	}

	var jobs []Job
	for _, taskType := range want {
		uniqueID := fmt.Sprintf("%s:%s", taskType, item.ID)
		id, err := d.queue.EnqueueUnique(ctx, taskType, ItemPayload{ItemID: item.ID.String()}, uniqueID,
			asynq.Queue(QueueMedia), asynq.MaxRetry(2))
		if err != nil {
			return jobs, fmt.Errorf("enqueue %s: %w", taskType, err)
		}
		jobs = append(jobs, Job{Type: taskType, ID: id})
		d.logger.Debug("follow-up requested", zap.String("type", taskType), zap.String("item_id", item.ID.String()))
	}
	return jobs, nil
}
