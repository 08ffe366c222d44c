package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enrichment runs are user visible and drain ahead of media follow-ups.
const (
	QueueEnrichment = "enrichment"
	QueueMedia      = "media"
)

var queueWeights = map[string]int{
	QueueEnrichment: 4,
	QueueMedia:      1,
}

// Enqueuer is the part of the queue used by producers.
type Enqueuer interface {
	EnqueueUnique(ctx context.Context, taskType string, payload interface{}, uniqueID string, opts ...asynq.Option) (string, error)
}

// Queue wraps an asynq client, server and inspector sharing one Redis.
type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	logger    *zap.Logger
}

func NewQueue(redisAddr string, concurrency int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("queue")
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queueWeights,
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			logger.Warn("task failed", zap.String("type", task.Type()), zap.Int("retried", retried), zap.Error(err))
		}),
	})
	return &Queue{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
		logger:    logger,
	}
}

func conflicts(err error) bool {
	return errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict)
}

// EnqueueUnique enqueues a task under a deterministic id so one item never
// has two runs of the same kind waiting. A pending or active task with that id
// absorbs the request and its id is returned. A finished task still retained
// by Redis is removed so the request can go through.
func (q *Queue) EnqueueUnique(ctx context.Context, taskType string, payload interface{}, uniqueID string, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data, append(opts, asynq.TaskID(uniqueID))...)

	info, err := q.client.EnqueueContext(ctx, task)
	if err == nil {
		return info.ID, nil
	}
	if !conflicts(err) {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	if !q.clearFinished(uniqueID) {
		q.logger.Debug("task already queued", zap.String("type", taskType), zap.String("task_id", uniqueID))
		return uniqueID, nil
	}
	info, err = q.client.EnqueueContext(ctx, task)
	switch {
	case err == nil:
		return info.ID, nil
	case conflicts(err):
		return uniqueID, nil
	default:
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
}

// clearFinished deletes a completed or archived task holding id. It reports
// false when the holder is still pending, scheduled or running.
func (q *Queue) clearFinished(id string) bool {
	for queue := range queueWeights {
		info, err := q.inspector.GetTaskInfo(queue, id)
		if err != nil {
			continue
		}
		if info.State != asynq.TaskStateCompleted && info.State != asynq.TaskStateArchived {
			return false
		}
		if err := q.inspector.DeleteTask(queue, id); err != nil {
			q.logger.Warn("clear finished task", zap.String("task_id", id), zap.Error(err))
			return false
		}
		q.logger.Debug("cleared finished task", zap.String("task_id", id), zap.String("queue", queue))
		return true
	}
	return false
}

func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

// Start consumes tasks in the background.
func (q *Queue) Start() error {
	q.logger.Info("worker starting", zap.Any("queues", queueWeights))
	return q.server.Start(q.mux)
}

// Run consumes tasks until SIGTERM or SIGINT.
func (q *Queue) Run() error {
	q.logger.Info("worker starting", zap.Any("queues", queueWeights))
	return q.server.Run(q.mux)
}

func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
	q.inspector.Close()
}
