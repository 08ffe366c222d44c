package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

const (
	TaskEnrichItem   = "metadata:enrich"
	TaskAnalyzeMedia = "media:analyze"
	TaskKeyframes    = "media:keyframes"
)

// ──────── Payloads ────────

type EnrichPayload struct {
	ItemID         string   `json:"item_id"`
	OverrideFields []string `json:"override_fields,omitempty"`
	MetadataOnly   bool     `json:"metadata_only,omitempty"`
}

type ItemPayload struct {
	ItemID string `json:"item_id"`
}

// ──────── Dependencies ────────

// ItemStore loads and persists catalog items.
type ItemStore interface {
	GetCatalogItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error)
	SaveEnrichment(ctx context.Context, item *models.CatalogItem) error
	MarkEnriched(ctx context.Context, id uuid.UUID) error
}

type LibraryStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Library, error)
}

type AnalysisStore interface {
	GetCatalogItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error)
	SavePartAnalysis(ctx context.Context, a models.PartAnalysis) error
}

// EnqueueEnrich requests an enrichment run for one item. Enrichment retries
// once; a second attempt covers transient agent failures.
func EnqueueEnrich(ctx context.Context, q Enqueuer, p EnrichPayload) (string, error) {
	if _, err := uuid.Parse(p.ItemID); err != nil {
		return "", fmt.Errorf("invalid item id %q: %w", p.ItemID, err)
	}
	return q.EnqueueUnique(ctx, TaskEnrichItem, p, "enrich:"+p.ItemID, asynq.MaxRetry(1), asynq.Queue(QueueEnrichment))
}

func decodeItemID(t *asynq.Task, dst interface{}, id func() string) (uuid.UUID, error) {
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return uuid.Nil, fmt.Errorf("unmarshal: %v: %w", err, asynq.SkipRetry)
	}
	itemID, err := uuid.Parse(id())
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid item id %q: %w", id(), asynq.SkipRetry)
	}
	return itemID, nil
}

// Handlers bundles everything the worker registers.
type Handlers struct {
	Enrich    *EnrichHandler
	Analyze   *AnalyzeHandler
	Keyframes *KeyframesHandler
}

// RegisterHandlers wires every task type to its handler. Nil handlers are skipped.
func RegisterHandlers(q *Queue, h Handlers) {
	if h.Enrich != nil {
		q.RegisterHandler(TaskEnrichItem, h.Enrich)
	}
	if h.Analyze != nil {
		q.RegisterHandler(TaskAnalyzeMedia, h.Analyze)
	}
	if h.Keyframes != nil {
		q.RegisterHandler(TaskKeyframes, h.Keyframes)
	}
}
