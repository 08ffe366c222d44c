package jobs

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/enrichment"
	"github.com/nexamediaserver/server-sub005/internal/models"
	"github.com/nexamediaserver/server-sub005/internal/repository"
)

// Enricher runs one enrichment pass over an item.
type Enricher interface {
	Enrich(ctx context.Context, item *models.CatalogItem, library *models.Library, overrides mapset.Set[string]) (*enrichment.Outcome, error)
}

// ──────── Enrichment Handler ────────

type EnrichHandler struct {
	items      ItemStore
	libraries  LibraryStore
	enricher   Enricher
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewEnrichHandler(items ItemStore, libraries LibraryStore, enricher Enricher, dispatcher *Dispatcher, logger *zap.Logger) *EnrichHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrichHandler{items: items, libraries: libraries, enricher: enricher, dispatcher: dispatcher, logger: logger.Named("enrich")}
}

func (h *EnrichHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p EnrichPayload
	id, err := decodeItemID(t, &p, func() string { return p.ItemID })
	if err != nil {
		return err
	}
	_, err = h.Run(ctx, id, p.OverrideFields, p.MetadataOnly)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run enriches one item, saves it when anything changed and requests the
// follow-up jobs. A missing item or library ends the run without side effects.
func (h *EnrichHandler) Run(ctx context.Context, itemID uuid.UUID, overrideFields []string, metadataOnly bool) (*enrichment.Outcome, error) {
	log := h.logger.With(zap.String("item_id", itemID.String()))

	item, err := h.items.GetCatalogItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	library, err := h.libraries.GetByID(ctx, item.LibraryID)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}

	overrides := mapset.NewThreadUnsafeSet[string](overrideFields...)
	outcome, err := h.enricher.Enrich(ctx, item, library, overrides)
	if err != nil {
		return nil, err
	}
	if outcome.Changed {
		if err := h.items.SaveEnrichment(ctx, item); err != nil {
			return nil, fmt.Errorf("save item: %w", err)
		}
	}
	if err := h.items.MarkEnriched(ctx, item.ID); err != nil {
		log.Warn("refresh stamp not saved", zap.Error(err))
	}
	log.Info("item enriched",
		zap.Bool("changed", outcome.Changed),
		zap.Int("contributions", outcome.Contributions),
		zap.Strings("failed", outcome.Failed))

	if h.dispatcher != nil {
		if _, err := h.dispatcher.Dispatch(ctx, item, metadataOnly); err != nil {
			log.Warn("follow-up dispatch failed", zap.Error(err))
		}
	}
	return outcome, nil
}
