package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/ffmpeg"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

type Prober interface {
	Probe(ctx context.Context, filePath string) (*ffmpeg.ProbeResult, error)
}

type LoudnessAnalyzer interface {
	AnalyzeLoudness(ctx context.Context, filePath string) (*ffmpeg.LoudnessResult, error)
}

// ──────── Analyze Handler ────────

// AnalyzeHandler probes every part of an item and measures loudness for
// audio-only parts.
type AnalyzeHandler struct {
	store    AnalysisStore
	prober   Prober
	loudness LoudnessAnalyzer
	logger   *zap.Logger
}

func NewAnalyzeHandler(store AnalysisStore, prober Prober, loudness LoudnessAnalyzer, logger *zap.Logger) *AnalyzeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeHandler{store: store, prober: prober, loudness: loudness, logger: logger.Named("analyze")}
}

func (h *AnalyzeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ItemPayload
	id, err := decodeItemID(t, &p, func() string { return p.ItemID })
	if err != nil {
		return err
	}
	return h.Run(ctx, id)
}

func (h *AnalyzeHandler) Run(ctx context.Context, itemID uuid.UUID) error {
	item, err := h.store.GetCatalogItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	parts := item.Parts()
	failed := 0
	for _, part := range parts {
		if part.IsImage() {
			continue
		}
		if err := h.analyze(ctx, part); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			h.logger.Warn("analysis failed", zap.String("part_id", part.ID.String()), zap.String("path", part.Path), zap.Error(err))
		}
	}
	if failed > 0 && failed == len(parts) {
		return fmt.Errorf("analysis failed for all %d parts of %s", failed, itemID)
	}
	return nil
}

func (h *AnalyzeHandler) analyze(ctx context.Context, part models.MediaPart) error {
	probe, err := h.prober.Probe(ctx, part.Path)
	if err != nil {
		return err
	}
	result := models.PartAnalysis{PartID: part.ID, DurationMS: probe.DurationMS()}
	if h.loudness != nil && !probe.HasVideo() && len(probe.AudioCodecs()) > 0 {
		lr, err := h.loudness.AnalyzeLoudness(ctx, part.Path)
		if err != nil {
			return fmt.Errorf("loudness: %w", err)
		}
		result.LoudnessLUFS = &lr.InputI
		result.GainDB = &lr.GainDB
	}
	return h.store.SavePartAnalysis(ctx, result)
}

// ──────── Keyframes Handler ────────

// KeyframeIndexer records keyframes for a part and renders preview thumbnails.
type KeyframeIndexer interface {
	Keyframes(ctx context.Context, part *models.MediaPart) ([]float64, error)
	Provide(ctx context.Context, item *models.CatalogItem, parts []models.MediaPart) error
}

type ItemLoader interface {
	GetCatalogItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error)
}

type KeyframesHandler struct {
	items   ItemLoader
	indexer KeyframeIndexer
	logger  *zap.Logger
}

func NewKeyframesHandler(items ItemLoader, indexer KeyframeIndexer, logger *zap.Logger) *KeyframesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyframesHandler{items: items, indexer: indexer, logger: logger.Named("keyframes")}
}

func (h *KeyframesHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ItemPayload
	id, err := decodeItemID(t, &p, func() string { return p.ItemID })
	if err != nil {
		return err
	}
	return h.Run(ctx, id)
}

func (h *KeyframesHandler) Run(ctx context.Context, itemID uuid.UUID) error {
	item, err := h.items.GetCatalogItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	parts := item.Parts()
	indexed := 0
	for i := range parts {
		if !parts[i].IsVideo() {
			continue
		}
		kf, err := h.indexer.Keyframes(ctx, &parts[i])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn("keyframe probe failed", zap.String("part_id", parts[i].ID.String()), zap.Error(err))
			continue
		}
		indexed++
		h.logger.Debug("keyframes indexed", zap.String("part_id", parts[i].ID.String()), zap.Int("count", len(kf)))
	}
	if indexed == 0 {
		return nil
	}
	if err := h.indexer.Provide(ctx, item, parts); err != nil {
		return fmt.Errorf("preview thumbnail: %w", err)
	}
	return nil
}
