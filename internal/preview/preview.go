package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/artwork"
	"github.com/nexamediaserver/server-sub005/internal/ffmpeg"
	"github.com/nexamediaserver/server-sub005/internal/keyframe"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

const (
	// ThumbnailWidth is the width grabbed video frames are scaled to.
	ThumbnailWidth   = 640
	thumbnailQuality = 85
)

// Snapshotter grabs a single frame from a video.
type Snapshotter interface {
	Snapshot(ctx context.Context, input string, offset time.Duration, width int, output string) error
}

// KeyframeProber lists keyframe timestamps (seconds) of a video.
type KeyframeProber interface {
	Keyframes(ctx context.Context, filePath string) ([]float64, error)
}

// DurationProber reports a file's duration when the item has none yet.
type DurationProber interface {
	Probe(ctx context.Context, filePath string) (*ffmpeg.ProbeResult, error)
}

// VideoThumbnailer grabs a frame about a tenth into the first video part,
// aligned to the keyframe at or before that offset.
type VideoThumbnailer struct {
	snap       Snapshotter
	keyframes  KeyframeProber
	prober     DurationProber
	index      *keyframe.Index
	store      *artwork.Store
	scratchDir string
	logger     *zap.Logger
}

func NewVideoThumbnailer(snap Snapshotter, kf KeyframeProber, prober DurationProber, index *keyframe.Index,
	store *artwork.Store, scratchDir string, logger *zap.Logger) *VideoThumbnailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoThumbnailer{
		snap:       snap,
		keyframes:  kf,
		prober:     prober,
		index:      index,
		store:      store,
		scratchDir: scratchDir,
		logger:     logger.Named("video-thumbnail"),
	}
}

func (g *VideoThumbnailer) Name() string { return "ffmpeg" }

func (g *VideoThumbnailer) Kinds() []models.ArtworkKind {
	return []models.ArtworkKind{models.ArtworkThumbnail}
}

func (g *VideoThumbnailer) Supports(item *models.CatalogItem) bool { return item.HasVideo() }

func (g *VideoThumbnailer) Provide(ctx context.Context, item *models.CatalogItem, parts []models.MediaPart) error {
	var part *models.MediaPart
	for i := range parts {
		if parts[i].IsVideo() {
			part = &parts[i]
			break
		}
	}
	if part == nil {
		return nil
	}

	duration := time.Duration(item.DurationMS) * time.Millisecond
	if duration <= 0 && g.prober != nil {
		probe, err := g.prober.Probe(ctx, part.Path)
		if err != nil {
			return fmt.Errorf("probe %s: %w", part.Path, err)
		}
		duration = time.Duration(probe.DurationMS()) * time.Millisecond
	}
	target := duration / 10
	if target < time.Second {
		target = time.Second
	}

	kf, err := g.Keyframes(ctx, part)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Debug("seeking without keyframes", zap.String("path", part.Path), zap.Error(err))
	}
	offset := keyframe.NearestKeyframeAtOrBefore(kf, target)

	out := filepath.Join(g.scratchDir, item.ID.String(), "thumbnail.jpg")
	defer os.Remove(out)
	if err := g.snap.Snapshot(ctx, part.Path, offset, ThumbnailWidth, out); err != nil {
		return fmt.Errorf("thumbnail: %w", err)
	}
	f, err := os.Open(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := g.store.Put(item.ID, models.ArtworkThumbnail, g.Name(), ".jpg", f); err != nil {
		return err
	}
	g.logger.Debug("thumbnail generated",
		zap.String("item_id", item.ID.String()),
		zap.Duration("offset", offset))
	return nil
}

// Keyframes returns the part's keyframes from the index, probing and
// recording them when the index has no entry.
func (g *VideoThumbnailer) Keyframes(ctx context.Context, part *models.MediaPart) ([]float64, error) {
	if g.index != nil {
		e, err := g.index.Read(part.ID, part.Size)
		if err == nil {
			return e.Keyframes, nil
		}
		if !errors.Is(err, keyframe.ErrNoIndex) {
			g.logger.Warn("keyframe index unreadable", zap.String("part_id", part.ID.String()), zap.Error(err))
		}
	}
	if g.keyframes == nil {
		return nil, errors.New("no keyframe prober")
	}
	kf, err := g.keyframes.Keyframes(ctx, part.Path)
	if err != nil {
		return nil, err
	}
	if g.index != nil {
		if err := g.index.Write(&keyframe.Entry{PartID: part.ID, Path: part.Path, Size: part.Size, Keyframes: kf}); err != nil {
			g.logger.Warn("keyframe index write failed", zap.String("part_id", part.ID.String()), zap.Error(err))
		}
	}
	return kf, nil
}

// PhotoThumbnailer downsizes the first image part of an item.
type PhotoThumbnailer struct {
	store  *artwork.Store
	size   int
	logger *zap.Logger
}

func NewPhotoThumbnailer(store *artwork.Store, size int, logger *zap.Logger) *PhotoThumbnailer {
	if size <= 0 {
		size = ThumbnailWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PhotoThumbnailer{store: store, size: size, logger: logger.Named("photo-thumbnail")}
}

func (p *PhotoThumbnailer) Name() string { return "image" }

func (p *PhotoThumbnailer) Kinds() []models.ArtworkKind {
	return []models.ArtworkKind{models.ArtworkThumbnail}
}

func (p *PhotoThumbnailer) Supports(item *models.CatalogItem) bool {
	for _, part := range item.Parts() {
		if part.IsImage() {
			return true
		}
	}
	return false
}

func (p *PhotoThumbnailer) Provide(ctx context.Context, item *models.CatalogItem, parts []models.MediaPart) error {
	for _, part := range parts {
		if !part.IsImage() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := imaging.Open(part.Path, imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("open %s: %w", part.Path, err)
		}
		img = imaging.Fit(img, p.size, p.size, imaging.Lanczos)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
			return err
		}
		_, err = p.store.Put(item.ID, models.ArtworkThumbnail, p.Name(), ".jpg", &buf)
		return err
	}
	return nil
}
