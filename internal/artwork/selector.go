package artwork

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/buckket/go-blurhash"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// Reserved positions in the precedence chain.
const (
	SourceSidecar  = "sidecar"
	SourceEmbedded = "embedded"
)

const defaultPlaceholderSize = 64

// Selector picks the primary image per artwork kind from what the Store holds.
type Selector struct {
	store           *Store
	placeholderSize int
	logger          *zap.Logger
}

func NewSelector(store *Store, placeholderSize int, logger *zap.Logger) *Selector {
	if placeholderSize <= 0 {
		placeholderSize = defaultPlaceholderSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{store: store, placeholderSize: placeholderSize, logger: logger.Named("selector")}
}

// Precedence lists source names in the order they are consulted for kind:
// sidecar, then the library's agent order (or the discovered agents that can
// supply kind when the library has none), then providers that produced kind
// in this run, then embedded. Duplicates keep their first position.
func Precedence(kind models.ArtworkKind, agentOrder, discovered, producers []string) []string {
	agents := agentOrder
	if len(agents) == 0 {
		agents = discovered
	}
	out := make([]string, 0, len(agents)+len(producers)+2)
	seen := make(map[string]bool)
	add := func(names ...string) {
		for _, n := range names {
			key := strings.ToLower(strings.TrimSpace(n))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, key)
		}
	}
	add(SourceSidecar)
	add(agents...)
	add(producers...)
	add(SourceEmbedded)
	return out
}

// SelectPrimary finds the image for kind following order and records it in
// the item's slot together with a placeholder hash. Callers skip locked
// slots. It reports false when nothing is stored. The slot is then left as it
// is, unless it points at a stored image that no longer exists, in which case
// it is cleared.
func (s *Selector) SelectPrimary(ctx context.Context, item *models.CatalogItem, kind models.ArtworkKind, order []string) (string, bool) {
	if err := ctx.Err(); err != nil {
		return "", false
	}
	rec := s.find(item, kind, order)
	if rec == nil {
		s.logger.Debug("no artwork found",
			zap.String("item_id", item.ID.String()),
			zap.String("kind", string(kind)))
		if slot := item.Slot(kind); slot != nil && slot.URI != "" {
			if _, err := s.store.Resolve(slot.URI); errors.Is(err, ErrNotFound) {
				s.logger.Info("clearing dangling artwork",
					zap.String("item_id", item.ID.String()),
					zap.String("uri", slot.URI))
				*slot = models.ArtworkSlot{}
			}
		}
		return "", false
	}

	slot := item.Slot(kind)
	if slot == nil {
		return rec.URI, true
	}
	placeholder, err := s.Placeholder(rec.Path)
	if err != nil {
		s.logger.Warn("placeholder failed",
			zap.String("item_id", item.ID.String()),
			zap.String("path", rec.Path),
			zap.Error(err))
	}
	slot.URI = rec.URI
	slot.Placeholder = placeholder
	return rec.URI, true
}

func (s *Selector) find(item *models.CatalogItem, kind models.ArtworkKind, order []string) *Record {
	for _, source := range order {
		if rec, ok := s.store.Find(item.ID, kind, source); ok {
			return rec
		}
	}
	if kind != models.ArtworkPoster {
		return nil
	}

	// Posters fall back to anything stored, then to a thumbnail
	if recs, err := s.store.List(item.ID, models.ArtworkPoster); err == nil && len(recs) > 0 {
		return &recs[0]
	}
	for _, source := range order {
		if rec, ok := s.store.Find(item.ID, models.ArtworkThumbnail, source); ok {
			return rec
		}
	}
	if recs, err := s.store.List(item.ID, models.ArtworkThumbnail); err == nil && len(recs) > 0 {
		return &recs[0]
	}
	return nil
}

// Placeholder computes a BlurHash of the image at path after shrinking it to
// fit the configured size.
func (s *Selector) Placeholder(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return placeholderHash(img, s.placeholderSize)
}

func placeholderHash(img image.Image, size int) (string, error) {
	b := img.Bounds()
	if b.Dx() > size || b.Dy() > size {
		img = imaging.Fit(img, size, size, imaging.Box)
		b = img.Bounds()
	}
	x, y := 4, 3
	if b.Dy() > b.Dx() {
		x, y = 3, 4
	}
	return blurhash.Encode(x, y, img)
}
