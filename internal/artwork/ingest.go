package artwork

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// Provider generates artwork for an item (for example a frame grabbed from a
// video) and writes it into the Store under its own name.
type Provider interface {
	Name() string
	Kinds() []models.ArtworkKind
	Supports(item *models.CatalogItem) bool
	Provide(ctx context.Context, item *models.CatalogItem, parts []models.MediaPart) error
}

// Ingestor copies artwork referenced by metadata sources into the Store.
type Ingestor struct {
	store     *Store
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

func NewIngestor(store *Store, client *http.Client, userAgent string, logger *zap.Logger) *Ingestor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: store, client: client, userAgent: userAgent, logger: logger.Named("ingest")}
}

// Ingest stores the image at ref for (item, kind) tagged with source. ref is
// an http(s) URL or a local file path.
func (in *Ingestor) Ingest(ctx context.Context, itemID uuid.UUID, kind models.ArtworkKind, source, ref string) (*Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("artwork: empty reference")
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return in.download(ctx, itemID, kind, source, u)
	}
	return in.copyLocal(ctx, itemID, kind, source, ref)
}

func (in *Ingestor) download(ctx context.Context, itemID uuid.UUID, kind models.ArtworkKind, source string, u *url.URL) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if in.userAgent != "" {
		req.Header.Set("User-Agent", in.userAgent)
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artwork download returned %d", resp.StatusCode)
	}

	ext := extFromContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = imageExt(u.Path)
	}
	rec, err := in.store.Put(itemID, kind, source, ext, resp.Body)
	if err != nil {
		return nil, err
	}
	in.logger.Debug("artwork downloaded",
		zap.String("item_id", itemID.String()),
		zap.String("kind", string(kind)),
		zap.String("source", source),
		zap.String("url", u.Redacted()))
	return rec, nil
}

func (in *Ingestor) copyLocal(ctx context.Context, itemID uuid.UUID, kind models.ArtworkKind, source, path string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open local artwork: %w", err)
	}
	defer f.Close()
	return in.store.Put(itemID, kind, source, imageExt(path), f)
}

func extFromContentType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	switch mt {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ""
}

func imageExt(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jpg", ".jpeg":
		return ".jpg"
	case ".png", ".webp", ".gif":
		return ext
	}
	return ".jpg"
}
