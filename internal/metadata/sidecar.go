package metadata

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// SidecarSource reads NFO documents and artwork files stored next to a media part.
type SidecarSource struct {
	logger *zap.Logger
}

func NewSidecarSource(logger *zap.Logger) *SidecarSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SidecarSource{logger: logger.Named("sidecar")}
}

func (s *SidecarSource) Name() string { return SourceSidecar }

func (s *SidecarSource) Kind() Kind { return KindSidecar }

func (s *SidecarSource) CanHandle(item *models.CatalogItem, part models.MediaPart) bool {
	if part.Path == "" {
		return false
	}
	return FindNFOFile(part.Path, item.Type) != "" || len(DetectLocalArtwork(part.Path, item.Type)) > 0
}

func (s *SidecarSource) Extract(ctx context.Context, req Request) (*Contribution, error) {
	if req.Part == nil {
		return nil, errors.New("sidecar: no media part in request")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contribution := &Contribution{Source: SourceSidecar, Kind: KindSidecar}
	if path := FindNFOFile(req.Part.Path, req.Item.Type); path != "" {
		parsed, err := ReadNFO(path)
		switch {
		case errors.Is(err, ErrNoTitle):
			s.logger.Debug("nfo without title ignored", zap.String("path", path))
		case err != nil:
			// Broken NFO still allows local artwork to contribute
			s.logger.Warn("nfo unreadable", zap.String("path", path), zap.Error(err))
		default:
			contribution = parsed
		}
	}
	contribution.Part = req.PartIndex

	// Files on disk beat URLs referenced by the NFO
	for kind, path := range DetectLocalArtwork(req.Part.Path, req.Item.Type) {
		if contribution.Artwork == nil {
			contribution.Artwork = make(map[models.ArtworkKind]string)
		}
		contribution.Artwork[kind] = path
	}
	return contribution, nil
}
