package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/ffmpeg"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

// Prober inspects a media file's container and streams.
type Prober interface {
	Probe(ctx context.Context, filePath string) (*ffmpeg.ProbeResult, error)
}

// StreamExtractor writes a single picture stream of a media file to disk.
type StreamExtractor interface {
	ExtractStream(ctx context.Context, input string, stream int, output string) error
}

// EmbeddedSource reads container tags, stream information and attached cover
// art from the media file itself.
type EmbeddedSource struct {
	prober    Prober
	extractor StreamExtractor
	// scratchDir receives extracted cover pictures until they are ingested.
	scratchDir string
	logger     *zap.Logger
}

func NewEmbeddedSource(prober Prober, extractor StreamExtractor, scratchDir string, logger *zap.Logger) *EmbeddedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddedSource{
		prober:     prober,
		extractor:  extractor,
		scratchDir: scratchDir,
		logger:     logger.Named("embedded"),
	}
}

func (s *EmbeddedSource) Name() string { return SourceEmbedded }

func (s *EmbeddedSource) Kind() Kind { return KindEmbedded }

func (s *EmbeddedSource) CanHandle(_ *models.CatalogItem, part models.MediaPart) bool {
	return part.Path != "" && !part.IsImage()
}

func (s *EmbeddedSource) Extract(ctx context.Context, req Request) (*Contribution, error) {
	if req.Part == nil {
		return nil, errors.New("embedded: no media part in request")
	}
	probe, err := s.prober.Probe(ctx, req.Part.Path)
	if err != nil {
		return nil, err
	}

	patch := &Patch{
		Title:             probe.Tag("title"),
		Summary:           firstNonEmpty(probe.Tag("description"), probe.Tag("synopsis"), probe.Tag("comment")),
		DurationMS:        probe.DurationMS(),
		AudioCodecs:       probe.AudioCodecs(),
		AudioLanguages:    probe.AudioLanguages(),
		SubtitleLanguages: probe.SubtitleLanguages(),
	}
	if date := firstNonEmpty(probe.Tag("date"), probe.Tag("year"), probe.Tag("originaldate")); date != "" {
		patch.ReleaseDate = parseDate(date)
		if patch.ReleaseDate != nil {
			patch.Year = patch.ReleaseDate.Year()
		}
	}

	c := &Contribution{
		Source: SourceEmbedded,
		Kind:   KindEmbedded,
		Part:   req.PartIndex,
		Patch:  patch,
		Genres: splitTagList(probe.Tag("genre")),
	}

	switch req.Item.Type {
	case models.ItemTypeTrack, models.ItemTypeAlbum, models.ItemTypeMusicVideo, models.ItemTypeAudiobook:
		s.applyMusic(probe, c)
	case models.ItemTypeEpisode:
		if show := probe.Tag("show"); show != "" {
			patch.Episode = &models.EpisodeDetails{
				ShowTitle:     show,
				SeasonNumber:  atoi(probe.Tag("season_number")),
				EpisodeNumber: atoi(firstNonEmpty(probe.Tag("episode_sort"), probe.Tag("episode_id"))),
			}
		}
	}

	if ids := embeddedProviderIDs(probe); len(ids) > 0 {
		patch.ProviderIDs = ids
	}

	if stream := probe.CoverStream(); stream >= 0 && s.extractor != nil && s.scratchDir != "" {
		out := filepath.Join(s.scratchDir, req.Item.ID.String(), cast.ToString(req.PartIndex)+"-cover.jpg")
		if err := s.extractor.ExtractStream(ctx, req.Part.Path, stream, out); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("cover extraction failed", zap.String("path", req.Part.Path), zap.Error(err))
		} else if fileExists(out) {
			c.Artwork = map[models.ArtworkKind]string{models.ArtworkPoster: out}
		}
	}
	return c, nil
}

func (s *EmbeddedSource) applyMusic(probe *ffmpeg.ProbeResult, c *Contribution) {
	music := &models.MusicDetails{
		AlbumTitle:  probe.Tag("album"),
		AlbumArtist: firstNonEmpty(probe.Tag("album_artist"), probe.Tag("albumartist")),
		TrackNumber: leadingNumber(probe.Tag("track")),
		DiscNumber:  leadingNumber(probe.Tag("disc")),
		Label:       firstNonEmpty(probe.Tag("label"), probe.Tag("publisher")),
	}
	if *music != (models.MusicDetails{}) {
		c.Patch.Music = music
	}

	composer := probe.Tag("composer")
	classical := &models.ClassicalDetails{
		Work:           probe.Tag("work"),
		Movement:       firstNonEmpty(probe.Tag("movementname"), probe.Tag("movement_name")),
		MovementNumber: leadingNumber(probe.Tag("movement")),
	}
	if *classical != (models.ClassicalDetails{}) {
		classical.Composer = composer
		c.Patch.Classical = classical
	}

	for _, name := range splitTagList(probe.Tag("artist")) {
		c.Credits = append(c.Credits, models.Credit{Name: name, Kind: models.CreditGroup, Relation: "artist"})
	}
	for _, name := range splitTagList(composer) {
		c.Credits = append(c.Credits, models.Credit{Name: name, Kind: models.CreditPerson, Relation: "composer"})
	}
}

func embeddedProviderIDs(probe *ffmpeg.ProbeResult) map[string]string {
	ids := map[string]string{}
	pairs := map[string]string{
		"musicbrainz_trackid":        "musicbrainz_recording",
		"musicbrainz_albumid":        "musicbrainz_album",
		"musicbrainz_artistid":       "musicbrainz_artist",
		"musicbrainz_releasegroupid": "musicbrainz_releasegroup",
		"imdb_id":                    "imdb",
		"tmdb_id":                    "tmdb",
	}
	for tag, key := range pairs {
		if v := probe.Tag(tag); v != "" {
			ids[key] = v
		}
	}
	return ids
}

// splitTagList splits multi-value tags on the separators taggers commonly use.
func splitTagList(v string) []string {
	if v == "" {
		return nil
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ';' || r == '|' || r == '\x00'
	})
	return trimAll(fields)
}

// leadingNumber parses "3/12" style values.
func leadingNumber(v string) int {
	if i := strings.IndexByte(v, '/'); i >= 0 {
		v = v[:i]
	}
	return atoi(v)
}

// RemoveScratch drops extracted pictures for an item after ingestion.
func (s *EmbeddedSource) RemoveScratch(itemID string) {
	if s.scratchDir == "" || itemID == "" {
		return
	}
	if err := os.RemoveAll(filepath.Join(s.scratchDir, itemID)); err != nil {
		s.logger.Debug("scratch cleanup failed", zap.String("item_id", itemID), zap.Error(err))
	}
}
