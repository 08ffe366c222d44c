package metadata

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// Kind classifies where a contribution came from.
type Kind string

const (
	KindSidecar  Kind = "sidecar"
	KindEmbedded Kind = "embedded"
	KindAgent    Kind = "agent"
)

// Reserved source names used by the artwork precedence chain.
const (
	SourceSidecar  = "sidecar"
	SourceEmbedded = "embedded"
)

// Patch carries the scalar, technical and typed fields one source knows about.
// Zero values mean "no opinion".
type Patch struct {
	Title             string
	SortTitle         string
	OriginalTitle     string
	Summary           string
	Tagline           string
	ContentRating     string
	ReleaseDate       *time.Time
	Year              int
	DurationMS        int64
	AudioCodecs       []string
	AudioLanguages    []string
	SubtitleLanguages []string
	Music             *models.MusicDetails
	Classical         *models.ClassicalDetails
	Episode           *models.EpisodeDetails
	ProviderIDs       map[string]string
}

// Contribution is the output of one source invocation.
type Contribution struct {
	Source  string
	Kind    Kind
	Part    int // index into the item's parts; -1 for item-level sources
	Patch   *Patch
	Credits []models.Credit
	Genres  []string
	Tags    []string
	// Artwork maps a kind to a remote URL or a local file path.
	Artwork map[models.ArtworkKind]string
}

// Empty reports whether the contribution carries nothing worth merging.
func (c *Contribution) Empty() bool {
	return c == nil || (c.Patch == nil && len(c.Credits) == 0 && len(c.Genres) == 0 &&
		len(c.Tags) == 0 && len(c.Artwork) == 0)
}

// Request is the read-only input handed to a source. Sources must not modify Item.
type Request struct {
	Item    *models.CatalogItem
	Library *models.Library
	// Part is set for local sources only.
	Part      *models.MediaPart
	PartIndex int
}

// Source is a local, per-file metadata source (sidecar documents, embedded tags).
type Source interface {
	Name() string
	Kind() Kind
	CanHandle(item *models.CatalogItem, part models.MediaPart) bool
	Extract(ctx context.Context, req Request) (*Contribution, error)
}

// Agent is an item-level metadata source, usually backed by a remote service.
type Agent interface {
	Name() string
	Extract(ctx context.Context, req Request) (*Contribution, error)
}

// ArtworkAgent is implemented by agents that can supply artwork, listing the kinds.
type ArtworkAgent interface {
	ArtworkKinds() []models.ArtworkKind
}

// SupportsArtwork reports whether agent declares artwork of the given kind.
func SupportsArtwork(agent Agent, kind models.ArtworkKind) bool {
	aa, ok := agent.(ArtworkAgent)
	if !ok {
		return false
	}
	for _, k := range aa.ArtworkKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// titleSimilarity scores how close a search result title is to the query, 0..1.
func titleSimilarity(query, result string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	r := strings.ToLower(strings.TrimSpace(result))

	if q == r {
		return 1.0
	}
	if strings.HasPrefix(r, q+" ") || strings.HasPrefix(q, r+" ") {
		return 0.9
	}

	qWords := strings.Fields(q)
	rWords := strings.Fields(r)
	if len(qWords) == 0 || len(rWords) == 0 {
		return 0.0
	}

	rSet := make(map[string]bool, len(rWords))
	for _, w := range rWords {
		rSet[w] = true
	}
	matches := 0
	for _, w := range qWords {
		if rSet[w] {
			matches++
		}
	}

	total := len(qWords)
	if len(rWords) > total {
		total = len(rWords)
	}
	score := float64(matches) / float64(total)

	// Penalize results with many extra words ("Cloverfield" vs "10 Cloverfield Lane")
	if len(rWords) > len(qWords) {
		score *= float64(len(qWords)) / float64(len(rWords))
	}
	return score
}

// parseDate accepts YYYY-MM-DD and YYYY and returns nil for anything else.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	if len(s) > 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return &t
		}
	}
	return nil
}

// atoi parses a decimal integer, tolerating padding zeros ("01") and
// decimal suffixes ("1995.0"). Anything else yields 0.
func atoi(s string) int {
	s = strings.TrimLeft(strings.TrimSpace(s), "0")
	return cast.ToInt(s)
}
