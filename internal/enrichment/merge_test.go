package enrichment

import (
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server-sub005/internal/metadata"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

func patch(source string, p *metadata.Patch) *metadata.Contribution {
	return &metadata.Contribution{Source: source, Patch: p}
}

func TestMergeScalarsFirstNonEmptyWins(t *testing.T) {
	item := &models.CatalogItem{Title: "old", Tagline: "keep me"}
	changed := Merge(item, []*metadata.Contribution{
		patch("sidecar", &metadata.Patch{Title: "  ", Summary: "from sidecar"}),
		patch("tmdb", &metadata.Patch{Title: "Heat", Summary: "from tmdb", Year: 1995}),
	}, nil)

	assert.True(t, changed)
	assert.Equal(t, "Heat", item.Title)
	assert.Equal(t, "from sidecar", item.Summary)
	assert.Equal(t, "keep me", item.Tagline)
	assert.Equal(t, 1995, item.Year)
}

func TestMergeRespectsLocks(t *testing.T) {
	item := &models.CatalogItem{Summary: "mine", LockedFields: pq.StringArray{models.FieldSummary}}
	contribs := []*metadata.Contribution{
		patch("sidecar", &metadata.Patch{Summary: "A"}),
		patch("tmdb", &metadata.Patch{Summary: "B"}),
	}

	assert.False(t, Merge(item, contribs, nil))
	assert.Equal(t, "mine", item.Summary)

	assert.True(t, Merge(item, contribs, mapset.NewSet(models.FieldSummary)))
	assert.Equal(t, "A", item.Summary)
}

func TestMergeLockAllWithWildcardOverride(t *testing.T) {
	item := &models.CatalogItem{Title: "x", LockedFields: pq.StringArray{models.FieldAll}}
	contribs := []*metadata.Contribution{patch("tmdb", &metadata.Patch{Title: "y", DurationMS: 10})}

	assert.False(t, Merge(item, contribs, mapset.NewSet[string]()))
	assert.True(t, Merge(item, contribs, mapset.NewSet(models.FieldAll)))
	assert.Equal(t, "y", item.Title)
	assert.EqualValues(t, 10, item.DurationMS)
}

func TestMergeCollectionsUnion(t *testing.T) {
	item := &models.CatalogItem{AudioLanguages: pq.StringArray{"eng"}}
	Merge(item, []*metadata.Contribution{
		patch("sidecar", &metadata.Patch{AudioLanguages: []string{"ENG", "fra"}}),
		patch("embedded", &metadata.Patch{AudioLanguages: []string{"jpn", "fra"}, AudioCodecs: []string{"AAC"}}),
	}, nil)

	assert.Equal(t, []string{"eng", "fra", "jpn"}, []string(item.AudioLanguages))
	assert.Equal(t, []string{"aac"}, []string(item.AudioCodecs))
}

func TestMergeDurationTakesMaximum(t *testing.T) {
	item := &models.CatalogItem{DurationMS: 5}
	Merge(item, []*metadata.Contribution{
		patch("a", &metadata.Patch{DurationMS: 1000}),
		patch("b", &metadata.Patch{DurationMS: 3000}),
		patch("c", &metadata.Patch{DurationMS: -1}),
	}, nil)
	assert.EqualValues(t, 3000, item.DurationMS)
}

func TestMergeTypedDetailsKeyByKey(t *testing.T) {
	item := &models.CatalogItem{
		Music:       &models.MusicDetails{Label: "Columbia"},
		ProviderIDs: map[string]string{"imdb": "tt1"},
	}
	Merge(item, []*metadata.Contribution{
		patch("embedded", &metadata.Patch{
			Music:       &models.MusicDetails{TrackNumber: 3},
			ProviderIDs: map[string]string{"MusicBrainz_Recording": "rec-1"},
		}),
		patch("musicbrainz", &metadata.Patch{
			Music:       &models.MusicDetails{AlbumTitle: "Kind of Blue", TrackNumber: 4},
			ProviderIDs: map[string]string{"musicbrainz_recording": "rec-2", "musicbrainz_album": "alb"},
		}),
	}, nil)

	assert.Equal(t, &models.MusicDetails{AlbumTitle: "Kind of Blue", TrackNumber: 3, Label: "Columbia"}, item.Music)
	assert.Equal(t, map[string]string{
		"imdb":                  "tt1",
		"musicbrainz_recording": "rec-1",
		"musicbrainz_album":     "alb",
	}, item.ProviderIDs)
	assert.Nil(t, item.Episode)
}

func TestMergeIsIdempotent(t *testing.T) {
	date := time.Date(1995, 12, 15, 0, 0, 0, 0, time.UTC)
	contribs := []*metadata.Contribution{
		patch("sidecar", &metadata.Patch{Title: "Heat", ReleaseDate: &date, SubtitleLanguages: []string{"eng"}}),
		patch("tmdb", &metadata.Patch{Episode: &models.EpisodeDetails{SeasonNumber: 1}, ProviderIDs: map[string]string{"tmdb": "949"}}),
	}
	item := &models.CatalogItem{}
	require.True(t, Merge(item, contribs, nil))
	snapshot := item.Clone()

	assert.False(t, Merge(item, contribs, nil))
	assert.Equal(t, snapshot, item)
}

func TestMergeNoContributions(t *testing.T) {
	item := &models.CatalogItem{Title: "x"}
	assert.False(t, Merge(item, nil, nil))
	assert.False(t, Merge(item, []*metadata.Contribution{{Source: "tmdb", Genres: []string{"Drama"}}}, nil))
}
