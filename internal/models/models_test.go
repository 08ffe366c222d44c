package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFieldLocked(t *testing.T) {
	item := &CatalogItem{LockedFields: []string{FieldSummary}}
	assert.True(t, item.IsFieldLocked(FieldSummary))
	assert.False(t, item.IsFieldLocked(FieldTitle))

	item.LockedFields = []string{FieldAll}
	assert.True(t, item.IsFieldLocked(FieldTitle))
}

func TestHasVideo(t *testing.T) {
	item := &CatalogItem{Media: []MediaFile{{Parts: []MediaPart{{Path: "/music/a.flac"}, {Path: "/music/b.MP3"}}}}}
	assert.False(t, item.HasVideo())

	item.Media = append(item.Media, MediaFile{Parts: []MediaPart{{Path: "/movies/Movie (2020).MKV"}}})
	assert.True(t, item.HasVideo())
}

func TestCloneIsDeep(t *testing.T) {
	released := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	pid := uuid.New()
	orig := &CatalogItem{
		ID:          uuid.New(),
		Title:       "Heat",
		ReleaseDate: &released,
		AudioCodecs: []string{"aac"},
		Genres:      []string{"Crime"},
		Credits:     []Credit{{Name: "Al Pacino", PersonID: &pid}},
		Media:       []MediaFile{{Parts: []MediaPart{{Path: "/m/heat.mkv"}}}},
		Music:       &MusicDetails{AlbumTitle: "x"},
		ProviderIDs: map[string]string{"tmdb": "949"},
	}

	c := orig.Clone()
	require.Equal(t, orig, c)

	c.AudioCodecs[0] = "ac3"
	c.Genres[0] = "Drama"
	c.Media[0].Parts[0].Path = "/other"
	c.Music.AlbumTitle = "y"
	c.ProviderIDs["tmdb"] = "1"
	*c.ReleaseDate = released.AddDate(1, 0, 0)

	assert.Equal(t, "aac", orig.AudioCodecs[0])
	assert.Equal(t, "Crime", orig.Genres[0])
	assert.Equal(t, "/m/heat.mkv", orig.Media[0].Parts[0].Path)
	assert.Equal(t, "x", orig.Music.AlbumTitle)
	assert.Equal(t, "949", orig.ProviderIDs["tmdb"])
	assert.Equal(t, released, *orig.ReleaseDate)
}
