package enrichment

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/nexamediaserver/server-sub005/internal/metadata"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Drama", "drama"},
		{"  Science   Fiction ", "science fiction"},
		{"Café", "cafe"},
		{"ŚCIENCE", "science"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), tt.in)
	}
}

func TestGenresDedupeAndAliases(t *testing.T) {
	n := NewNormalizer(map[string]string{"Sci-Fi": "Science Fiction"}, nil, nil, nil)
	got := n.Genres([]string{"Sci-Fi", "drama", "  Science  fiction", "Drama", "", "Crime"})
	assert.Equal(t, []string{"Science Fiction", "drama", "Crime"}, got)
}

func TestTagModeration(t *testing.T) {
	n := NewNormalizer(nil, nil, []string{"Spoiler"}, nil)
	assert.Equal(t, []string{"heist", "LA"}, n.Tags([]string{"heist", "spoiler", "LA", "Heist"}))

	n = NewNormalizer(nil, []string{"heist"}, nil, nil)
	assert.Equal(t, []string{"Heist"}, n.Tags([]string{"Heist", "LA"}))
}

func TestNormalizeAndApply(t *testing.T) {
	n := NewNormalizer(nil, nil, nil, nil)
	item := &models.CatalogItem{Genres: []string{"Old"}}
	contribs := []*metadata.Contribution{
		{Source: "sidecar", Kind: metadata.KindSidecar, Genres: []string{"Crime"},
			Credits: []models.Credit{{Name: "Michael Mann", Kind: models.CreditPerson, Relation: "director"}}},
		{Source: "tmdb", Kind: metadata.KindAgent, Genres: []string{"crime", "Drama"}, Tags: []string{"heist"},
			Credits: []models.Credit{{Name: " Al  Pacino ", Relation: "actor", Role: "Hanna"}, {Name: " "}}},
	}

	assert.True(t, n.NormalizeAndApply(item, contribs, nil))
	assert.Equal(t, []string{"Crime", "Drama"}, item.Genres)
	assert.Equal(t, []string{"heist"}, item.Tags)
	// Agent credits come first
	assert.Equal(t, []models.Credit{
		{Name: "Al Pacino", Kind: models.CreditPerson, Relation: "actor", Role: "Hanna"},
		{Name: "Michael Mann", Kind: models.CreditPerson, Relation: "director"},
	}, item.Credits)

	assert.False(t, n.NormalizeAndApply(item, contribs, nil))
}

func TestNormalizeEmptyResultKeepsExisting(t *testing.T) {
	n := NewNormalizer(nil, nil, nil, nil)
	item := &models.CatalogItem{Genres: []string{"Drama"}, Tags: []string{"x"}}
	assert.False(t, n.NormalizeAndApply(item, nil, nil))
	assert.Equal(t, []string{"Drama"}, item.Genres)
	assert.Equal(t, []string{"x"}, item.Tags)
}

func TestNormalizeLockedCollections(t *testing.T) {
	n := NewNormalizer(nil, nil, nil, nil)
	contribs := []*metadata.Contribution{{Source: "tmdb", Kind: metadata.KindAgent,
		Genres: []string{"Drama"}, Tags: []string{"heist"}, Credits: []models.Credit{{Name: "A"}}}}

	item := &models.CatalogItem{LockedFields: pq.StringArray{models.FieldGenres, models.FieldTags}}
	assert.False(t, n.NormalizeAndApply(item, contribs, nil))
	assert.Empty(t, item.Credits)

	item = &models.CatalogItem{LockedFields: pq.StringArray{models.FieldGenres}}
	assert.True(t, n.NormalizeAndApply(item, contribs, nil))
	assert.Empty(t, item.Genres)
	assert.Equal(t, []string{"heist"}, item.Tags)

	item = &models.CatalogItem{LockedFields: pq.StringArray{models.FieldGenres, models.FieldTags}}
	assert.True(t, n.NormalizeAndApply(item, contribs, mapset.NewSet(models.FieldGenres)))
	assert.Equal(t, []string{"Drama"}, item.Genres)
	assert.Empty(t, item.Tags)
}
