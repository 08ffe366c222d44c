package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var itemCols = []string{"id", "library_id", "item_type", "title", "sort_title", "original_title", "summary",
	"tagline", "content_rating", "release_date", "year", "duration_ms",
	"audio_codecs", "audio_languages", "subtitle_languages", "locked_fields",
	"poster_uri", "poster_placeholder", "backdrop_uri", "backdrop_placeholder", "logo_uri", "logo_placeholder",
	"music", "classical", "episode", "provider_ids", "updated_at"}

func TestGetCatalogItem(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMediaRepository(db)
	id, lib, file := uuid.New(), uuid.New(), uuid.New()
	part1, part2, person := uuid.New(), uuid.New(), uuid.New()
	released := time.Date(1995, 12, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM catalog_items WHERE id = \$1`).WithArgs(id).WillReturnRows(
		sqlmock.NewRows(itemCols).AddRow(
			id.String(), lib.String(), "movie", "Heat", "", "", "A heist.",
			"", "R", released, 1995, int64(10200000),
			"{dts}", "{eng,fra}", "{}", "{summary}",
			"metadata://poster/sidecar_"+id.String(), "LEHV6n", "", "", "", "",
			nil, nil, []byte(`{"season_number":1}`), []byte(`{"tmdb":"949"}`), released))
	mock.ExpectQuery(`FROM media_files f JOIN media_parts`).WithArgs(id).WillReturnRows(
		sqlmock.NewRows([]string{"id", "container", "id", "file_path", "file_size", "position"}).
			AddRow(file.String(), "mkv", part1.String(), "/movies/Heat/Heat.cd1.mkv", int64(42), 0).
			AddRow(file.String(), "mkv", part2.String(), "/movies/Heat/Heat.cd2.mkv", int64(43), 1))
	mock.ExpectQuery(`FROM item_genres`).WithArgs(id).WillReturnRows(
		sqlmock.NewRows([]string{"name"}).AddRow("Crime").AddRow("Drama"))
	mock.ExpectQuery(`FROM item_tags`).WithArgs(id).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectQuery(`FROM item_credits c`).WithArgs(id).WillReturnRows(
		sqlmock.NewRows([]string{"name", "person_id", "relation", "role", "thumb"}).
			AddRow("Al Pacino", person.String(), "actor", "Vincent Hanna", "").
			AddRow("Forward Pass", nil, "studio", "", ""))
	mock.ExpectQuery(`WHERE parent_id = \$1`).WithArgs(id).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	item, err := repo.GetCatalogItem(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, models.ItemTypeMovie, item.Type)
	assert.Equal(t, "Heat", item.Title)
	require.NotNil(t, item.ReleaseDate)
	assert.True(t, item.ReleaseDate.Equal(released))
	assert.Equal(t, []string{"eng", "fra"}, []string(item.AudioLanguages))
	assert.True(t, item.IsFieldLocked(models.FieldSummary))
	assert.Equal(t, "LEHV6n", item.Poster.Placeholder)
	assert.Nil(t, item.Music)
	assert.Equal(t, &models.EpisodeDetails{SeasonNumber: 1}, item.Episode)
	assert.Equal(t, map[string]string{"tmdb": "949"}, item.ProviderIDs)
	require.Len(t, item.Media, 1)
	assert.Len(t, item.Media[0].Parts, 2)
	assert.Equal(t, []string{"Crime", "Drama"}, item.Genres)
	assert.Empty(t, item.Tags)
	require.Len(t, item.Credits, 2)
	assert.Equal(t, models.CreditPerson, item.Credits[0].Kind)
	assert.Equal(t, person, *item.Credits[0].PersonID)
	assert.Equal(t, models.CreditGroup, item.Credits[1].Kind)
	assert.Nil(t, item.Credits[1].PersonID)
}

func TestGetCatalogItemNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM catalog_items WHERE id`).WillReturnError(sql.ErrNoRows)

	_, err := NewMediaRepository(db).GetCatalogItem(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveEnrichment(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMediaRepository(db)
	item := &models.CatalogItem{
		ID:     uuid.New(),
		Title:  "Heat",
		Genres: []string{"Crime", "Drama"},
		Credits: []models.Credit{
			{Name: "Al Pacino", Kind: models.CreditPerson, Relation: "actor", Role: "Vincent Hanna"},
			{Name: "Al  pacino", Kind: models.CreditPerson, Relation: "producer"},
			{Name: "Forward Pass", Kind: models.CreditGroup, Relation: "studio"},
		},
		ProviderIDs: map[string]string{"tmdb": "949"},
	}
	crime, drama, pacino, studio := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE catalog_items SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM item_genres`).WithArgs(item.ID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO genres`).WithArgs(sqlmock.AnyArg(), "Crime").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(crime.String()))
	mock.ExpectExec(`INSERT INTO item_genres`).WithArgs(item.ID, crime, 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO genres`).WithArgs(sqlmock.AnyArg(), "Drama").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(drama.String()))
	mock.ExpectExec(`INSERT INTO item_genres`).WithArgs(item.ID, drama, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM item_tags`).WithArgs(item.ID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM item_credits`).WithArgs(item.ID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO people`).WithArgs(sqlmock.AnyArg(), "Al Pacino", "al pacino", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(pacino.String()))
	mock.ExpectExec(`INSERT INTO item_credits`).WithArgs(item.ID, pacino, nil, "actor", "Vincent Hanna", "", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Same normalized name: reuses the person created above
	mock.ExpectExec(`INSERT INTO item_credits`).WithArgs(item.ID, pacino, nil, "producer", "", "", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO groups`).WithArgs(sqlmock.AnyArg(), "Forward Pass", "forward pass").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(studio.String()))
	mock.ExpectExec(`INSERT INTO item_credits`).WithArgs(item.ID, nil, studio, "studio", "", "", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveEnrichment(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, pacino, *item.Credits[0].PersonID)
	assert.Equal(t, pacino, *item.Credits[1].PersonID)
	assert.Nil(t, item.Credits[2].PersonID)
}

func TestSaveEnrichmentMissingItemRollsBack(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE catalog_items SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := NewMediaRepository(db).SaveEnrichment(context.Background(), &models.CatalogItem{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePartAnalysis(t *testing.T) {
	db, mock := newMock(t)
	part := uuid.New()
	lufs, gain := -18.5, 4.5
	mock.ExpectExec(`UPDATE media_parts`).WithArgs(part, int64(1000), lufs, gain).WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewMediaRepository(db).SavePartAnalysis(context.Background(),
		models.PartAnalysis{PartID: part, DurationMS: 1000, LoudnessLUFS: &lufs, GainDB: &gain})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleAndMarkEnriched(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMediaRepository(db)
	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT id FROM catalog_items`).WithArgs(cutoff, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a.String()).AddRow(b.String()))
	ids, err := repo.ListStale(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)

	mock.ExpectExec(`UPDATE catalog_items SET enriched_at`).WithArgs(a).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkEnriched(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLibraryGetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLibraryRepository(db)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`FROM libraries WHERE id = \$1`).WithArgs(id).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "item_type", "paths", "agent_order", "created_at", "updated_at"}).
			AddRow(id.String(), "Movies", "movie", "{/media/movies}", "{fanarttv,tmdb}", now, now))
	lib, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"fanarttv", "tmdb"}, []string(lib.AgentOrder))
	assert.Equal(t, models.ItemTypeMovie, lib.Type)

	mock.ExpectQuery(`FROM libraries WHERE id`).WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettings(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO settings`).WithArgs("tmdb_api_key", "abc").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, repo.SetMany(ctx, map[string]string{"tmdb_api_key": "abc"}))
	require.NoError(t, repo.SetMany(ctx, nil))

	mock.ExpectQuery(`SELECT key, value FROM settings`).WillReturnRows(
		sqlmock.NewRows([]string{"key", "value"}).AddRow("tmdb_api_key", "abc"))
	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tmdb_api_key": "abc"}, all)

	mock.ExpectExec(`DELETE FROM settings`).WithArgs("tmdb_api_key").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Reset(ctx, "tmdb_api_key"))
	mock.ExpectExec(`DELETE FROM settings`).WithArgs("tmdb_api_key").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Reset(ctx, "tmdb_api_key"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsSetManyRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSettingsRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO settings`).WithArgs("refresh_after_days", "7").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()
	err := repo.SetMany(context.Background(), map[string]string{"refresh_after_days": "7"})
	assert.ErrorContains(t, err, "refresh_after_days")
	require.NoError(t, mock.ExpectationsWereMet())
}
