package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server-sub005/internal/artwork"
	"github.com/nexamediaserver/server-sub005/internal/httputil"
	"github.com/nexamediaserver/server-sub005/internal/jobs"
	"github.com/nexamediaserver/server-sub005/internal/models"
	"github.com/nexamediaserver/server-sub005/internal/rendition"
	"github.com/nexamediaserver/server-sub005/internal/repository"
)

type fakeItems map[uuid.UUID]*models.CatalogItem

func (f fakeItems) GetCatalogItem(_ context.Context, id uuid.UUID) (*models.CatalogItem, error) {
	if item, ok := f[id]; ok {
		return item, nil
	}
	return nil, fmt.Errorf("item %s: %w", id, repository.ErrNotFound)
}

type fakeLibraries struct {
	libs  []*models.Library
	order map[uuid.UUID][]string
}

func (f *fakeLibraries) List(context.Context) ([]*models.Library, error) { return f.libs, nil }

func (f *fakeLibraries) SetAgentOrder(_ context.Context, id uuid.UUID, order []string) error {
	for _, l := range f.libs {
		if l.ID == id {
			f.order[id] = order
			return nil
		}
	}
	return fmt.Errorf("library %s: %w", id, repository.ErrNotFound)
}

type fakeSettings map[string]string

func (f fakeSettings) All(context.Context) (map[string]string, error) { return f, nil }

func (f fakeSettings) SetMany(_ context.Context, values map[string]string) error {
	for k, v := range values {
		f[k] = v
	}
	return nil
}

func (f fakeSettings) Reset(_ context.Context, key string) error {
	if _, ok := f[key]; !ok {
		return fmt.Errorf("setting %s: %w", key, repository.ErrNotFound)
	}
	delete(f, key)
	return nil
}

type fakeQueue struct {
	payloads []jobs.EnrichPayload
}

func (q *fakeQueue) EnqueueUnique(_ context.Context, _ string, payload interface{}, uniqueID string, _ ...asynq.Option) (string, error) {
	q.payloads = append(q.payloads, payload.(jobs.EnrichPayload))
	return uniqueID, nil
}

type fixture struct {
	server    *Server
	items     fakeItems
	libraries *fakeLibraries
	settings  fakeSettings
	queue     *fakeQueue
	item      *models.CatalogItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := artwork.NewStore(t.TempDir())
	item := &models.CatalogItem{ID: uuid.New(), Type: models.ItemTypeMovie, Title: "Heat"}

	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	poster, err := store.Put(item.ID, models.ArtworkPoster, "tmdb", ".png", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	_, err = store.Put(item.ID, models.ArtworkThumbnail, "ffmpeg", ".png", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	item.Poster.URI = poster.URI

	f := &fixture{
		items:     fakeItems{item.ID: item},
		libraries: &fakeLibraries{libs: []*models.Library{{ID: uuid.New(), Name: "Movies"}}, order: map[uuid.UUID][]string{}},
		settings:  fakeSettings{"log_level": "info"},
		queue:     &fakeQueue{},
		item:      item,
	}
	f.server = NewServer(Deps{
		Items:     f.items,
		Libraries: f.libraries,
		Settings:  f.settings,
		Renderer:  rendition.NewCache(t.TempDir(), store, 85, nil),
		Queue:     f.queue,
	})
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestArtworkServesSelectedSlot(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/items/"+f.item.ID.String()+"/artwork/poster", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 60, cfg.Height)

	rec = f.do(http.MethodGet, "/api/v1/items/"+f.item.ID.String()+"/artwork/poster?w=20&h=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err = png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 20, cfg.Height)

	rec = f.do(http.MethodGet, "/api/v1/items/"+f.item.ID.String()+"/artwork/poster?w=20&h=20&fit=contain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err = png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 20)
	assert.Equal(t, 20, cfg.Height)
}

func TestArtworkBySource(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/items/"+f.item.ID.String()+"/artwork/thumbnail?source=ffmpeg&format=jpeg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	rec = f.do(http.MethodGet, "/api/v1/items/"+f.item.ID.String()+"/artwork/thumbnail?source=tmdb", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArtworkErrors(t *testing.T) {
	f := newFixture(t)
	id := f.item.ID.String()
	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"bad id", "/api/v1/items/nope/artwork/poster", http.StatusBadRequest, "INVALID_ID"},
		{"unknown item", "/api/v1/items/" + uuid.NewString() + "/artwork/poster", http.StatusNotFound, "NOT_FOUND"},
		{"empty slot", "/api/v1/items/" + id + "/artwork/backdrop", http.StatusNotFound, "NO_ARTWORK"},
		{"kind without slot", "/api/v1/items/" + id + "/artwork/banner", http.StatusBadRequest, "INVALID_KIND"},
		{"negative width", "/api/v1/items/" + id + "/artwork/poster?w=-1", http.StatusBadRequest, "INVALID_PARAM"},
		{"bad fit", "/api/v1/items/" + id + "/artwork/poster?fit=stretch", http.StatusBadRequest, "INVALID_PARAM"},
		{"bad format", "/api/v1/items/" + id + "/artwork/poster?format=tiff", http.StatusBadRequest, "INVALID_PARAM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestEnrichEnqueues(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/items/"+f.item.ID.String()+"/enrich",
		`{"override_fields":["summary"],"metadata_only":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "enrich:"+f.item.ID.String())
	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, []string{"summary"}, f.queue.payloads[0].OverrideFields)
	assert.True(t, f.queue.payloads[0].MetadataOnly)

	rec = f.do(http.MethodPost, "/api/v1/items/"+f.item.ID.String()+"/enrich", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/items/"+uuid.NewString()+"/enrich", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/items/"+f.item.ID.String()+"/enrich", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.queue.payloads, 2)
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPut, "/api/v1/settings", `{"tmdb_api_key":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", f.settings["tmdb_api_key"])

	rec = f.do(http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "info", body.Data["log_level"])
	assert.Equal(t, "abc", body.Data["tmdb_api_key"])

	rec = f.do(http.MethodPut, "/api/v1/settings", `{"tmdb_api_key":"def","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "abc", f.settings["tmdb_api_key"])

	rec = f.do(http.MethodDelete, "/api/v1/settings/tmdb_api_key", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, f.settings, "tmdb_api_key")
	rec = f.do(http.MethodDelete, "/api/v1/settings/tmdb_api_key", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetAgentOrder(t *testing.T) {
	f := newFixture(t)
	lib := f.libraries.libs[0]
	rec := f.do(http.MethodPut, "/api/v1/libraries/"+lib.ID.String()+"/agent-order", `{"agents":[" FanartTV","tmdb",""]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"fanarttv", "tmdb"}, f.libraries.order[lib.ID])

	rec = f.do(http.MethodPut, "/api/v1/libraries/"+uuid.NewString()+"/agent-order", `{"agents":["tmdb"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/libraries", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Movies")
}
