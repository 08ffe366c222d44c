package artwork

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func put(t *testing.T, s *Store, id uuid.UUID, kind models.ArtworkKind, source string, data []byte) *Record {
	t.Helper()
	rec, err := s.Put(id, kind, source, ".png", bytes.NewReader(data))
	require.NoError(t, err)
	return rec
}

func TestURIRoundTrip(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-0000-4000-8000-000000000001")
	uri := FormatURI(models.ArtworkBackdrop, "fanarttv", id)
	assert.Equal(t, "metadata://backdrop/fanarttv_6f1c2a9e-0000-4000-8000-000000000001", uri)

	kind, source, got, err := ParseURI(uri)
	require.NoError(t, err)
	assert.Equal(t, models.ArtworkBackdrop, kind)
	assert.Equal(t, "fanarttv", source)
	assert.Equal(t, id, got)
}

func TestParseURIRejectsMalformed(t *testing.T) {
	for _, uri := range []string{
		"",
		"http://poster/tmdb_6f1c2a9e-0000-4000-8000-000000000001",
		"metadata://poster",
		"metadata://banner/tmdb_6f1c2a9e-0000-4000-8000-000000000001",
		"metadata://poster/tmdb-6f1c2a9e-0000-4000-8000-000000000001",
		"metadata://poster/tmdb_not-a-uuid",
		"metadata://poster/../x_6f1c2a9e-0000-4000-8000-000000000001",
	} {
		_, _, _, err := ParseURI(uri)
		assert.ErrorIs(t, err, ErrInvalidURI, uri)
	}
}

func TestStorePutLayoutAndReplace(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	id := uuid.New()

	rec := put(t, s, id, models.ArtworkPoster, "tmdb", []byte("one"))
	idStr := id.String()
	assert.Equal(t, filepath.Join(root, idStr[:2], idStr, "poster", "tmdb_"+idStr+".png"), rec.Path)
	assert.Equal(t, FormatURI(models.ArtworkPoster, "tmdb", id), rec.URI)

	// Identical content keeps the file untouched
	info, err := os.Stat(rec.Path)
	require.NoError(t, err)
	put(t, s, id, models.ArtworkPoster, "tmdb", []byte("one"))
	info2, err := os.Stat(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())

	// A new extension replaces the old file
	jpg, err := s.Put(id, models.ArtworkPoster, "tmdb", ".JPG", strings.NewReader("two"))
	require.NoError(t, err)
	assert.NoFileExists(t, rec.Path)
	data, err := os.ReadFile(jpg.Path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(jpg.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStorePutRejectsBadInput(t *testing.T) {
	s := NewStore(t.TempDir())
	id := uuid.New()

	_, err := s.Put(id, models.ArtworkPoster, "../evil", ".png", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = s.Put(id, "banner", "tmdb", ".png", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = s.Put(id, models.ArtworkPoster, "tmdb", ".png", strings.NewReader(""))
	assert.Error(t, err)
}

func TestStoreListAndResolve(t *testing.T) {
	s := NewStore(t.TempDir())
	id := uuid.New()
	put(t, s, id, models.ArtworkPoster, "tmdb", []byte("a"))
	put(t, s, id, models.ArtworkPoster, "embedded", []byte("b"))
	put(t, s, id, models.ArtworkPoster, "sidecar", []byte("c"))

	recs, err := s.List(id, models.ArtworkPoster)
	require.NoError(t, err)
	var sources []string
	for _, r := range recs {
		sources = append(sources, r.Source)
	}
	assert.Equal(t, []string{"embedded", "sidecar", "tmdb"}, sources)

	path, err := s.Resolve(FormatURI(models.ArtworkPoster, "tmdb", id))
	require.NoError(t, err)
	assert.Equal(t, recs[2].Path, path)

	_, err = s.Resolve(FormatURI(models.ArtworkLogo, "tmdb", id))
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err = s.List(uuid.New(), models.ArtworkPoster)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestIngestorDownloadsAndCopies(t *testing.T) {
	img := pngBytes(t, 4, 4, color.White)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	s := NewStore(t.TempDir())
	in := NewIngestor(s, srv.Client(), "NexaTest", nil)
	id := uuid.New()

	rec, err := in.Ingest(context.Background(), id, models.ArtworkPoster, "tmdb", srv.URL+"/w780/abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(rec.Path))

	_, err = in.Ingest(context.Background(), id, models.ArtworkLogo, "tmdb", srv.URL+"/missing.jpg")
	assert.Error(t, err)

	local := filepath.Join(t.TempDir(), "fanart.JPEG")
	require.NoError(t, os.WriteFile(local, img, 0o644))
	rec, err = in.Ingest(context.Background(), id, models.ArtworkBackdrop, "sidecar", local)
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(rec.Path))

	_, err = in.Ingest(context.Background(), id, models.ArtworkBackdrop, "sidecar", filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Error(t, err)
}

func TestPrecedence(t *testing.T) {
	got := Precedence(models.ArtworkPoster, []string{"TMDB", "fanarttv"}, []string{"musicbrainz"}, []string{"ffmpeg", "tmdb"})
	assert.Equal(t, []string{"sidecar", "tmdb", "fanarttv", "ffmpeg", "embedded"}, got)

	got = Precedence(models.ArtworkLogo, nil, []string{"fanarttv"}, nil)
	assert.Equal(t, []string{"sidecar", "fanarttv", "embedded"}, got)

	// Deterministic for identical inputs
	assert.Equal(t, got, Precedence(models.ArtworkLogo, nil, []string{"fanarttv"}, nil))
}

func TestSelectPrimaryFollowsPrecedence(t *testing.T) {
	s := NewStore(t.TempDir())
	sel := NewSelector(s, 0, nil)
	item := &models.CatalogItem{ID: uuid.New()}

	put(t, s, item.ID, models.ArtworkPoster, "embedded", pngBytes(t, 10, 15, color.Black))
	put(t, s, item.ID, models.ArtworkPoster, "tmdb", pngBytes(t, 200, 300, color.White))

	order := Precedence(models.ArtworkPoster, []string{"tmdb"}, nil, nil)
	uri, ok := sel.SelectPrimary(context.Background(), item, models.ArtworkPoster, order)
	require.True(t, ok)
	assert.Equal(t, FormatURI(models.ArtworkPoster, "tmdb", item.ID), uri)
	assert.Equal(t, uri, item.Poster.URI)
	assert.NotEmpty(t, item.Poster.Placeholder)

	// A sidecar image outranks every agent
	put(t, s, item.ID, models.ArtworkPoster, "sidecar", pngBytes(t, 20, 30, color.White))
	uri, ok = sel.SelectPrimary(context.Background(), item, models.ArtworkPoster, order)
	require.True(t, ok)
	assert.Equal(t, FormatURI(models.ArtworkPoster, "sidecar", item.ID), uri)
}

func TestSelectPrimaryPosterFallbacks(t *testing.T) {
	s := NewStore(t.TempDir())
	sel := NewSelector(s, 0, nil)
	item := &models.CatalogItem{ID: uuid.New()}
	order := Precedence(models.ArtworkPoster, []string{"tmdb"}, nil, nil)

	// Only a thumbnail from a provider outside the chain
	put(t, s, item.ID, models.ArtworkThumbnail, "ffmpeg", pngBytes(t, 16, 9, color.White))
	uri, ok := sel.SelectPrimary(context.Background(), item, models.ArtworkPoster, order)
	require.True(t, ok)
	assert.Equal(t, FormatURI(models.ArtworkThumbnail, "ffmpeg", item.ID), uri)

	// Any stored poster beats a thumbnail, smallest file name first
	put(t, s, item.ID, models.ArtworkPoster, "zeta", pngBytes(t, 2, 3, color.White))
	put(t, s, item.ID, models.ArtworkPoster, "alpha", pngBytes(t, 2, 3, color.White))
	uri, ok = sel.SelectPrimary(context.Background(), item, models.ArtworkPoster, order)
	require.True(t, ok)
	assert.Equal(t, FormatURI(models.ArtworkPoster, "alpha", item.ID), uri)
}

func TestSelectPrimaryBackdropHasNoFallback(t *testing.T) {
	s := NewStore(t.TempDir())
	sel := NewSelector(s, 0, nil)
	item := &models.CatalogItem{ID: uuid.New(), Backdrop: models.ArtworkSlot{URI: "metadata://backdrop/old_x"}}

	put(t, s, item.ID, models.ArtworkBackdrop, "unlisted", pngBytes(t, 4, 4, color.White))
	_, ok := sel.SelectPrimary(context.Background(), item, models.ArtworkBackdrop, Precedence(models.ArtworkBackdrop, nil, nil, nil))
	assert.False(t, ok)
	assert.Equal(t, "metadata://backdrop/old_x", item.Backdrop.URI)
}

func TestSelectPrimaryKeepsURIWhenImageIsUndecodable(t *testing.T) {
	s := NewStore(t.TempDir())
	sel := NewSelector(s, 0, nil)
	item := &models.CatalogItem{ID: uuid.New()}
	put(t, s, item.ID, models.ArtworkLogo, "sidecar", []byte("not an image"))

	uri, ok := sel.SelectPrimary(context.Background(), item, models.ArtworkLogo, Precedence(models.ArtworkLogo, nil, nil, nil))
	require.True(t, ok)
	assert.Equal(t, uri, item.Logo.URI)
	assert.Empty(t, item.Logo.Placeholder)
}

func TestPlaceholderHashShrinksLargeImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	hash, err := placeholderHash(img, 64)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

func TestSelectPrimaryThumbnailFallbackWalksPrecedence(t *testing.T) {
	s := NewStore(t.TempDir())
	sel := NewSelector(s, 0, nil)
	item := &models.CatalogItem{ID: uuid.New()}
	put(t, s, item.ID, models.ArtworkThumbnail, "ffmpeg", pngBytes(t, 16, 9, color.White))
	put(t, s, item.ID, models.ArtworkThumbnail, "libvips", pngBytes(t, 16, 9, color.Black))

	uri, ok := sel.SelectPrimary(context.Background(), item, models.ArtworkPoster, []string{"ffmpeg", "libvips"})
	require.True(t, ok)
	assert.Equal(t, FormatURI(models.ArtworkThumbnail, "ffmpeg", item.ID), uri)

	uri, ok = sel.SelectPrimary(context.Background(), item, models.ArtworkPoster, []string{"libvips", "ffmpeg"})
	require.True(t, ok)
	assert.Equal(t, FormatURI(models.ArtworkThumbnail, "libvips", item.ID), uri)
}

func TestSelectPrimaryClearsDanglingSlot(t *testing.T) {
	s := NewStore(t.TempDir())
	sel := NewSelector(s, 0, nil)
	item := &models.CatalogItem{ID: uuid.New()}
	rec := put(t, s, item.ID, models.ArtworkBackdrop, "tmdb", pngBytes(t, 8, 4, color.White))
	order := Precedence(models.ArtworkBackdrop, []string{"tmdb"}, nil, nil)

	_, ok := sel.SelectPrimary(context.Background(), item, models.ArtworkBackdrop, order)
	require.True(t, ok)
	require.Equal(t, rec.URI, item.Backdrop.URI)

	require.NoError(t, os.Remove(rec.Path))
	_, ok = sel.SelectPrimary(context.Background(), item, models.ArtworkBackdrop, order)
	assert.False(t, ok)
	assert.Equal(t, models.ArtworkSlot{}, item.Backdrop)
}
