package rendition

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexamediaserver/server-sub005/internal/artwork"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

type fixture struct {
	cache    *Cache
	cacheDir string
	uri      string
	src      string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := artwork.NewStore(t.TempDir())
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 200, 100))))
	rec, err := store.Put(uuid.New(), models.ArtworkBackdrop, "tmdb", ".png", &buf)
	require.NoError(t, err)

	dir := t.TempDir()
	return fixture{cache: NewCache(dir, store, 0, nil), cacheDir: dir, uri: rec.URI, src: rec.Path}
}

func decodeSize(t *testing.T, path string) (int, int) {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestPassthroughWritesNothing(t *testing.T) {
	f := newFixture(t)
	for _, format := range []string{"", "png", "PNG"} {
		path, err := f.cache.GetOrDerive(context.Background(), Request{URI: f.uri, Format: format})
		require.NoError(t, err)
		assert.Equal(t, f.src, path)
	}
	entries, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFillAndFit(t *testing.T) {
	f := newFixture(t)

	fill, err := f.cache.GetOrDerive(context.Background(), Request{URI: f.uri, Width: 50, Height: 50, Format: "jpeg"})
	require.NoError(t, err)
	w, h := decodeSize(t, fill)
	assert.Equal(t, [2]int{50, 50}, [2]int{w, h})
	assert.Equal(t, ".jpg", filepath.Ext(fill))

	fit, err := f.cache.GetOrDerive(context.Background(), Request{URI: f.uri, Width: 50, Height: 50, PreserveAspect: true})
	require.NoError(t, err)
	w, h = decodeSize(t, fit)
	assert.Equal(t, [2]int{50, 25}, [2]int{w, h})
	assert.Equal(t, ".png", filepath.Ext(fit))

	single, err := f.cache.GetOrDerive(context.Background(), Request{URI: f.uri, Width: 100})
	require.NoError(t, err)
	w, h = decodeSize(t, single)
	assert.Equal(t, [2]int{100, 50}, [2]int{w, h})
}

func TestCacheHitReturnsSameFile(t *testing.T) {
	f := newFixture(t)
	req := Request{URI: f.uri, Width: 40, Height: 40, Format: "gif"}

	first, err := f.cache.GetOrDerive(context.Background(), req)
	require.NoError(t, err)
	version, err := sourceVersion(f.src)
	require.NoError(t, err)
	key := Key(f.uri, version, 40, 40, "gif", 85, false)
	assert.Equal(t, filepath.Join(f.cacheDir, key[:2], key+".gif"), first)

	info, err := os.Stat(first)
	require.NoError(t, err)
	second, err := f.cache.GetOrDerive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	info2, err := os.Stat(second)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}

func TestConcurrentRequestsConverge(t *testing.T) {
	f := newFixture(t)
	req := Request{URI: f.uri, Width: 64, Height: 64, Format: "jpeg", Quality: 70}

	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = f.cache.GetOrDerive(context.Background(), req)
		}(i)
	}
	wg.Wait()
	for i := range paths {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
	entries, err := os.ReadDir(filepath.Dir(paths[0]))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.cache.GetOrDerive(context.Background(), Request{URI: f.uri, Width: 10, Format: "webp"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = f.cache.GetOrDerive(context.Background(), Request{URI: "https://example.com/a.jpg"})
	assert.ErrorIs(t, err, artwork.ErrInvalidURI)

	_, err = f.cache.GetOrDerive(context.Background(), Request{URI: artwork.FormatURI(models.ArtworkLogo, "tmdb", uuid.New())})
	assert.ErrorIs(t, err, artwork.ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.cache.GetOrDerive(ctx, Request{URI: f.uri, Width: 10, Height: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyDistinguishesParameters(t *testing.T) {
	base := Key("metadata://poster/a_b", "v1", 100, 150, "jpeg", 85, false)
	assert.Equal(t, base, Key("metadata://poster/a_b", "v1", 100, 150, "jpeg", 85, false))
	assert.Len(t, base, 16)
	for _, other := range []string{
		Key("metadata://poster/a_c", "v1", 100, 150, "jpeg", 85, false),
		Key("metadata://poster/a_b", "v2", 100, 150, "jpeg", 85, false),
		Key("metadata://poster/a_b", "v1", 150, 100, "jpeg", 85, false),
		Key("metadata://poster/a_b", "v1", 100, 150, "png", 85, false),
		Key("metadata://poster/a_b", "v1", 100, 150, "jpeg", 90, false),
		Key("metadata://poster/a_b", "v1", 100, 150, "jpeg", 85, true),
	} {
		assert.NotEqual(t, base, other)
	}
}

func TestQualityOnlyRequestIsDerived(t *testing.T) {
	store := artwork.NewStore(t.TempDir())
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 30, 20)), &jpeg.Options{Quality: 95}))
	rec, err := store.Put(uuid.New(), models.ArtworkPoster, "tmdb", ".jpg", &buf)
	require.NoError(t, err)
	dir := t.TempDir()
	cache := NewCache(dir, store, 0, nil)

	path, err := cache.GetOrDerive(context.Background(), Request{URI: rec.URI, Quality: 10})
	require.NoError(t, err)
	assert.NotEqual(t, rec.Path, path)
	assert.True(t, strings.HasPrefix(path, dir))
	w, h := decodeSize(t, path)
	assert.Equal(t, [2]int{30, 20}, [2]int{w, h})

	path, err = cache.GetOrDerive(context.Background(), Request{URI: rec.URI})
	require.NoError(t, err)
	assert.Equal(t, rec.Path, path)
}

func TestReplacedSourceGetsFreshRendition(t *testing.T) {
	store := artwork.NewStore(t.TempDir())
	itemID := uuid.New()
	put := func(c color.Color) *artwork.Record {
		img := image.NewRGBA(image.Rect(0, 0, 40, 40))
		draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		rec, err := store.Put(itemID, models.ArtworkPoster, "tmdb", ".png", &buf)
		require.NoError(t, err)
		return rec
	}
	cache := NewCache(t.TempDir(), store, 0, nil)
	red := func(path string) uint32 {
		img, err := imaging.Open(path)
		require.NoError(t, err)
		r, _, _, _ := img.At(5, 5).RGBA()
		return r >> 8
	}

	rec := put(color.White)
	req := Request{URI: rec.URI, Width: 10, Height: 10, Format: "png"}
	first, err := cache.GetOrDerive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint32(255), red(first))

	put(color.Black)
	second, err := cache.GetOrDerive(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint32(0), red(second))
}
