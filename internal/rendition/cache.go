// Package rendition derives resized and re-encoded copies of stored artwork
// and keeps them in a content-addressed on-disk cache.
package rendition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/nexamediaserver/server-sub005/internal/artwork"
)

// ErrUnsupportedFormat is returned for output formats that cannot be encoded.
var ErrUnsupportedFormat = errors.New("rendition: unsupported format")

// Request describes one derived image.
type Request struct {
	URI            string
	Width          int
	Height         int
	Format         string // jpeg, png or gif; empty keeps the source format
	Quality        int
	PreserveAspect bool
}

// Resolver maps an artwork address to a file on disk.
type Resolver interface {
	Resolve(uri string) (string, error)
}

// Cache writes derived images under <root>/<key[0:2]>/<key>.<ext>.
type Cache struct {
	root           string
	resolver       Resolver
	defaultQuality int
	group          singleflight.Group
	logger         *zap.Logger
}

func NewCache(root string, resolver Resolver, defaultQuality int, logger *zap.Logger) *Cache {
	if defaultQuality <= 0 || defaultQuality > 100 {
		defaultQuality = 85
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		root:           filepath.Clean(root),
		resolver:       resolver,
		defaultQuality: defaultQuality,
		logger:         logger.Named("rendition"),
	}
}

// GetOrDerive returns the path of the rendition described by req, deriving
// and caching it on a miss. When no size, quality or format change is
// requested the source path is returned as is.
func (c *Cache) GetOrDerive(ctx context.Context, req Request) (string, error) {
	if req.Width < 0 || req.Height < 0 {
		return "", fmt.Errorf("rendition: negative dimensions")
	}
	src, err := c.resolver.Resolve(req.URI)
	if err != nil {
		return "", err
	}

	srcFormat := formatFromExt(src)
	format := normalizeFormat(req.Format)
	if format == "" {
		format = srcFormat
	}
	if req.Width == 0 && req.Height == 0 && req.Quality == 0 && format == srcFormat {
		return src, nil
	}
	if _, ok := extensionFor(format); !ok && req.Format == "" {
		// Source formats that cannot be encoded are re-encoded as JPEG
		format = "jpeg"
	}
	ext, ok := extensionFor(format)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	if req.Quality <= 0 || req.Quality > 100 {
		req.Quality = c.defaultQuality
	}

	version, err := sourceVersion(src)
	if err != nil {
		return "", fmt.Errorf("rendition: read source: %w", err)
	}
	key := Key(req.URI, version, req.Width, req.Height, format, req.Quality, req.PreserveAspect)
	path := filepath.Join(c.root, key[:2], key+ext)
	if fileExists(path) {
		return path, nil
	}

	_, err, shared := c.group.Do(key, func() (interface{}, error) {
		if fileExists(path) {
			return path, nil
		}
		return path, c.derive(ctx, src, path, format, req)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("rendition shared", zap.String("key", key))
	}
	return path, nil
}

// Key is the hex xxhash64 of the parameters that determine a rendition's bytes.
// version identifies the source content, so replacing the image behind a URI
// yields new keys.
func Key(uri, version string, width, height int, format string, quality int, preserveAspect bool) string {
	var b strings.Builder
	b.WriteString(uri)
	for _, part := range []string{
		version, strconv.Itoa(width), strconv.Itoa(height), format, strconv.Itoa(quality), strconv.FormatBool(preserveAspect),
	} {
		b.WriteByte(0)
		b.WriteString(part)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

func (c *Cache) derive(ctx context.Context, src, dst, format string, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("rendition: decode %s: %w", filepath.Base(src), err)
	}
	img = resize(img, req.Width, req.Height, req.PreserveAspect)

	var buf bytes.Buffer
	if err := encode(&buf, img, format, req.Quality); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := artwork.WriteFileAtomic(dst, buf.Bytes()); err != nil {
		return fmt.Errorf("rendition: write: %w", err)
	}
	c.logger.Debug("rendition derived",
		zap.String("uri", req.URI),
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
		zap.String("format", format))
	return nil
}

// resize fills (scale and center crop) when both dimensions are given and the
// aspect ratio is not preserved, and fits inside the box otherwise.
func resize(img image.Image, width, height int, preserveAspect bool) image.Image {
	switch {
	case width == 0 && height == 0:
		return img
	case width > 0 && height > 0 && !preserveAspect:
		return imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
	case width > 0 && height > 0:
		return imaging.Fit(img, width, height, imaging.Lanczos)
	default:
		// One dimension: scale proportionally, never upscaling
		b := img.Bounds()
		if (width > 0 && width >= b.Dx()) || (height > 0 && height >= b.Dy()) {
			return img
		}
		return imaging.Resize(img, width, height, imaging.Lanczos)
	}
}

func encode(buf *bytes.Buffer, img image.Image, format string, quality int) error {
	switch format {
	case "jpeg":
		return jpeg.Encode(buf, img, &jpeg.Options{Quality: quality})
	case "png":
		return png.Encode(buf, img)
	case "gif":
		return gif.Encode(buf, img, nil)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

func formatFromExt(path string) string {
	return normalizeFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

func extensionFor(format string) (string, bool) {
	switch format {
	case "jpeg":
		return ".jpg", true
	case "png":
		return ".png", true
	case "gif":
		return ".gif", true
	}
	return "", false
}

// sourceVersion is the hex xxhash64 of the file at path.
func sourceVersion(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
