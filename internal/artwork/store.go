package artwork

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// URIScheme prefixes every stored asset address.
const URIScheme = "metadata://"

// MaxImageBytes caps a single stored image.
const MaxImageBytes = 25 << 20

var (
	// ErrInvalidURI is returned for addresses that are not metadata://<kind>/<source>_<itemID>.
	ErrInvalidURI = errors.New("artwork: invalid uri")
	// ErrNotFound is returned when no stored file backs an address.
	ErrNotFound = errors.New("artwork: not found")
)

var sourceNameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*$`)

// Record describes one stored image for an item.
type Record struct {
	Source string
	Kind   models.ArtworkKind
	URI    string
	Path   string
}

// FormatURI builds the stable address of the image stored for (kind, source, item).
func FormatURI(kind models.ArtworkKind, source string, itemID uuid.UUID) string {
	return fmt.Sprintf("%s%s/%s_%s", URIScheme, kind, source, itemID)
}

// ParseURI splits an asset address into its parts.
func ParseURI(uri string) (models.ArtworkKind, string, uuid.UUID, error) {
	rest, ok := strings.CutPrefix(uri, URIScheme)
	if !ok {
		return "", "", uuid.Nil, ErrInvalidURI
	}
	kind, name, ok := strings.Cut(rest, "/")
	if !ok || !validKind(models.ArtworkKind(kind)) {
		return "", "", uuid.Nil, ErrInvalidURI
	}
	i := strings.LastIndexByte(name, '_')
	if i <= 0 {
		return "", "", uuid.Nil, ErrInvalidURI
	}
	source := name[:i]
	id, err := uuid.Parse(name[i+1:])
	if err != nil || !sourceNameRE.MatchString(source) {
		return "", "", uuid.Nil, ErrInvalidURI
	}
	return models.ArtworkKind(kind), source, id, nil
}

func validKind(k models.ArtworkKind) bool {
	switch k {
	case models.ArtworkPoster, models.ArtworkBackdrop, models.ArtworkLogo, models.ArtworkThumbnail:
		return true
	}
	return false
}

// Store keeps artwork under <root>/<id[0:2]>/<itemID>/<kind>/<source>_<itemID><ext>.
// Files are written atomically, so concurrent readers never see partial images.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) Root() string { return s.root }

// Dir returns the directory holding every image of one kind for an item.
func (s *Store) Dir(itemID uuid.UUID, kind models.ArtworkKind) string {
	id := itemID.String()
	return filepath.Join(s.root, id[:2], id, string(kind))
}

// Put stores an image read from r. ext includes the leading dot. A previous
// image for the same source is replaced, including one with another
// extension. Identical content is left in place untouched.
func (s *Store) Put(itemID uuid.UUID, kind models.ArtworkKind, source, ext string, r io.Reader) (*Record, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if !sourceNameRE.MatchString(source) {
		return nil, fmt.Errorf("artwork: invalid source name %q", source)
	}
	if !validKind(kind) {
		return nil, fmt.Errorf("artwork: invalid kind %q", kind)
	}
	ext = strings.ToLower(ext)
	if ext == "" || !strings.HasPrefix(ext, ".") {
		ext = ".jpg"
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("artwork: empty image")
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("artwork: image exceeds %d bytes", MaxImageBytes)
	}

	dir := s.Dir(itemID, kind)
	base := source + "_" + itemID.String()
	name := base + ext
	rec := &Record{Source: source, Kind: kind, URI: FormatURI(kind, source, itemID), Path: filepath.Join(dir, name)}

	if existing, ok := s.Find(itemID, kind, source); ok && existing.Path == rec.Path {
		if same, _ := sameContent(existing.Path, data); same {
			return rec, nil
		}
	}
	if err := writeFileAtomic(dir, name, data); err != nil {
		return nil, fmt.Errorf("artwork: write %s: %w", name, err)
	}
	// Drop copies left behind under a different extension
	matches, _ := filepath.Glob(filepath.Join(dir, base+".*"))
	for _, m := range matches {
		if m != rec.Path && !strings.HasPrefix(filepath.Base(m), ".") {
			_ = os.Remove(m)
		}
	}
	return rec, nil
}

// Find returns the stored image of one source, if any.
func (s *Store) Find(itemID uuid.UUID, kind models.ArtworkKind, source string) (*Record, bool) {
	source = strings.ToLower(source)
	if !sourceNameRE.MatchString(source) {
		return nil, false
	}
	matches, err := filepath.Glob(filepath.Join(s.Dir(itemID, kind), source+"_"+itemID.String()+".*"))
	if err != nil || len(matches) == 0 {
		return nil, false
	}
	sort.Strings(matches)
	return &Record{Source: source, Kind: kind, URI: FormatURI(kind, source, itemID), Path: matches[0]}, true
}

// List returns every stored image of one kind, ordered by file name.
func (s *Store) List(itemID uuid.UUID, kind models.ArtworkKind) ([]Record, error) {
	entries, err := os.ReadDir(s.Dir(itemID, kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	suffix := "_" + itemID.String()
	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		source, ok := strings.CutSuffix(stem, suffix)
		if !ok || source == "" {
			continue
		}
		out = append(out, Record{
			Source: source,
			Kind:   kind,
			URI:    FormatURI(kind, source, itemID),
			Path:   filepath.Join(s.Dir(itemID, kind), name),
		})
	}
	// ReadDir already sorts by name
	return out, nil
}

// Resolve maps an address to the file backing it.
func (s *Store) Resolve(uri string) (string, error) {
	kind, source, itemID, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	rec, ok := s.Find(itemID, kind, source)
	if !ok {
		return "", ErrNotFound
	}
	return rec.Path, nil
}

func sameContent(path string, data []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return len(existing) == len(data) && xxhash.Sum64(existing) == xxhash.Sum64(data), nil
}

// writeFileAtomic writes data to a hidden temp file in dir and renames it over name.
func writeFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}

// WriteFileAtomic is exported for other on-disk caches that share the layout rules.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(filepath.Dir(path), filepath.Base(path), data)
}
