// Package keyframe persists per-part keyframe timestamps so seeks can land on
// a decodable frame without probing the file again.
package keyframe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNoIndex is returned by Read when a part has not been indexed yet.
var ErrNoIndex = errors.New("keyframe: no index")

// Entry is the on-disk form of one part's index.
type Entry struct {
	PartID    uuid.UUID `json:"part_id"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Keyframes []float64 `json:"keyframes"` // seconds, ascending
	CreatedAt time.Time `json:"created_at"`
}

// Index stores entries under <root>/<id[0:2]>/<partID>.json.
type Index struct {
	root string
}

func NewIndex(root string) *Index {
	return &Index{root: filepath.Clean(root)}
}

func (x *Index) GetPath(partID uuid.UUID) string {
	id := partID.String()
	return filepath.Join(x.root, id[:2], id+".json")
}

// Read loads the index of a part. An index recorded for a file of another
// size is stale and reported as missing.
func (x *Index) Read(partID uuid.UUID, size int64) (*Entry, error) {
	data, err := os.ReadFile(x.GetPath(partID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoIndex
		}
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("keyframe: decode %s: %w", partID, err)
	}
	if size > 0 && e.Size > 0 && e.Size != size {
		return nil, ErrNoIndex
	}
	return &e, nil
}

// Write stores e, sorting its keyframes. The file is replaced atomically.
func (x *Index) Write(e *Entry) error {
	if e.PartID == uuid.Nil {
		return errors.New("keyframe: entry without part id")
	}
	sort.Float64s(e.Keyframes)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	path := x.GetPath(e.PartID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".keyframes-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// NearestKeyframeAtOrBefore returns the last keyframe not after t. It falls
// back to t itself when there are no keyframes, and to the first keyframe when
// t precedes all of them.
func NearestKeyframeAtOrBefore(keyframes []float64, t time.Duration) time.Duration {
	if len(keyframes) == 0 {
		return t
	}
	secs := t.Seconds()
	i := sort.Search(len(keyframes), func(i int) bool { return keyframes[i] > secs })
	if i == 0 {
		return seconds(keyframes[0])
	}
	return seconds(keyframes[i-1])
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
