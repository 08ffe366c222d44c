package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ──────────────────── Enums ────────────────────

type ItemType string

const (
	ItemTypeMovie      ItemType = "movie"
	ItemTypeShow       ItemType = "show"
	ItemTypeSeason     ItemType = "season"
	ItemTypeEpisode    ItemType = "episode"
	ItemTypeArtist     ItemType = "artist"
	ItemTypeAlbum      ItemType = "album"
	ItemTypeTrack      ItemType = "track"
	ItemTypeMusicVideo ItemType = "music_video"
	ItemTypePhoto      ItemType = "photo"
	ItemTypeAudiobook  ItemType = "audiobook"
	ItemTypePerson     ItemType = "person"
	ItemTypeGroup      ItemType = "group"
)

type ArtworkKind string

const (
	ArtworkPoster    ArtworkKind = "poster"
	ArtworkBackdrop  ArtworkKind = "backdrop"
	ArtworkLogo      ArtworkKind = "logo"
	ArtworkThumbnail ArtworkKind = "thumbnail"
)

// PrimaryArtworkKinds are the kinds that have a slot on CatalogItem, in the
// order the selector processes them.
var PrimaryArtworkKinds = []ArtworkKind{ArtworkPoster, ArtworkBackdrop, ArtworkLogo}

type CreditKind string

const (
	CreditPerson CreditKind = "person"
	CreditGroup  CreditKind = "group"
)

// Field names used by LockedFields and override sets.
const (
	FieldAll               = "*"
	FieldTitle             = "title"
	FieldSortTitle         = "sort_title"
	FieldOriginalTitle     = "original_title"
	FieldSummary           = "summary"
	FieldTagline           = "tagline"
	FieldContentRating     = "content_rating"
	FieldReleaseDate       = "release_date"
	FieldYear              = "year"
	FieldDuration          = "duration"
	FieldAudioCodecs       = "audio_codecs"
	FieldAudioLanguages    = "audio_languages"
	FieldSubtitleLanguages = "subtitle_languages"
	FieldGenres            = "genres"
	FieldTags              = "tags"
	FieldCredits           = "credits"
	FieldProviderIDs       = "provider_ids"
	FieldMusic             = "music"
	FieldClassical         = "classical"
	FieldEpisode           = "episode"
)

// LockField returns the lock name guarding the slot of an artwork kind.
func LockField(kind ArtworkKind) string {
	return string(kind)
}

// ──────────────────── Library ────────────────────

type Library struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	Type       ItemType       `json:"type" db:"item_type"`
	Paths      pq.StringArray `json:"paths" db:"paths"`
	AgentOrder pq.StringArray `json:"agent_order" db:"agent_order"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Media files ────────────────────

type MediaFile struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	ItemID    uuid.UUID   `json:"item_id" db:"item_id"`
	Container string      `json:"container,omitempty" db:"container"`
	Parts     []MediaPart `json:"parts"`
}

type MediaPart struct {
	ID       uuid.UUID `json:"id" db:"id"`
	FileID   uuid.UUID `json:"file_id" db:"file_id"`
	Path     string    `json:"path" db:"file_path"`
	Size     int64     `json:"size" db:"file_size"`
	Position int       `json:"position" db:"position"`
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".m4v": true, ".wmv": true, ".flv": true, ".webm": true,
	".ts": true, ".m2ts": true, ".mpg": true, ".mpeg": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

// IsVideo reports whether the part looks like a video file by extension.
func (p MediaPart) IsVideo() bool {
	return videoExtensions[strings.ToLower(filepath.Ext(p.Path))]
}

// IsImage reports whether the part looks like a still image by extension.
func (p MediaPart) IsImage() bool {
	return imageExtensions[strings.ToLower(filepath.Ext(p.Path))]
}

// PartAnalysis is what the media:analyze job records for one part.
type PartAnalysis struct {
	PartID       uuid.UUID `json:"part_id"`
	DurationMS   int64     `json:"duration_ms"`
	LoudnessLUFS *float64  `json:"loudness_lufs,omitempty"`
	GainDB       *float64  `json:"gain_db,omitempty"`
}

// ──────────────────── Typed details ────────────────────

type MusicDetails struct {
	AlbumTitle  string `json:"album_title,omitempty"`
	AlbumArtist string `json:"album_artist,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
	DiscNumber  int    `json:"disc_number,omitempty"`
	Label       string `json:"label,omitempty"`
}

type ClassicalDetails struct {
	Work           string `json:"work,omitempty"`
	Movement       string `json:"movement,omitempty"`
	MovementNumber int    `json:"movement_number,omitempty"`
	Composer       string `json:"composer,omitempty"`
}

type EpisodeDetails struct {
	ShowTitle     string `json:"show_title,omitempty"`
	SeasonNumber  int    `json:"season_number,omitempty"`
	EpisodeNumber int    `json:"episode_number,omitempty"`
}

// ──────────────────── Credits ────────────────────

type Credit struct {
	Name     string     `json:"name"`
	Kind     CreditKind `json:"kind"`
	Relation string     `json:"relation"`
	Role     string     `json:"role,omitempty"`
	Thumb    string     `json:"thumb,omitempty"`
	PersonID *uuid.UUID `json:"person_id,omitempty"`
}

// ──────────────────── CatalogItem ────────────────────

type ArtworkSlot struct {
	URI         string `json:"uri,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

type CatalogItem struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	LibraryID     uuid.UUID  `json:"library_id" db:"library_id"`
	Type          ItemType   `json:"type" db:"item_type"`
	Title         string     `json:"title" db:"title"`
	SortTitle     string     `json:"sort_title,omitempty" db:"sort_title"`
	OriginalTitle string     `json:"original_title,omitempty" db:"original_title"`
	Summary       string     `json:"summary,omitempty" db:"summary"`
	Tagline       string     `json:"tagline,omitempty" db:"tagline"`
	ContentRating string     `json:"content_rating,omitempty" db:"content_rating"`
	ReleaseDate   *time.Time `json:"release_date,omitempty" db:"release_date"`
	Year          int        `json:"year,omitempty" db:"year"`
	DurationMS    int64      `json:"duration_ms,omitempty" db:"duration_ms"`
	// Technical collections, merged by union
	AudioCodecs       pq.StringArray `json:"audio_codecs" db:"audio_codecs"`
	AudioLanguages    pq.StringArray `json:"audio_languages" db:"audio_languages"`
	SubtitleLanguages pq.StringArray `json:"subtitle_languages" db:"subtitle_languages"`
	LockedFields      pq.StringArray `json:"locked_fields" db:"locked_fields"`
	Children          []uuid.UUID    `json:"children,omitempty"`
	Media             []MediaFile    `json:"media,omitempty"`
	// Artwork slots
	Poster   ArtworkSlot `json:"poster"`
	Backdrop ArtworkSlot `json:"backdrop"`
	Logo     ArtworkSlot `json:"logo"`
	// Taxonomy and credits (join tables)
	Genres  []string `json:"genres,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Credits []Credit `json:"credits,omitempty"`
	// Per-type details; nil when the type has none
	Music     *MusicDetails     `json:"music,omitempty" db:"music"`
	Classical *ClassicalDetails `json:"classical,omitempty" db:"classical"`
	Episode   *EpisodeDetails   `json:"episode,omitempty" db:"episode"`
	// Provider-specific ids (tmdb, imdb, musicbrainz, ...)
	ProviderIDs map[string]string `json:"provider_ids,omitempty" db:"provider_ids"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// IsFieldLocked returns true if the given field name is in the locked_fields array.
// A special value "*" means all fields are locked.
func (m *CatalogItem) IsFieldLocked(field string) bool {
	for _, f := range m.LockedFields {
		if f == FieldAll || f == field {
			return true
		}
	}
	return false
}

// Parts returns every media part of the item in file then part order.
func (m *CatalogItem) Parts() []MediaPart {
	var parts []MediaPart
	for _, f := range m.Media {
		parts = append(parts, f.Parts...)
	}
	return parts
}

// HasVideo reports whether at least one part is a video file.
func (m *CatalogItem) HasVideo() bool {
	for _, p := range m.Parts() {
		if p.IsVideo() {
			return true
		}
	}
	return false
}

// Slot returns the artwork slot for kind, or nil for kinds without one.
func (m *CatalogItem) Slot(kind ArtworkKind) *ArtworkSlot {
	switch kind {
	case ArtworkPoster:
		return &m.Poster
	case ArtworkBackdrop:
		return &m.Backdrop
	case ArtworkLogo:
		return &m.Logo
	}
	return nil
}

// Clone returns a deep copy so resolvers can work without touching the original.
func (m *CatalogItem) Clone() *CatalogItem {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReleaseDate != nil {
		d := *m.ReleaseDate
		c.ReleaseDate = &d
	}
	c.AudioCodecs = cloneStrings(m.AudioCodecs)
	c.AudioLanguages = cloneStrings(m.AudioLanguages)
	c.SubtitleLanguages = cloneStrings(m.SubtitleLanguages)
	c.LockedFields = cloneStrings(m.LockedFields)
	c.Genres = cloneStrings(m.Genres)
	c.Tags = cloneStrings(m.Tags)
	if m.Children != nil {
		c.Children = append([]uuid.UUID(nil), m.Children...)
	}
	if m.Media != nil {
		c.Media = make([]MediaFile, len(m.Media))
		for i, f := range m.Media {
			f.Parts = append([]MediaPart(nil), f.Parts...)
			c.Media[i] = f
		}
	}
	if m.Credits != nil {
		c.Credits = make([]Credit, len(m.Credits))
		for i, cr := range m.Credits {
			if cr.PersonID != nil {
				id := *cr.PersonID
				cr.PersonID = &id
			}
			c.Credits[i] = cr
		}
	}
	if m.Music != nil {
		v := *m.Music
		c.Music = &v
	}
	if m.Classical != nil {
		v := *m.Classical
		c.Classical = &v
	}
	if m.Episode != nil {
		v := *m.Episode
		c.Episode = &v
	}
	if m.ProviderIDs != nil {
		c.ProviderIDs = make(map[string]string, len(m.ProviderIDs))
		for k, v := range m.ProviderIDs {
			c.ProviderIDs[k] = v
		}
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
