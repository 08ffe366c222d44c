package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// ErrNoTitle is returned for NFO documents without a title, which are usually
// plain-text files carrying only a URL.
var ErrNoTitle = errors.New("nfo has no title element")

// ──────────────────── Kodi-Compatible NFO Document ────────────────────

// nfoDocument is the union of the movie, tvshow, episodedetails and album
// root elements. The root name is recorded in XMLName.
type nfoDocument struct {
	XMLName       xml.Name
	Title         string        `xml:"title"`
	OriginalTitle string        `xml:"originaltitle"`
	SortTitle     string        `xml:"sorttitle"`
	Tagline       string        `xml:"tagline"`
	Plot          string        `xml:"plot"`
	Review        string        `xml:"review"`
	Year          string        `xml:"year"`
	Premiered     string        `xml:"premiered"`
	Aired         string        `xml:"aired"`
	ReleaseDate   string        `xml:"releasedate"`
	Runtime       string        `xml:"runtime"`
	MPAA          string        `xml:"mpaa"`
	Genres        []string      `xml:"genre"`
	Styles        []string      `xml:"style"`
	Studios       []string      `xml:"studio"`
	Tags          []string      `xml:"tag"`
	Directors     []string      `xml:"director"`
	Credits       []string      `xml:"credits"`
	Actors        []xmlActor    `xml:"actor"`
	UniqueIDs     []xmlUniqueID `xml:"uniqueid"`
	Thumbs        []xmlThumb    `xml:"thumb"`
	Fanart        *xmlFanart    `xml:"fanart"`
	// Episodes
	ShowTitle string `xml:"showtitle"`
	Season    string `xml:"season"`
	Episode   string `xml:"episode"`
	// Albums
	Artists      []string `xml:"artist"`
	Label        string   `xml:"label"`
	MBAlbumID    string   `xml:"musicbrainzalbumid"`
	MBReleaseGrp string   `xml:"musicbrainzreleasegroupid"`
	// Legacy single-ID fields
	ID     string `xml:"id"`
	IMDBId string `xml:"imdbid"`
	TMDBId string `xml:"tmdbid"`
}

type xmlActor struct {
	Name  string `xml:"name"`
	Role  string `xml:"role"`
	Thumb string `xml:"thumb"`
	Order string `xml:"order"`
}

type xmlUniqueID struct {
	Type    string `xml:"type,attr"`
	Default string `xml:"default,attr"`
	Value   string `xml:",chardata"`
}

type xmlThumb struct {
	Aspect string `xml:"aspect,attr"`
	URL    string `xml:",chardata"`
}

type xmlFanart struct {
	Thumbs []xmlThumb `xml:"thumb"`
}

// ──────────────────── NFO Reader ────────────────────

// ReadNFO parses a Kodi-compatible NFO file into a sidecar contribution.
// The root element decides how fields are mapped.
func ReadNFO(path string) (*Contribution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc nfoDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("not a valid XML NFO: %w", err)
	}
	if strings.TrimSpace(doc.Title) == "" {
		return nil, ErrNoTitle
	}

	c := &Contribution{
		Source: SourceSidecar,
		Kind:   KindSidecar,
		Part:   -1,
		Genres: trimAll(doc.Genres),
		Tags:   trimAll(append(append([]string(nil), doc.Tags...), doc.Styles...)),
	}

	patch := &Patch{
		Title:         strings.TrimSpace(doc.Title),
		OriginalTitle: strings.TrimSpace(doc.OriginalTitle),
		SortTitle:     strings.TrimSpace(doc.SortTitle),
		Tagline:       strings.TrimSpace(doc.Tagline),
		Summary:       firstNonEmpty(doc.Plot, doc.Review),
		ContentRating: strings.TrimSpace(doc.MPAA),
		Year:          atoi(doc.Year),
		ProviderIDs:   parseUniqueIDs(doc),
	}
	if minutes := atoi(doc.Runtime); minutes > 0 {
		patch.DurationMS = int64(minutes) * 60 * 1000
	}
	patch.ReleaseDate = parseDate(firstNonEmpty(doc.Premiered, doc.Aired, doc.ReleaseDate))
	if patch.Year == 0 && patch.ReleaseDate != nil {
		patch.Year = patch.ReleaseDate.Year()
	}

	switch doc.XMLName.Local {
	case "episodedetails":
		patch.Episode = &models.EpisodeDetails{
			ShowTitle:     strings.TrimSpace(doc.ShowTitle),
			SeasonNumber:  atoi(doc.Season),
			EpisodeNumber: atoi(doc.Episode),
		}
	case "album":
		patch.Music = &models.MusicDetails{
			AlbumTitle:  patch.Title,
			AlbumArtist: strings.Join(trimAll(doc.Artists), ", "),
			Label:       strings.TrimSpace(doc.Label),
		}
		if doc.MBAlbumID != "" {
			patch.ProviderIDs["musicbrainz_album"] = strings.TrimSpace(doc.MBAlbumID)
		}
		if doc.MBReleaseGrp != "" {
			patch.ProviderIDs["musicbrainz_releasegroup"] = strings.TrimSpace(doc.MBReleaseGrp)
		}
	}
	if len(patch.ProviderIDs) == 0 {
		patch.ProviderIDs = nil
	}
	c.Patch = patch
	c.Credits = nfoCredits(doc)
	c.Artwork = nfoArtwork(doc)
	return c, nil
}

func nfoCredits(doc nfoDocument) []models.Credit {
	var credits []models.Credit
	for _, name := range trimAll(doc.Directors) {
		credits = append(credits, models.Credit{Name: name, Kind: models.CreditPerson, Relation: "director"})
	}
	for _, name := range trimAll(doc.Credits) {
		credits = append(credits, models.Credit{Name: name, Kind: models.CreditPerson, Relation: "writer"})
	}
	for _, a := range doc.Actors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		credits = append(credits, models.Credit{
			Name:     name,
			Kind:     models.CreditPerson,
			Relation: "actor",
			Role:     strings.TrimSpace(a.Role),
			Thumb:    strings.TrimSpace(a.Thumb),
		})
	}
	for _, name := range trimAll(doc.Artists) {
		credits = append(credits, models.Credit{Name: name, Kind: models.CreditGroup, Relation: "artist"})
	}
	for _, name := range trimAll(doc.Studios) {
		credits = append(credits, models.Credit{Name: name, Kind: models.CreditGroup, Relation: "studio"})
	}
	return credits
}

func nfoArtwork(doc nfoDocument) map[models.ArtworkKind]string {
	art := make(map[models.ArtworkKind]string)
	for _, t := range doc.Thumbs {
		url := strings.TrimSpace(t.URL)
		if url == "" {
			continue
		}
		var kind models.ArtworkKind
		switch strings.ToLower(t.Aspect) {
		case "", "poster":
			kind = models.ArtworkPoster
		case "clearlogo", "logo":
			kind = models.ArtworkLogo
		case "landscape", "thumb":
			kind = models.ArtworkThumbnail
		default:
			continue
		}
		if _, ok := art[kind]; !ok {
			art[kind] = url
		}
	}
	if doc.Fanart != nil {
		for _, t := range doc.Fanart.Thumbs {
			if url := strings.TrimSpace(t.URL); url != "" {
				art[models.ArtworkBackdrop] = url
				break
			}
		}
	}
	if len(art) == 0 {
		return nil
	}
	return art
}

func parseUniqueIDs(doc nfoDocument) map[string]string {
	ids := make(map[string]string)
	for _, uid := range doc.UniqueIDs {
		t := strings.ToLower(strings.TrimSpace(uid.Type))
		v := strings.TrimSpace(uid.Value)
		if t == "" || v == "" {
			continue
		}
		if _, ok := ids[t]; !ok {
			ids[t] = v
		}
	}
	// Legacy single-ID fields
	if _, ok := ids["imdb"]; !ok {
		if doc.IMDBId != "" {
			ids["imdb"] = strings.TrimSpace(doc.IMDBId)
		} else if strings.HasPrefix(strings.TrimSpace(doc.ID), "tt") {
			ids["imdb"] = strings.TrimSpace(doc.ID)
		}
	}
	if _, ok := ids["tmdb"]; !ok && doc.TMDBId != "" {
		ids["tmdb"] = strings.TrimSpace(doc.TMDBId)
	}
	return ids
}

// ──────────────────── NFO File Discovery ────────────────────

// FindNFOFile locates the NFO sidecar for a media file. It checks
// <filename>.nfo, then the type-specific names in the directory, then any
// single .nfo next to a lone video file.
func FindNFOFile(mediaFilePath string, itemType models.ItemType) string {
	dir := filepath.Dir(mediaFilePath)
	base := strings.TrimSuffix(filepath.Base(mediaFilePath), filepath.Ext(mediaFilePath))

	if p := filepath.Join(dir, base+".nfo"); fileExists(p) {
		return p
	}

	var named []string
	switch itemType {
	case models.ItemTypeMovie, models.ItemTypeMusicVideo:
		named = []string{"movie.nfo"}
	case models.ItemTypeShow:
		named = []string{"tvshow.nfo"}
	case models.ItemTypeAlbum, models.ItemTypeTrack:
		named = []string{"album.nfo"}
	case models.ItemTypeArtist:
		named = []string{"artist.nfo"}
	}
	for _, n := range named {
		if p := filepath.Join(dir, n); fileExists(p) {
			return p
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	videoCount := 0
	var nfoFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if (models.MediaPart{Path: e.Name()}).IsVideo() {
			videoCount++
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".nfo") {
			nfoFiles = append(nfoFiles, filepath.Join(dir, e.Name()))
		}
	}
	if videoCount == 1 && len(nfoFiles) > 0 {
		return nfoFiles[0]
	}
	return ""
}

// ──────────────────── Internal Helpers ────────────────────

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
