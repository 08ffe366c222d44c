package metadata

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

const (
	musicBrainzDefaultBaseURL = "https://musicbrainz.org/ws/2"
	coverArtArchiveURL        = "https://coverartarchive.org"
)

// MusicBrainzAgent resolves tracks and albums against MusicBrainz and pulls
// album covers from the Cover Art Archive.
type MusicBrainzAgent struct {
	http      *jsonClient
	coverBase string
	threshold float64
	logger    *zap.Logger
}

type MusicBrainzOptions struct {
	ClientOptions
	CoverArtBaseURL string
	MatchThreshold  float64
}

func NewMusicBrainzAgent(opts MusicBrainzOptions, logger *zap.Logger) *MusicBrainzAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = musicBrainzDefaultBaseURL
	}
	if opts.RequestsPerSecond <= 0 || opts.RequestsPerSecond > 1 {
		// MusicBrainz allows one request per second per client
		opts.RequestsPerSecond = 1
	}
	if opts.CoverArtBaseURL == "" {
		opts.CoverArtBaseURL = coverArtArchiveURL
	}
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = 0.6
	}
	return &MusicBrainzAgent{
		http:      newJSONClient("musicbrainz", opts.ClientOptions),
		coverBase: strings.TrimRight(opts.CoverArtBaseURL, "/"),
		threshold: opts.MatchThreshold,
		logger:    logger.Named("musicbrainz"),
	}
}

func (a *MusicBrainzAgent) Name() string { return "musicbrainz" }

func (a *MusicBrainzAgent) ArtworkKinds() []models.ArtworkKind {
	return []models.ArtworkKind{models.ArtworkPoster}
}

type mbArtistCredit struct {
	Name   string `json:"name"`
	Artist struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
}

type mbTag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type mbRelease struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Score        int              `json:"score"`
	Date         string           `json:"date"`
	ArtistCredit []mbArtistCredit `json:"artist-credit"`
	LabelInfo    []struct {
		Label struct {
			Name string `json:"name"`
		} `json:"label"`
	} `json:"label-info"`
	ReleaseGroup struct {
		ID          string `json:"id"`
		PrimaryType string `json:"primary-type"`
	} `json:"release-group"`
	CoverArtArchive struct {
		Front bool `json:"front"`
	} `json:"cover-art-archive"`
	Tags   []mbTag `json:"tags"`
	Genres []mbTag `json:"genres"`
}

type mbRecording struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Score            int              `json:"score"`
	Length           int64            `json:"length"`
	FirstReleaseDate string           `json:"first-release-date"`
	ArtistCredit     []mbArtistCredit `json:"artist-credit"`
	Releases         []mbRelease      `json:"releases"`
	Tags             []mbTag          `json:"tags"`
	Genres           []mbTag          `json:"genres"`
}

func (a *MusicBrainzAgent) Extract(ctx context.Context, req Request) (*Contribution, error) {
	switch req.Item.Type {
	case models.ItemTypeTrack:
		rec, err := a.recording(ctx, req.Item)
		if err != nil || rec == nil {
			return nil, err
		}
		return a.recordingContribution(rec), nil
	case models.ItemTypeAlbum:
		rel, err := a.release(ctx, req.Item)
		if err != nil || rel == nil {
			return nil, err
		}
		return a.releaseContribution(rel), nil
	}
	return nil, nil
}

func (a *MusicBrainzAgent) recording(ctx context.Context, item *models.CatalogItem) (*mbRecording, error) {
	if id := item.ProviderIDs["musicbrainz_recording"]; id != "" {
		var rec mbRecording
		err := a.http.getJSON(ctx, fmt.Sprintf("%s/recording/%s?inc=artists+releases+tags+genres&fmt=json",
			a.http.baseURL, url.PathEscape(id)), &rec)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
	if item.Title == "" {
		return nil, nil
	}

	query := fmt.Sprintf("recording:%q", item.Title)
	if item.Music != nil && item.Music.AlbumArtist != "" {
		query += fmt.Sprintf(" AND artist:%q", item.Music.AlbumArtist)
	}
	if item.Music != nil && item.Music.AlbumTitle != "" {
		query += fmt.Sprintf(" AND release:%q", item.Music.AlbumTitle)
	}
	var result struct {
		Recordings []mbRecording `json:"recordings"`
	}
	err := a.http.getJSON(ctx, fmt.Sprintf("%s/recording/?query=%s&fmt=json&limit=5",
		a.http.baseURL, url.QueryEscape(query)), &result)
	if err != nil {
		return nil, err
	}
	for i := range result.Recordings {
		if float64(result.Recordings[i].Score)/100.0 >= a.threshold {
			return &result.Recordings[i], nil
		}
	}
	a.logger.Debug("no confident recording match", zap.String("query", query))
	return nil, nil
}

func (a *MusicBrainzAgent) release(ctx context.Context, item *models.CatalogItem) (*mbRelease, error) {
	if id := item.ProviderIDs["musicbrainz_album"]; id != "" {
		var rel mbRelease
		err := a.http.getJSON(ctx, fmt.Sprintf("%s/release/%s?inc=artists+labels+tags+genres+release-groups&fmt=json",
			a.http.baseURL, url.PathEscape(id)), &rel)
		if err != nil {
			return nil, err
		}
		return &rel, nil
	}
	if item.Title == "" {
		return nil, nil
	}

	query := fmt.Sprintf("release:%q", item.Title)
	if item.Music != nil && item.Music.AlbumArtist != "" {
		query += fmt.Sprintf(" AND artist:%q", item.Music.AlbumArtist)
	}
	var result struct {
		Releases []mbRelease `json:"releases"`
	}
	err := a.http.getJSON(ctx, fmt.Sprintf("%s/release/?query=%s&fmt=json&limit=5",
		a.http.baseURL, url.QueryEscape(query)), &result)
	if err != nil {
		return nil, err
	}
	for i := range result.Releases {
		if float64(result.Releases[i].Score)/100.0 >= a.threshold {
			return &result.Releases[i], nil
		}
	}
	a.logger.Debug("no confident release match", zap.String("query", query))
	return nil, nil
}

func (a *MusicBrainzAgent) recordingContribution(rec *mbRecording) *Contribution {
	patch := &Patch{
		Title:       rec.Title,
		DurationMS:  rec.Length,
		ReleaseDate: parseDate(rec.FirstReleaseDate),
		ProviderIDs: map[string]string{"musicbrainz_recording": rec.ID},
	}
	if patch.ReleaseDate != nil {
		patch.Year = patch.ReleaseDate.Year()
	}
	c := &Contribution{Source: a.Name(), Kind: KindAgent, Part: -1, Patch: patch}
	c.Credits = artistCredits(rec.ArtistCredit)
	if len(rec.ArtistCredit) > 0 && rec.ArtistCredit[0].Artist.ID != "" {
		patch.ProviderIDs["musicbrainz_artist"] = rec.ArtistCredit[0].Artist.ID
	}
	if len(rec.Releases) > 0 {
		rel := rec.Releases[0]
		patch.Music = &models.MusicDetails{AlbumTitle: rel.Title, AlbumArtist: joinArtists(rel.ArtistCredit)}
		patch.ProviderIDs["musicbrainz_album"] = rel.ID
		if rel.CoverArtArchive.Front {
			c.Artwork = map[models.ArtworkKind]string{models.ArtworkPoster: a.cover(rel.ID)}
		}
	}
	c.Genres = tagNames(rec.Genres)
	c.Tags = tagNames(rec.Tags)
	return c
}

func (a *MusicBrainzAgent) releaseContribution(rel *mbRelease) *Contribution {
	patch := &Patch{
		Title:       rel.Title,
		ReleaseDate: parseDate(rel.Date),
		ProviderIDs: map[string]string{"musicbrainz_album": rel.ID},
		Music:       &models.MusicDetails{AlbumTitle: rel.Title, AlbumArtist: joinArtists(rel.ArtistCredit)},
	}
	if patch.ReleaseDate != nil {
		patch.Year = patch.ReleaseDate.Year()
	}
	if rel.ReleaseGroup.ID != "" {
		patch.ProviderIDs["musicbrainz_releasegroup"] = rel.ReleaseGroup.ID
	}
	if len(rel.LabelInfo) > 0 {
		patch.Music.Label = rel.LabelInfo[0].Label.Name
	}
	c := &Contribution{Source: a.Name(), Kind: KindAgent, Part: -1, Patch: patch}
	c.Credits = artistCredits(rel.ArtistCredit)
	for _, l := range rel.LabelInfo {
		if l.Label.Name != "" {
			c.Credits = append(c.Credits, models.Credit{Name: l.Label.Name, Kind: models.CreditGroup, Relation: "label"})
		}
	}
	if rel.CoverArtArchive.Front {
		c.Artwork = map[models.ArtworkKind]string{models.ArtworkPoster: a.cover(rel.ID)}
	}
	c.Genres = tagNames(rel.Genres)
	c.Tags = tagNames(rel.Tags)
	return c
}

func (a *MusicBrainzAgent) cover(releaseID string) string {
	return fmt.Sprintf("%s/release/%s/front-500", a.coverBase, releaseID)
}

func artistCredits(credits []mbArtistCredit) []models.Credit {
	var out []models.Credit
	for _, ac := range credits {
		name := firstNonEmpty(ac.Artist.Name, ac.Name)
		if name == "" {
			continue
		}
		out = append(out, models.Credit{Name: name, Kind: models.CreditGroup, Relation: "artist"})
	}
	return out
}

func joinArtists(credits []mbArtistCredit) string {
	var names []string
	for _, ac := range credits {
		if name := firstNonEmpty(ac.Artist.Name, ac.Name); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func tagNames(tags []mbTag) []string {
	var out []string
	for _, t := range tags {
		if t.Name != "" && t.Count >= 0 {
			out = append(out, t.Name)
		}
	}
	return out
}
