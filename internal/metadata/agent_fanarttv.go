package metadata

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

const fanartDefaultBaseURL = "https://webservice.fanart.tv/v3"

// FanartTVAgent supplies logos, backdrops and posters from fanart.tv. It only
// looks items up by provider id, never by title.
type FanartTVAgent struct {
	apiKey string
	http   *jsonClient
	logger *zap.Logger
}

type FanartTVOptions struct {
	ClientOptions
	APIKey string
}

func NewFanartTVAgent(opts FanartTVOptions, logger *zap.Logger) *FanartTVAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = fanartDefaultBaseURL
	}
	return &FanartTVAgent{
		apiKey: opts.APIKey,
		http:   newJSONClient("fanart.tv", opts.ClientOptions),
		logger: logger.Named("fanarttv"),
	}
}

func (a *FanartTVAgent) Name() string { return "fanarttv" }

func (a *FanartTVAgent) ArtworkKinds() []models.ArtworkKind {
	return []models.ArtworkKind{models.ArtworkPoster, models.ArtworkBackdrop, models.ArtworkLogo, models.ArtworkThumbnail}
}

type fanartImage struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Likes string `json:"likes"`
	Lang  string `json:"lang"`
}

type fanartResponse struct {
	// Movies
	HDMovieLogos     []fanartImage `json:"hdmovielogo"`
	MovieLogos       []fanartImage `json:"movielogo"`
	MoviePosters     []fanartImage `json:"movieposter"`
	MovieThumbs      []fanartImage `json:"moviethumb"`
	MovieBackgrounds []fanartImage `json:"moviebackground"`
	// Shows
	HDTVLogos       []fanartImage `json:"hdtvlogo"`
	ClearLogos      []fanartImage `json:"clearlogo"`
	TVPosters       []fanartImage `json:"tvposter"`
	TVThumbs        []fanartImage `json:"tvthumb"`
	ShowBackgrounds []fanartImage `json:"showbackground"`
	// Music artists
	HDMusicLogos      []fanartImage `json:"hdmusiclogo"`
	MusicLogos        []fanartImage `json:"musiclogo"`
	ArtistBackgrounds []fanartImage `json:"artistbackground"`
	ArtistThumbs      []fanartImage `json:"artistthumb"`
}

func (a *FanartTVAgent) Extract(ctx context.Context, req Request) (*Contribution, error) {
	if a.apiKey == "" {
		return nil, ErrNotConfigured
	}
	item := req.Item

	// fanart.tv is keyed by provider id only
	var path string
	switch item.Type {
	case models.ItemTypeMovie:
		id := firstNonEmpty(item.ProviderIDs["tmdb"], item.ProviderIDs["imdb"])
		if id == "" {
			return nil, ErrNotFound
		}
		path = "/movies/" + url.PathEscape(id)
	case models.ItemTypeShow:
		id := item.ProviderIDs["tvdb"]
		if id == "" {
			return nil, ErrNotFound
		}
		path = "/tv/" + url.PathEscape(id)
	case models.ItemTypeArtist:
		id := item.ProviderIDs["musicbrainz_artist"]
		if id == "" {
			return nil, ErrNotFound
		}
		path = "/music/" + url.PathEscape(id)
	default:
		return nil, ErrNotFound
	}

	var resp fanartResponse
	if err := a.http.getJSON(ctx, a.http.baseURL+path+"?api_key="+url.QueryEscape(a.apiKey), &resp); err != nil {
		return nil, err
	}

	art := map[models.ArtworkKind]string{}
	set := func(kind models.ArtworkKind, sets ...[]fanartImage) {
		if u := firstFanartURL(sets...); u != "" {
			art[kind] = u
		}
	}
	set(models.ArtworkLogo, resp.HDMovieLogos, resp.MovieLogos, resp.HDTVLogos, resp.ClearLogos, resp.HDMusicLogos, resp.MusicLogos)
	set(models.ArtworkBackdrop, resp.MovieBackgrounds, resp.ShowBackgrounds, resp.ArtistBackgrounds)
	set(models.ArtworkPoster, resp.MoviePosters, resp.TVPosters, resp.ArtistThumbs)
	set(models.ArtworkThumbnail, resp.MovieThumbs, resp.TVThumbs)
	if len(art) == 0 {
		return nil, nil
	}
	return &Contribution{Source: a.Name(), Kind: KindAgent, Part: -1, Artwork: art}, nil
}

// firstFanartURL returns the URL of the first image from multiple
// preference-ordered slices, preferring English or language-neutral images.
func firstFanartURL(imageSets ...[]fanartImage) string {
	for _, images := range imageSets {
		for _, img := range images {
			if (img.Lang == "en" || img.Lang == "" || img.Lang == "00") && img.URL != "" {
				return img.URL
			}
		}
	}
	for _, images := range imageSets {
		if len(images) > 0 && images[0].URL != "" {
			return images[0].URL
		}
	}
	return ""
}
