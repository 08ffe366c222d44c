package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

const (
	tmdbDefaultBaseURL  = "https://api.themoviedb.org/3"
	tmdbDefaultImageURL = "https://image.tmdb.org/t/p"
	tmdbMaxCast         = 20
)

// TMDBAgent resolves movies, shows and episodes against The Movie Database.
type TMDBAgent struct {
	apiKey    string
	imageBase string
	threshold float64
	http      *jsonClient
	logger    *zap.Logger
}

type TMDBOptions struct {
	ClientOptions
	APIKey       string
	ImageBaseURL string
	// MatchThreshold is the minimum title similarity for an automatic match.
	MatchThreshold float64
}

func NewTMDBAgent(opts TMDBOptions, logger *zap.Logger) *TMDBAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = tmdbDefaultBaseURL
	}
	if opts.ImageBaseURL == "" {
		opts.ImageBaseURL = tmdbDefaultImageURL
	}
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = 0.6
	}
	return &TMDBAgent{
		apiKey:    opts.APIKey,
		imageBase: strings.TrimRight(opts.ImageBaseURL, "/"),
		threshold: opts.MatchThreshold,
		http:      newJSONClient("tmdb", opts.ClientOptions),
		logger:    logger.Named("tmdb"),
	}
}

func (a *TMDBAgent) Name() string { return "tmdb" }

func (a *TMDBAgent) ArtworkKinds() []models.ArtworkKind {
	return []models.ArtworkKind{models.ArtworkPoster, models.ArtworkBackdrop, models.ArtworkLogo, models.ArtworkThumbnail}
}

// ──────────────────── Response shapes ────────────────────

type tmdbSearchResponse struct {
	Results []struct {
		ID            int    `json:"id"`
		Title         string `json:"title"`
		Name          string `json:"name"`
		OriginalTitle string `json:"original_title"`
		OriginalName  string `json:"original_name"`
	} `json:"results"`
}

type tmdbCredits struct {
	Cast []struct {
		Name        string `json:"name"`
		Character   string `json:"character"`
		ProfilePath string `json:"profile_path"`
		Order       int    `json:"order"`
	} `json:"cast"`
	Crew []struct {
		Name        string `json:"name"`
		Job         string `json:"job"`
		Department  string `json:"department"`
		ProfilePath string `json:"profile_path"`
	} `json:"crew"`
}

type tmdbImages struct {
	Logos []struct {
		FilePath string `json:"file_path"`
		Language string `json:"iso_639_1"`
	} `json:"logos"`
}

type tmdbNamed struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type tmdbDetails struct {
	ID                  int         `json:"id"`
	Title               string      `json:"title"`
	Name                string      `json:"name"`
	OriginalTitle       string      `json:"original_title"`
	OriginalName        string      `json:"original_name"`
	Overview            string      `json:"overview"`
	Tagline             string      `json:"tagline"`
	PosterPath          string      `json:"poster_path"`
	BackdropPath        string      `json:"backdrop_path"`
	StillPath           string      `json:"still_path"`
	ReleaseDate         string      `json:"release_date"`
	FirstAirDate        string      `json:"first_air_date"`
	AirDate             string      `json:"air_date"`
	Runtime             int         `json:"runtime"`
	EpisodeRunTime      []int       `json:"episode_run_time"`
	IMDBId              string      `json:"imdb_id"`
	Genres              []tmdbNamed `json:"genres"`
	ProductionCompanies []tmdbNamed `json:"production_companies"`
	Networks            []tmdbNamed `json:"networks"`
	Credits             tmdbCredits `json:"credits"`
	Images              tmdbImages  `json:"images"`
	ExternalIDs         struct {
		IMDBId string `json:"imdb_id"`
		TVDBId int    `json:"tvdb_id"`
	} `json:"external_ids"`
	Keywords struct {
		Keywords []tmdbNamed `json:"keywords"`
		Results  []tmdbNamed `json:"results"`
	} `json:"keywords"`
	ReleaseDates struct {
		Results []tmdbReleaseDateCountry `json:"results"`
	} `json:"release_dates"`
	ContentRatings struct {
		Results []struct {
			ISO31661 string `json:"iso_3166_1"`
			Rating   string `json:"rating"`
		} `json:"results"`
	} `json:"content_ratings"`
	// Episodes
	GuestStars []struct {
		Name        string `json:"name"`
		Character   string `json:"character"`
		ProfilePath string `json:"profile_path"`
	} `json:"guest_stars"`
	SeasonNumber  int `json:"season_number"`
	EpisodeNumber int `json:"episode_number"`
}

type tmdbReleaseDateCountry struct {
	ISO31661     string `json:"iso_3166_1"`
	ReleaseDates []struct {
		Certification string `json:"certification"`
	} `json:"release_dates"`
}

// ──────────────────── Extract ────────────────────

func (a *TMDBAgent) Extract(ctx context.Context, req Request) (*Contribution, error) {
	if a.apiKey == "" {
		return nil, ErrNotConfigured
	}
	item := req.Item

	switch item.Type {
	case models.ItemTypeMovie:
		id, err := a.resolveID(ctx, "movie", item)
		if err != nil {
			return nil, err
		}
		var d tmdbDetails
		if err := a.get(ctx, "/movie/"+id, url.Values{
			"append_to_response":     {"credits,release_dates,keywords,images"},
			"include_image_language": {"en,null"},
		}, &d); err != nil {
			return nil, err
		}
		return a.contribution(&d, item.Type), nil

	case models.ItemTypeShow:
		id, err := a.resolveID(ctx, "tv", item)
		if err != nil {
			return nil, err
		}
		var d tmdbDetails
		if err := a.get(ctx, "/tv/"+id, url.Values{
			"append_to_response":     {"credits,external_ids,content_ratings,keywords,images"},
			"include_image_language": {"en,null"},
		}, &d); err != nil {
			return nil, err
		}
		return a.contribution(&d, item.Type), nil

	case models.ItemTypeEpisode:
		return a.extractEpisode(ctx, item)
	}
	return nil, nil
}

func (a *TMDBAgent) extractEpisode(ctx context.Context, item *models.CatalogItem) (*Contribution, error) {
	if item.Episode == nil || item.Episode.EpisodeNumber <= 0 {
		return nil, nil
	}
	showID := item.ProviderIDs["tmdb_show"]
	if showID == "" {
		if item.Episode.ShowTitle == "" {
			return nil, nil
		}
		show := &models.CatalogItem{Title: item.Episode.ShowTitle}
		id, err := a.search(ctx, "tv", show)
		if err != nil {
			return nil, err
		}
		showID = id
	}

	var d tmdbDetails
	path := fmt.Sprintf("/tv/%s/season/%d/episode/%d", showID, item.Episode.SeasonNumber, item.Episode.EpisodeNumber)
	if err := a.get(ctx, path, url.Values{"append_to_response": {"credits"}}, &d); err != nil {
		return nil, err
	}
	c := a.contribution(&d, models.ItemTypeEpisode)
	c.Patch.ProviderIDs["tmdb_show"] = showID
	return c, nil
}

func (a *TMDBAgent) resolveID(ctx context.Context, kind string, item *models.CatalogItem) (string, error) {
	if id := item.ProviderIDs["tmdb"]; id != "" {
		return id, nil
	}
	return a.search(ctx, kind, item)
}

// search returns the best scoring result above the match threshold. A search
// that includes a year is retried without it when nothing is found.
func (a *TMDBAgent) search(ctx context.Context, kind string, item *models.CatalogItem) (string, error) {
	query := item.Title
	if query == "" {
		return "", ErrNotFound
	}
	id, err := a.searchOnce(ctx, kind, query, item.Year)
	if errors.Is(err, ErrNotFound) && item.Year > 0 {
		id, err = a.searchOnce(ctx, kind, query, 0)
	}
	return id, err
}

func (a *TMDBAgent) searchOnce(ctx context.Context, kind, query string, year int) (string, error) {
	params := url.Values{"query": {query}}
	if year > 0 {
		if kind == "tv" {
			params.Set("first_air_date_year", strconv.Itoa(year))
		} else {
			params.Set("year", strconv.Itoa(year))
		}
	}
	var resp tmdbSearchResponse
	if err := a.get(ctx, "/search/"+kind, params, &resp); err != nil {
		return "", err
	}

	bestID, bestScore := 0, 0.0
	for i, r := range resp.Results {
		title := firstNonEmpty(r.Title, r.Name)
		score := titleSimilarity(query, title)
		if orig := firstNonEmpty(r.OriginalTitle, r.OriginalName); orig != "" && orig != title {
			if s := titleSimilarity(query, orig); s > score {
				score = s
			}
		}
		// TMDB returns results in relevance order; small boost for top positions
		if i < 3 {
			score += 0.05 * float64(3-i) / 3.0
		}
		if score > bestScore {
			bestID, bestScore = r.ID, score
		}
	}
	if bestID == 0 || bestScore < a.threshold {
		a.logger.Debug("no confident match", zap.String("query", query), zap.Float64("score", bestScore))
		return "", ErrNotFound
	}
	return strconv.Itoa(bestID), nil
}

func (a *TMDBAgent) contribution(d *tmdbDetails, itemType models.ItemType) *Contribution {
	patch := &Patch{
		Title:       firstNonEmpty(d.Title, d.Name),
		Summary:     strings.TrimSpace(d.Overview),
		Tagline:     strings.TrimSpace(d.Tagline),
		ProviderIDs: map[string]string{},
	}
	if orig := firstNonEmpty(d.OriginalTitle, d.OriginalName); orig != patch.Title {
		patch.OriginalTitle = orig
	}
	patch.ReleaseDate = parseDate(firstNonEmpty(d.ReleaseDate, d.FirstAirDate, d.AirDate))
	if patch.ReleaseDate != nil {
		patch.Year = patch.ReleaseDate.Year()
	}
	runtime := d.Runtime
	if runtime == 0 && len(d.EpisodeRunTime) > 0 {
		runtime = d.EpisodeRunTime[0]
	}
	if runtime > 0 && itemType != models.ItemTypeShow {
		patch.DurationMS = int64(runtime) * 60 * 1000
	}
	patch.ContentRating = usCertification(d)

	if d.ID > 0 && itemType != models.ItemTypeEpisode {
		patch.ProviderIDs["tmdb"] = strconv.Itoa(d.ID)
	}
	if imdb := firstNonEmpty(d.IMDBId, d.ExternalIDs.IMDBId); imdb != "" {
		patch.ProviderIDs["imdb"] = imdb
	}
	if d.ExternalIDs.TVDBId > 0 {
		patch.ProviderIDs["tvdb"] = strconv.Itoa(d.ExternalIDs.TVDBId)
	}
	if itemType == models.ItemTypeEpisode {
		patch.Episode = &models.EpisodeDetails{SeasonNumber: d.SeasonNumber, EpisodeNumber: d.EpisodeNumber}
	}

	c := &Contribution{Source: a.Name(), Kind: KindAgent, Part: -1, Patch: patch}
	for _, g := range d.Genres {
		c.Genres = append(c.Genres, g.Name)
	}
	for _, k := range append(d.Keywords.Keywords, d.Keywords.Results...) {
		c.Tags = append(c.Tags, k.Name)
	}
	c.Credits = a.credits(d)
	c.Artwork = a.artwork(d, itemType)
	return c
}

func (a *TMDBAgent) credits(d *tmdbDetails) []models.Credit {
	var credits []models.Credit
	for _, crew := range d.Credits.Crew {
		var relation string
		switch crew.Job {
		case "Director":
			relation = "director"
		case "Screenplay", "Writer", "Story", "Teleplay":
			relation = "writer"
		case "Producer", "Executive Producer":
			relation = "producer"
		case "Original Music Composer":
			relation = "composer"
		default:
			continue
		}
		credits = append(credits, models.Credit{
			Name: crew.Name, Kind: models.CreditPerson, Relation: relation, Role: crew.Job,
			Thumb: a.image("w185", crew.ProfilePath),
		})
	}
	for i, member := range d.Credits.Cast {
		if i >= tmdbMaxCast {
			break
		}
		credits = append(credits, models.Credit{
			Name: member.Name, Kind: models.CreditPerson, Relation: "actor", Role: member.Character,
			Thumb: a.image("w185", member.ProfilePath),
		})
	}
	for _, g := range d.GuestStars {
		credits = append(credits, models.Credit{
			Name: g.Name, Kind: models.CreditPerson, Relation: "guest", Role: g.Character,
			Thumb: a.image("w185", g.ProfilePath),
		})
	}
	for _, s := range append(d.ProductionCompanies, d.Networks...) {
		credits = append(credits, models.Credit{Name: s.Name, Kind: models.CreditGroup, Relation: "studio"})
	}
	return credits
}

func (a *TMDBAgent) artwork(d *tmdbDetails, itemType models.ItemType) map[models.ArtworkKind]string {
	art := map[models.ArtworkKind]string{}
	if u := a.image("w780", d.PosterPath); u != "" {
		art[models.ArtworkPoster] = u
	}
	if u := a.image("w1280", d.BackdropPath); u != "" {
		art[models.ArtworkBackdrop] = u
	}
	if len(d.Images.Logos) > 0 {
		art[models.ArtworkLogo] = a.image("original", d.Images.Logos[0].FilePath)
	}
	if itemType == models.ItemTypeEpisode {
		if u := a.image("w780", d.StillPath); u != "" {
			art[models.ArtworkThumbnail] = u
		}
	}
	if len(art) == 0 {
		return nil
	}
	return art
}

func (a *TMDBAgent) image(size, path string) string {
	if path == "" {
		return ""
	}
	return a.imageBase + "/" + size + path
}

// usCertification returns the US rating from release_dates (movies) or
// content_ratings (shows).
func usCertification(d *tmdbDetails) string {
	for _, c := range d.ReleaseDates.Results {
		if c.ISO31661 != "US" {
			continue
		}
		for _, rd := range c.ReleaseDates {
			if rd.Certification != "" {
				return rd.Certification
			}
		}
	}
	for _, r := range d.ContentRatings.Results {
		if r.ISO31661 == "US" && r.Rating != "" {
			return r.Rating
		}
	}
	return ""
}

func (a *TMDBAgent) get(ctx context.Context, path string, params url.Values, dst interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", a.apiKey)
	return a.http.getJSON(ctx, a.http.baseURL+path+"?"+params.Encode(), dst)
}
