package metadata

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// SourceFilename names the contribution derived from the media file name.
const SourceFilename = "filename"

// KindFilename marks contributions parsed from file names.
const KindFilename Kind = "filename"

// Inline ids, Jellyfin style [tmdbid-603] and Plex style {tmdb-603}.
var inlineIDPatterns = []struct {
	provider string
	rx       *regexp.Regexp
}{
	{"tmdb", regexp.MustCompile(`(?i)[\[{]tmdb(?:id)?[=-](\d+)[\]}]`)},
	{"imdb", regexp.MustCompile(`(?i)[\[{]imdb(?:id)?[=-](tt\d+)[\]}]`)},
	{"tvdb", regexp.MustCompile(`(?i)[\[{]tvdb(?:id)?[=-](\d+)[\]}]`)},
}

var (
	bracketedRx     = regexp.MustCompile(`[\[{][^\]}]*[\]}]`)
	yearInParensRx  = regexp.MustCompile(`[\(\[]((?:19|20)\d{2})[\)\]]`)
	delimitedYearRx = regexp.MustCompile(`(?:[\.\-_\s])((?:19|20)\d{2})(?:[\.\-_\s]|$)`)
	seasonEpisodeRx = regexp.MustCompile(`(?i)(?:^|[\s._-])S(\d{1,4})\s*E(\d{1,4})`)
	crossEpisodeRx  = regexp.MustCompile(`(?i)(?:^|[\s._-])(\d{1,2})x(\d{1,3})(?:[\s._-]|$)`)
	discTrackRx     = regexp.MustCompile(`(?i)(?:^|\s-\s)D(\d{1,3})T(\d{1,3})\s*$`)
	leadingTrackRx  = regexp.MustCompile(`^(?:(\d)-)?(\d{1,3})[\s._-]+(?:-\s*)?(.+)$`)
)

// junkTokens end a title when they appear as a whole token.
var junkTokens = map[string]bool{
	"480p": true, "576p": true, "720p": true, "1080p": true, "1080i": true, "2160p": true, "4k": true, "uhd": true,
	"bluray": true, "blu-ray": true, "bdrip": true, "brrip": true, "remux": true, "webrip": true, "web-dl": true,
	"webdl": true, "web": true, "hdtv": true, "dvdrip": true, "hdrip": true,
	"x264": true, "x265": true, "h264": true, "h265": true, "hevc": true, "av1": true, "xvid": true, "10bit": true,
	"aac": true, "ac3": true, "dts": true, "truehd": true, "atmos": true, "ddp5": true, "dd5": true,
	"proper": true, "repack": true, "extended": true, "unrated": true, "remastered": true, "internal": true,
}

// FilenameSource derives a title, year, episode or track numbers and inline
// provider ids from the media file name. It ranks after every other source
// and only fills what nothing else knows.
type FilenameSource struct {
	logger *zap.Logger
}

func NewFilenameSource(logger *zap.Logger) *FilenameSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilenameSource{logger: logger.Named("filename")}
}

func (s *FilenameSource) Name() string { return SourceFilename }

func (s *FilenameSource) Kind() Kind { return KindFilename }

func (s *FilenameSource) CanHandle(_ *models.CatalogItem, part models.MediaPart) bool {
	return part.Path != "" && !part.IsImage()
}

func (s *FilenameSource) Extract(ctx context.Context, req Request) (*Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Part == nil {
		return nil, ErrNotFound
	}
	patch := ParseFilename(req.Part.Path, req.Item.Type)
	if patch == nil {
		return nil, ErrNotFound
	}
	s.logger.Debug("parsed file name", zap.String("path", req.Part.Path), zap.String("title", patch.Title), zap.Int("year", patch.Year))
	return &Contribution{Source: SourceFilename, Kind: KindFilename, Part: req.PartIndex, Patch: patch}, nil
}

// ParseFilename reads what it can from the base name of path. It returns nil
// when nothing was recognized.
func ParseFilename(path string, itemType models.ItemType) *Patch {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	patch := &Patch{}

	for _, p := range inlineIDPatterns {
		if m := p.rx.FindStringSubmatch(base); m != nil {
			if patch.ProviderIDs == nil {
				patch.ProviderIDs = map[string]string{}
			}
			patch.ProviderIDs[p.provider] = m[1]
			base = p.rx.ReplaceAllString(base, " ")
		}
	}
	base = strings.TrimSpace(base)

	switch itemType {
	case models.ItemTypeEpisode:
		season, episode, ok := episodeNumbers(base)
		if ok {
			patch.Episode = &models.EpisodeDetails{SeasonNumber: season, EpisodeNumber: episode}
		}
	case models.ItemTypeTrack:
		parseTrack(base, patch)
	default:
		patch.Title, patch.Year = cleanTitle(base)
	}

	if patch.Title == "" && patch.Year == 0 && patch.Episode == nil && patch.Music == nil && patch.ProviderIDs == nil {
		return nil
	}
	return patch
}

func episodeNumbers(name string) (season, episode int, ok bool) {
	m := seasonEpisodeRx.FindStringSubmatch(name)
	if m == nil {
		m = crossEpisodeRx.FindStringSubmatch(name)
	}
	if m == nil {
		return 0, 0, false
	}
	season, _ = strconv.Atoi(m[1])
	episode, _ = strconv.Atoi(m[2])
	return season, episode, episode > 0
}

// parseTrack understands "Artist - Album - D01T02" and "02 - Title".
func parseTrack(name string, patch *Patch) {
	if m := discTrackRx.FindStringSubmatchIndex(name); m != nil {
		disc, _ := strconv.Atoi(name[m[2]:m[3]])
		track, _ := strconv.Atoi(name[m[4]:m[5]])
		patch.Music = &models.MusicDetails{DiscNumber: disc, TrackNumber: track}
		if parts := strings.Split(name[:m[0]], " - "); len(parts) == 2 {
			patch.Music.AlbumArtist = strings.TrimSpace(parts[0])
			patch.Music.AlbumTitle = strings.TrimSpace(parts[1])
		}
		return
	}
	if m := leadingTrackRx.FindStringSubmatch(name); m != nil {
		track, _ := strconv.Atoi(m[2])
		patch.Music = &models.MusicDetails{TrackNumber: track}
		if m[1] != "" {
			patch.Music.DiscNumber, _ = strconv.Atoi(m[1])
		}
		patch.Title = strings.TrimSpace(m[3])
		return
	}
	patch.Title = collapseSpaces(name)
}

// cleanTitle cuts a scene-style or "Title (Year)" name at the year or the
// first junk token.
func cleanTitle(name string) (string, int) {
	year := 0
	if m := yearInParensRx.FindStringSubmatchIndex(name); m != nil {
		year, _ = strconv.Atoi(name[m[2]:m[3]])
		name = name[:m[0]]
	} else if m := delimitedYearRx.FindStringSubmatchIndex(name); m != nil && m[0] > 0 {
		year, _ = strconv.Atoi(name[m[2]:m[3]])
		name = name[:m[0]]
	}
	name = bracketedRx.ReplaceAllString(name, " ")

	name = strings.NewReplacer(".", " ", "_", " ").Replace(name)
	var kept []string
	for _, tok := range strings.Fields(name) {
		if junkTokens[strings.ToLower(tok)] {
			break
		}
		kept = append(kept, tok)
	}
	title := strings.TrimRight(strings.Join(kept, " "), " -")
	return title, year
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
