package enrichment

import (
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/nexamediaserver/server-sub005/internal/metadata"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

// locked reports whether field may not be written in this run.
func locked(item *models.CatalogItem, field string, overrides mapset.Set[string]) bool {
	if overrides != nil && (overrides.Contains(field) || overrides.Contains(models.FieldAll)) {
		return false
	}
	return item.IsFieldLocked(field)
}

// Merge applies contributions, already in priority order, to item and
// reports whether anything observable changed.
//
// Scalars take the first non-empty value, technical collections are unioned
// with what the item already has, duration takes the largest positive value
// and typed details merge key by key. Locked fields that are not overridden
// are left alone. Fields nobody has an opinion about keep their value.
func Merge(item *models.CatalogItem, contributions []*metadata.Contribution, overrides mapset.Set[string]) bool {
	var patches []*metadata.Patch
	for _, c := range contributions {
		if c != nil && c.Patch != nil {
			patches = append(patches, c.Patch)
		}
	}
	if len(patches) == 0 {
		return false
	}
	m := merger{item: item, patches: patches, overrides: overrides}

	m.str(models.FieldTitle, &item.Title, func(p *metadata.Patch) string { return p.Title })
	m.str(models.FieldSortTitle, &item.SortTitle, func(p *metadata.Patch) string { return p.SortTitle })
	m.str(models.FieldOriginalTitle, &item.OriginalTitle, func(p *metadata.Patch) string { return p.OriginalTitle })
	m.str(models.FieldSummary, &item.Summary, func(p *metadata.Patch) string { return p.Summary })
	m.str(models.FieldTagline, &item.Tagline, func(p *metadata.Patch) string { return p.Tagline })
	m.str(models.FieldContentRating, &item.ContentRating, func(p *metadata.Patch) string { return p.ContentRating })
	m.releaseDate()
	m.num(models.FieldYear, &item.Year, func(p *metadata.Patch) int { return p.Year })
	m.duration()

	m.union(models.FieldAudioCodecs, (*[]string)(&item.AudioCodecs), func(p *metadata.Patch) []string { return p.AudioCodecs })
	m.union(models.FieldAudioLanguages, (*[]string)(&item.AudioLanguages), func(p *metadata.Patch) []string { return p.AudioLanguages })
	m.union(models.FieldSubtitleLanguages, (*[]string)(&item.SubtitleLanguages), func(p *metadata.Patch) []string { return p.SubtitleLanguages })

	m.music()
	m.classical()
	m.episode()
	m.providerIDs()
	return m.changed
}

type merger struct {
	item      *models.CatalogItem
	patches   []*metadata.Patch
	overrides mapset.Set[string]
	changed   bool
}

func (m *merger) locked(field string) bool {
	return locked(m.item, field, m.overrides)
}

func (m *merger) firstString(get func(*metadata.Patch) string) string {
	for _, p := range m.patches {
		if v := strings.TrimSpace(get(p)); v != "" {
			return v
		}
	}
	return ""
}

func (m *merger) firstInt(get func(*metadata.Patch) int) int {
	for _, p := range m.patches {
		if v := get(p); v > 0 {
			return v
		}
	}
	return 0
}

func (m *merger) setString(dst *string, v string) {
	if v != "" && *dst != v {
		*dst = v
		m.changed = true
	}
}

func (m *merger) setInt(dst *int, v int) {
	if v > 0 && *dst != v {
		*dst = v
		m.changed = true
	}
}

func (m *merger) str(field string, dst *string, get func(*metadata.Patch) string) {
	if m.locked(field) {
		return
	}
	m.setString(dst, m.firstString(get))
}

func (m *merger) num(field string, dst *int, get func(*metadata.Patch) int) {
	if m.locked(field) {
		return
	}
	m.setInt(dst, m.firstInt(get))
}

func (m *merger) releaseDate() {
	if m.locked(models.FieldReleaseDate) {
		return
	}
	for _, p := range m.patches {
		if p.ReleaseDate == nil || p.ReleaseDate.IsZero() {
			continue
		}
		d := p.ReleaseDate.UTC().Truncate(24 * time.Hour)
		if m.item.ReleaseDate == nil || !m.item.ReleaseDate.Equal(d) {
			m.item.ReleaseDate = &d
			m.changed = true
		}
		return
	}
}

func (m *merger) duration() {
	if m.locked(models.FieldDuration) {
		return
	}
	var longest int64
	for _, p := range m.patches {
		if p.DurationMS > longest {
			longest = p.DurationMS
		}
	}
	if longest > 0 && m.item.DurationMS != longest {
		m.item.DurationMS = longest
		m.changed = true
	}
}

// union appends new lowercased values after the existing ones.
func (m *merger) union(field string, dst *[]string, get func(*metadata.Patch) []string) {
	if m.locked(field) {
		return
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []string
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && seen.Add(v) {
			out = append(out, v)
		}
	}
	for _, v := range *dst {
		add(v)
	}
	for _, p := range m.patches {
		for _, v := range get(p) {
			add(v)
		}
	}
	if !equalStrings(*dst, out) {
		*dst = out
		m.changed = true
	}
}

func (m *merger) music() {
	if m.locked(models.FieldMusic) {
		return
	}
	get := func(f func(*models.MusicDetails) string) string {
		return m.firstString(func(p *metadata.Patch) string {
			if p.Music == nil {
				return ""
			}
			return f(p.Music)
		})
	}
	getInt := func(f func(*models.MusicDetails) int) int {
		return m.firstInt(func(p *metadata.Patch) int {
			if p.Music == nil {
				return 0
			}
			return f(p.Music)
		})
	}
	next := models.MusicDetails{
		AlbumTitle:  get(func(d *models.MusicDetails) string { return d.AlbumTitle }),
		AlbumArtist: get(func(d *models.MusicDetails) string { return d.AlbumArtist }),
		Label:       get(func(d *models.MusicDetails) string { return d.Label }),
		TrackNumber: getInt(func(d *models.MusicDetails) int { return d.TrackNumber }),
		DiscNumber:  getInt(func(d *models.MusicDetails) int { return d.DiscNumber }),
	}
	if next == (models.MusicDetails{}) {
		return
	}
	if m.item.Music == nil {
		m.item.Music = &models.MusicDetails{}
	}
	d := m.item.Music
	m.setString(&d.AlbumTitle, next.AlbumTitle)
	m.setString(&d.AlbumArtist, next.AlbumArtist)
	m.setString(&d.Label, next.Label)
	m.setInt(&d.TrackNumber, next.TrackNumber)
	m.setInt(&d.DiscNumber, next.DiscNumber)
}

func (m *merger) classical() {
	if m.locked(models.FieldClassical) {
		return
	}
	get := func(f func(*models.ClassicalDetails) string) string {
		return m.firstString(func(p *metadata.Patch) string {
			if p.Classical == nil {
				return ""
			}
			return f(p.Classical)
		})
	}
	next := models.ClassicalDetails{
		Work:     get(func(d *models.ClassicalDetails) string { return d.Work }),
		Movement: get(func(d *models.ClassicalDetails) string { return d.Movement }),
		Composer: get(func(d *models.ClassicalDetails) string { return d.Composer }),
		MovementNumber: m.firstInt(func(p *metadata.Patch) int {
			if p.Classical == nil {
				return 0
			}
			return p.Classical.MovementNumber
		}),
	}
	if next == (models.ClassicalDetails{}) {
		return
	}
	if m.item.Classical == nil {
		m.item.Classical = &models.ClassicalDetails{}
	}
	d := m.item.Classical
	m.setString(&d.Work, next.Work)
	m.setString(&d.Movement, next.Movement)
	m.setString(&d.Composer, next.Composer)
	m.setInt(&d.MovementNumber, next.MovementNumber)
}

func (m *merger) episode() {
	if m.locked(models.FieldEpisode) {
		return
	}
	getInt := func(f func(*models.EpisodeDetails) int) int {
		return m.firstInt(func(p *metadata.Patch) int {
			if p.Episode == nil {
				return 0
			}
			return f(p.Episode)
		})
	}
	next := models.EpisodeDetails{
		ShowTitle: m.firstString(func(p *metadata.Patch) string {
			if p.Episode == nil {
				return ""
			}
			return p.Episode.ShowTitle
		}),
		SeasonNumber:  getInt(func(d *models.EpisodeDetails) int { return d.SeasonNumber }),
		EpisodeNumber: getInt(func(d *models.EpisodeDetails) int { return d.EpisodeNumber }),
	}
	if next == (models.EpisodeDetails{}) {
		return
	}
	if m.item.Episode == nil {
		m.item.Episode = &models.EpisodeDetails{}
	}
	d := m.item.Episode
	m.setString(&d.ShowTitle, next.ShowTitle)
	m.setInt(&d.SeasonNumber, next.SeasonNumber)
	m.setInt(&d.EpisodeNumber, next.EpisodeNumber)
}

func (m *merger) providerIDs() {
	if m.locked(models.FieldProviderIDs) {
		return
	}
	for _, p := range m.patches {
		for k, v := range p.ProviderIDs {
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.TrimSpace(v)
			if k == "" || v == "" {
				continue
			}
			// Earlier patches win; skip keys they already set in this run
			if m.claimedByEarlier(p, k) {
				continue
			}
			if m.item.ProviderIDs == nil {
				m.item.ProviderIDs = make(map[string]string)
			}
			if m.item.ProviderIDs[k] != v {
				m.item.ProviderIDs[k] = v
				m.changed = true
			}
		}
	}
}

func (m *merger) claimedByEarlier(current *metadata.Patch, key string) bool {
	for _, p := range m.patches {
		if p == current {
			return false
		}
		for k, v := range p.ProviderIDs {
			if strings.ToLower(strings.TrimSpace(k)) == key && strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
