package enrichment

import (
	"strings"
	"unicode"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nexamediaserver/server-sub005/internal/metadata"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

// Normalizer cleans credits, genres and tags collected from all sources and
// replaces the item's collections with the result.
type Normalizer struct {
	aliases map[string]string
	allow   mapset.Set[string]
	block   mapset.Set[string]
	logger  *zap.Logger
}

// NewNormalizer builds a normalizer. Alias keys and list entries are matched
// after folding, so "Sci-Fi" and "sci-fi" are the same key.
func NewNormalizer(aliases map[string]string, allow, block []string, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Normalizer{
		aliases: make(map[string]string, len(aliases)),
		allow:   mapset.NewThreadUnsafeSet[string](),
		block:   mapset.NewThreadUnsafeSet[string](),
		logger:  logger.Named("normalizer"),
	}
	for k, v := range aliases {
		if key, display := Fold(k), collapse(v); key != "" && display != "" {
			n.aliases[key] = display
		}
	}
	for _, v := range allow {
		if key := Fold(v); key != "" {
			n.allow.Add(key)
		}
	}
	for _, v := range block {
		if key := Fold(v); key != "" {
			n.block.Add(key)
		}
	}
	return n
}

// Fold returns the comparison key of a taxonomy name: accents removed, case
// folded and whitespace collapsed.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return collapse(cases.Fold().String(out))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonical returns the display name and dedupe key for a genre or tag.
func (n *Normalizer) canonical(name string) (display, key string) {
	display = collapse(name)
	key = Fold(display)
	if key == "" {
		return "", ""
	}
	if alias, ok := n.aliases[key]; ok {
		return alias, Fold(alias)
	}
	return display, key
}

// allowTag applies the moderation lists to a folded tag key.
func (n *Normalizer) allowTag(key string) bool {
	if n.block.Contains(key) {
		return false
	}
	return n.allow.Cardinality() == 0 || n.allow.Contains(key)
}

// Genres normalizes and deduplicates names, keeping first-seen order.
func (n *Normalizer) Genres(names []string) []string {
	return n.dedupe(names, nil)
}

// Tags is Genres plus the allow and block lists.
func (n *Normalizer) Tags(names []string) []string {
	return n.dedupe(names, n.allowTag)
}

func (n *Normalizer) dedupe(names []string, keep func(string) bool) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []string
	for _, name := range names {
		display, key := n.canonical(name)
		if key == "" || (keep != nil && !keep(key)) {
			continue
		}
		if seen.Add(key) {
			out = append(out, display)
		}
	}
	return out
}

// NormalizeAndApply collects taxonomy and credits from contributions, which
// are already in priority order, and replaces the item's unlocked
// collections when the result is non-empty. It reports whether anything
// changed.
func (n *Normalizer) NormalizeAndApply(item *models.CatalogItem, contributions []*metadata.Contribution, overrides mapset.Set[string]) bool {
	genresLocked := locked(item, models.FieldGenres, overrides)
	tagsLocked := locked(item, models.FieldTags, overrides)
	if genresLocked && tagsLocked {
		return false
	}

	var genres, tags []string
	var agentCredits, localCredits []models.Credit
	for _, c := range contributions {
		if c == nil {
			continue
		}
		genres = append(genres, c.Genres...)
		tags = append(tags, c.Tags...)
		if c.Kind == metadata.KindAgent {
			agentCredits = append(agentCredits, c.Credits...)
		} else {
			localCredits = append(localCredits, c.Credits...)
		}
	}

	changed := false
	if !genresLocked {
		if out := n.Genres(genres); len(out) > 0 && !equalStrings(item.Genres, out) {
			item.Genres = out
			changed = true
		}
	}
	if !tagsLocked {
		if out := n.Tags(tags); len(out) > 0 && !equalStrings(item.Tags, out) {
			item.Tags = out
			changed = true
		}
	}
	if !locked(item, models.FieldCredits, overrides) {
		credits := cleanCredits(append(agentCredits, localCredits...))
		if len(credits) > 0 && !equalCredits(item.Credits, credits) {
			item.Credits = credits
			changed = true
		}
	}
	if changed {
		n.logger.Debug("taxonomy applied",
			zap.String("item_id", item.ID.String()),
			zap.Int("genres", len(item.Genres)),
			zap.Int("tags", len(item.Tags)),
			zap.Int("credits", len(item.Credits)))
	}
	return changed
}

// cleanCredits trims names and drops credits without one. Identity is left
// to the repository.
func cleanCredits(in []models.Credit) []models.Credit {
	var out []models.Credit
	for _, c := range in {
		c.Name = collapse(c.Name)
		if c.Name == "" {
			continue
		}
		c.Role = strings.TrimSpace(c.Role)
		if c.Kind == "" {
			c.Kind = models.CreditPerson
		}
		out = append(out, c)
	}
	return out
}

func equalCredits(a, b []models.Credit) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Name != y.Name || x.Kind != y.Kind || x.Relation != y.Relation || x.Role != y.Role || x.Thumb != y.Thumb {
			return false
		}
	}
	return true
}
