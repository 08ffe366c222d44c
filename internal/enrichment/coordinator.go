// Package enrichment runs metadata sources, agents and artwork providers for
// a catalog item and folds their output into it.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexamediaserver/server-sub005/internal/artwork"
	"github.com/nexamediaserver/server-sub005/internal/metadata"
	"github.com/nexamediaserver/server-sub005/internal/models"
)

// Outcome summarizes one enrichment run.
type Outcome struct {
	Changed       bool `json:"changed"`
	Contributions int  `json:"contributions"`
	// Failed names sources that returned an error or panicked.
	Failed []string `json:"failed,omitempty"`
	// Providers names artwork providers that completed.
	Providers []string `json:"providers,omitempty"`
	// Artwork maps each selected kind to its URI.
	Artwork map[models.ArtworkKind]string `json:"artwork,omitempty"`
}

type scratchCleaner interface {
	RemoveScratch(itemID string)
}

// Coordinator holds no per-item state and is safe for concurrent use on
// different items.
type Coordinator struct {
	registry   *Registry
	normalizer *Normalizer
	store      *artwork.Store
	ingestor   *artwork.Ingestor
	selector   *artwork.Selector
	logger     *zap.Logger
}

func NewCoordinator(registry *Registry, normalizer *Normalizer, store *artwork.Store,
	ingestor *artwork.Ingestor, selector *artwork.Selector, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = NewNormalizer(nil, nil, nil, logger)
	}
	return &Coordinator{
		registry:   registry,
		normalizer: normalizer,
		store:      store,
		ingestor:   ingestor,
		selector:   selector,
		logger:     logger.Named("enrichment"),
	}
}

type localTask struct {
	source    metadata.Source
	part      models.MediaPart
	partIndex int
}

type result struct {
	contribution *metadata.Contribution
	failed       bool
}

// Enrich runs every applicable source for item and applies the merged result.
// Source failures are logged and skipped; the only error returned is the
// context's. The item is modified only when ctx is still live at the end.
func (c *Coordinator) Enrich(ctx context.Context, item *models.CatalogItem, library *models.Library, overrides mapset.Set[string]) (*Outcome, error) {
	if item == nil {
		return nil, errors.New("enrichment: nil item")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := c.logger.With(zap.String("item_id", item.ID.String()), zap.String("type", string(item.Type)))

	caps := c.registry.For(item.Type)
	order := c.registry.Order(library)
	work := item.Clone()
	parts := work.Parts()

	var locals []localTask
	for i, part := range parts {
		for _, src := range caps.Locals {
			if src.CanHandle(work, part) {
				locals = append(locals, localTask{source: src, part: part, partIndex: i})
			}
		}
	}
	var providers []artwork.Provider
	for _, p := range caps.Artwork {
		if p.Supports(work) {
			providers = append(providers, p)
		}
	}

	localResults := make([]result, len(locals))
	agentResults := make([]result, len(caps.Agents))
	providerOK := make([]bool, len(providers))

	var g errgroup.Group
	for i, t := range locals {
		i, t := i, t
		g.Go(func() error {
			part := t.part
			req := metadata.Request{Item: work, Library: library, Part: &part, PartIndex: t.partIndex}
			localResults[i] = c.invoke(ctx, log, t.source.Name(), func() (*metadata.Contribution, error) {
				return t.source.Extract(ctx, req)
			})
			if r := localResults[i].contribution; r != nil {
				r.Source, r.Kind, r.Part = t.source.Name(), t.source.Kind(), t.partIndex
			}
			return nil
		})
	}
	for i, a := range caps.Agents {
		i, a := i, a
		g.Go(func() error {
			req := metadata.Request{Item: work, Library: library, PartIndex: -1}
			agentResults[i] = c.invoke(ctx, log, a.Name(), func() (*metadata.Contribution, error) {
				return a.Extract(ctx, req)
			})
			if r := agentResults[i].contribution; r != nil {
				r.Source, r.Kind, r.Part = a.Name(), metadata.KindAgent, -1
			}
			return nil
		})
	}
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			res := c.invoke(ctx, log, p.Name(), func() (*metadata.Contribution, error) {
				return nil, p.Provide(ctx, work, parts)
			})
			providerOK[i] = !res.failed
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Outcome{Artwork: make(map[models.ArtworkKind]string)}
	var contributions []*metadata.Contribution
	for _, r := range append(localResults, agentResults...) {
		if r.failed {
			continue
		}
		if !r.contribution.Empty() {
			contributions = append(contributions, r.contribution)
		}
	}
	out.Failed = failedNames(locals, caps.Agents, providers, localResults, agentResults, providerOK)
	sort.SliceStable(contributions, func(i, j int) bool {
		ri, rj := Rank(order, contributions[i].Source), Rank(order, contributions[j].Source)
		if ri != rj {
			return ri < rj
		}
		return contributions[i].Part < contributions[j].Part
	})
	out.Contributions = len(contributions)

	changed := Merge(work, contributions, overrides)
	if c.normalizer.NormalizeAndApply(work, contributions, overrides) {
		changed = true
	}

	c.ingest(ctx, log, work, contributions, caps.Locals)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	producers := c.producers(work, providers, providerOK, order)
	for i, p := range providers {
		if providerOK[i] {
			out.Providers = append(out.Providers, p.Name())
		}
	}

	var agentOrder []string
	if library != nil {
		agentOrder = library.AgentOrder
	}
	for _, kind := range models.PrimaryArtworkKinds {
		if locked(work, models.LockField(kind), overrides) {
			continue
		}
		precedence := artwork.Precedence(kind, agentOrder, c.discovered(caps.Agents, kind, order), producers)
		slot := work.Slot(kind)
		before := *slot
		if uri, ok := c.selector.SelectPrimary(ctx, work, kind, precedence); ok {
			out.Artwork[kind] = uri
		}
		if *slot != before {
			changed = true
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	*item = *work
	out.Changed = changed
	log.Info("enrichment finished",
		zap.Bool("changed", changed),
		zap.Int("contributions", out.Contributions),
		zap.Strings("failed", out.Failed))
	return out, nil
}

// invoke runs one source call, converting errors and panics into a failed result.
func (c *Coordinator) invoke(ctx context.Context, log *zap.Logger, name string, fn func() (*metadata.Contribution, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("source panicked", zap.String("source", name), zap.Any("panic", r), zap.Stack("stack"))
			res = result{failed: true}
		}
	}()
	contribution, err := fn()
	switch {
	case err == nil:
		return result{contribution: contribution}
	case errors.Is(err, metadata.ErrNotFound), errors.Is(err, metadata.ErrNotConfigured):
		log.Debug("source had nothing", zap.String("source", name), zap.Error(err))
		return result{}
	case ctx.Err() != nil:
		return result{failed: true}
	default:
		log.Warn("source failed", zap.String("source", name), zap.Error(err))
		return result{failed: true}
	}
}

// ingest stores contribution artwork sequentially in priority order. The first
// contribution of a source wins for each kind.
func (c *Coordinator) ingest(ctx context.Context, log *zap.Logger, item *models.CatalogItem,
	contributions []*metadata.Contribution, locals []metadata.Source) {
	defer func() {
		for _, src := range locals {
			if sc, ok := src.(scratchCleaner); ok {
				sc.RemoveScratch(item.ID.String())
			}
		}
	}()
	if c.ingestor == nil {
		return
	}
	done := make(map[string]bool)
	for _, contribution := range contributions {
		for _, kind := range ingestKinds {
			ref, ok := contribution.Artwork[kind]
			if !ok || ref == "" {
				continue
			}
			key := fmt.Sprintf("%s/%s", contribution.Source, kind)
			if done[key] {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			done[key] = true
			if _, err := c.ingestor.Ingest(ctx, item.ID, kind, contribution.Source, ref); err != nil {
				log.Warn("artwork ingestion failed",
					zap.String("source", contribution.Source),
					zap.String("kind", string(kind)),
					zap.Error(err))
			}
		}
	}
}

var ingestKinds = []models.ArtworkKind{
	models.ArtworkPoster, models.ArtworkBackdrop, models.ArtworkLogo, models.ArtworkThumbnail,
}

// producers lists the providers that completed and hold stored artwork of
// any kind, in merge order. The same list serves every kind so a poster can
// fall back to thumbnails in configured order.
func (c *Coordinator) producers(item *models.CatalogItem, providers []artwork.Provider, ok []bool, order []string) []string {
	var names []string
	for i, p := range providers {
		if !ok[i] {
			continue
		}
		for _, kind := range p.Kinds() {
			if _, found := c.store.Find(item.ID, kind, p.Name()); found {
				names = append(names, p.Name())
				break
			}
		}
	}
	sort.SliceStable(names, func(i, j int) bool { return Rank(order, names[i]) < Rank(order, names[j]) })
	return names
}

// discovered lists agents declaring kind, in merge order.
func (c *Coordinator) discovered(agents []metadata.Agent, kind models.ArtworkKind, order []string) []string {
	var names []string
	for _, a := range agents {
		if metadata.SupportsArtwork(a, kind) {
			names = append(names, a.Name())
		}
	}
	sort.SliceStable(names, func(i, j int) bool { return Rank(order, names[i]) < Rank(order, names[j]) })
	return names
}

func failedNames(locals []localTask, agents []metadata.Agent, providers []artwork.Provider,
	localResults, agentResults []result, providerOK []bool) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var names []string
	add := func(name string) {
		if seen.Add(name) {
			names = append(names, name)
		}
	}
	for i, r := range localResults {
		if r.failed {
			add(locals[i].source.Name())
		}
	}
	for i, r := range agentResults {
		if r.failed {
			add(agents[i].Name())
		}
	}
	for i, ok := range providerOK {
		if !ok {
			add(providers[i].Name())
		}
	}
	return names
}
