package twingraph

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// A ModelRegistry stores and retrieves versioned interface definitions,
// resolves their inheritance hierarchies into flattened bases lists, and caches
// parsed models to avoid repeated resolution.
//
// A registry owns its caches. Processes serving several namespaces create one
// registry per namespace and the caches never bleed across them.
type ModelRegistry struct {
	store  ModelStore
	parser ModelParser

	models     *ttlCache[resolvedModel]
	twinModels *ttlCache[string] // twin id -> model id, for hot paths
}

// A resolvedModel pairs a persisted model with its parsed object model, so hot
// validation paths skip re-parsing the raw definition document.
type resolvedModel struct {
	model  Model
	parsed ParsedModel
}

// A RegistryOption customises a ModelRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	ttl time.Duration
	now func() time.Time
}

// WithCacheTTL sets the time-to-live of the registry's caches. A TTL of zero
// disables caching and sends every lookup to the storage engine.
func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(c *registryConfig) { c.ttl = ttl }
}

// WithClock injects the registry's time source. Tests use this to expire cache
// entries without sleeping.
func WithClock(now func() time.Time) RegistryOption {
	return func(c *registryConfig) { c.now = now }
}

// NewModelRegistry returns a registry backed by the given store and parser.
// Unless overridden with WithCacheTTL, resolved models are cached for five
// minutes.
func NewModelRegistry(store ModelStore, parser ModelParser, opts ...RegistryOption) *ModelRegistry {
	cfg := registryConfig{ttl: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ModelRegistry{
		store:      store,
		parser:     parser,
		models:     newTTLCache[resolvedModel](cfg.ttl, cfg.now),
		twinModels: newTTLCache[string](cfg.ttl, cfg.now),
	}
}

// CreateModels parses the submitted definitions as one batch (so interfaces may
// reference each other within the submission), computes each model's flattened
// bases list, and persists the models together with their structural dependency
// edges. It also registers one edge type per relationship name declared across
// the batch.
//
// Any definition that fails to parse rejects the whole batch. Submitting an id
// that already exists yields an AlreadyExistsError: models are immutable, and
// overwriting one is explicitly forbidden.
func (r *ModelRegistry) CreateModels(ctx context.Context, definitions []string) ([]Model, error) {
	parsed, err := r.parser.ParseModels(definitions)
	if err != nil {
		return nil, fmt.Errorf("parse model batch: %w", err)
	}

	batch := make(map[string]ParsedModel, len(parsed))
	for _, p := range parsed {
		batch[p.ID] = p
	}

	models := make([]Model, len(parsed))
	for i, p := range parsed {
		bases, err := r.flattenBases(ctx, p, batch)
		if err != nil {
			return nil, fmt.Errorf("resolve bases of %v: %w", p.ID, err)
		}
		models[i] = Model{ID: p.ID, Definition: p.Definition, Bases: bases}
	}

	if err := r.store.InsertModels(ctx, models); err != nil {
		return nil, err
	}

	var edges []ModelEdge
	var relationshipNames []string
	for _, p := range parsed {
		for _, base := range p.Extends {
			edges = append(edges, ModelEdge{FromID: p.ID, ToID: base, Kind: ModelExtends})
		}
		for _, content := range p.Contents {
			switch content.Kind {
			case ContentComponent:
				edges = append(edges, ModelEdge{FromID: p.ID, ToID: content.ComponentSchemaID, Kind: ModelUsesComponent})
			case ContentRelationship:
				if !slices.Contains(relationshipNames, content.Name) {
					relationshipNames = append(relationshipNames, content.Name)
				}
			}
		}
	}
	if len(edges) > 0 {
		if err := r.store.LinkModels(ctx, edges); err != nil {
			return nil, fmt.Errorf("persist model dependency edges: %w", err)
		}
	}
	if len(relationshipNames) > 0 {
		if err := r.store.EnsureEdgeTypes(ctx, relationshipNames); err != nil {
			return nil, fmt.Errorf("register edge types: %w", err)
		}
	}

	for i, p := range parsed {
		r.models.put(p.ID, resolvedModel{model: models[i], parsed: p})
	}
	return models, nil
}

// flattenBases walks the "extends" relation transitively and collects every
// reachable ancestor id exactly once, in depth-first order from the direct
// bases. The walk keeps an explicit work stack instead of recursing, so deep
// hierarchies cannot exhaust the goroutine stack, and a visited set makes it
// safe against definition cycles.
//
// Ancestors inside the submitted batch contribute their own direct extends to
// the walk; ancestors already persisted contribute their stored bases list
// wholesale, which is already flattened.
func (r *ModelRegistry) flattenBases(ctx context.Context, p ParsedModel, batch map[string]ParsedModel) ([]string, error) {
	var bases []string
	visited := map[string]bool{p.ID: true}

	stack := make([]string, len(p.Extends))
	copy(stack, p.Extends)
	slices.Reverse(stack) // pop order follows declaration order

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		bases = append(bases, id)

		if ancestor, ok := batch[id]; ok {
			next := make([]string, len(ancestor.Extends))
			copy(next, ancestor.Extends)
			slices.Reverse(next)
			stack = append(stack, next...)
			continue
		}
		stored, err := r.resolve(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ancestor %v: %w", id, err)
		}
		for _, b := range stored.model.Bases {
			if !visited[b] {
				visited[b] = true
				bases = append(bases, b)
			}
		}
	}
	return bases, nil
}

// GetModel returns the persisted model with the given id.
func (r *ModelRegistry) GetModel(ctx context.Context, id string) (Model, error) {
	resolved, err := r.resolve(ctx, id)
	if err != nil {
		return Model{}, err
	}
	return resolved.model, nil
}

// DeleteModel removes the model with the given id. The storage engine enforces
// referential integrity: while dependency edges to the model exist the delete
// fails with a ReferentialIntegrityError.
func (r *ModelRegistry) DeleteModel(ctx context.Context, id string) error {
	if err := r.store.DeleteModel(ctx, id); err != nil {
		return err
	}
	r.models.remove(id)
	return nil
}

// IsOfModel reports whether a twin of the candidate model conforms to the
// target model. Identical ids always match; unless exact is set, the target
// matching any entry of the candidate's flattened bases list also matches.
// The containment test is O(bases) against the precomputed list; no graph
// traversal happens here.
func (r *ModelRegistry) IsOfModel(ctx context.Context, candidateID, targetID string, exact bool) (bool, error) {
	if candidateID == targetID {
		return true, nil
	}
	if exact {
		return false, nil
	}
	resolved, err := r.resolve(ctx, candidateID)
	if err != nil {
		return false, err
	}
	return slices.Contains(resolved.model.Bases, targetID), nil
}

// resolve returns the cached resolved model, fetching and parsing it on a miss.
func (r *ModelRegistry) resolve(ctx context.Context, id string) (resolvedModel, error) {
	if cached, ok := r.models.get(id); ok {
		return cached, nil
	}
	model, err := r.store.GetModel(ctx, id)
	if err != nil {
		return resolvedModel{}, err
	}
	parsed, err := r.parser.ParseModels([]string{model.Definition})
	if err != nil {
		return resolvedModel{}, fmt.Errorf("parse stored model %v: %w", id, err)
	}
	if len(parsed) != 1 {
		return resolvedModel{}, fmt.Errorf("stored model %v parsed into %d interfaces", id, len(parsed))
	}
	resolved := resolvedModel{model: model, parsed: parsed[0]}
	r.models.put(id, resolved)
	return resolved, nil
}

// contentOf looks up a content declaration by name on the given interface or
// any of its ancestors. The candidate's own declarations win over inherited
// ones.
func (r *ModelRegistry) contentOf(ctx context.Context, modelID, name string) (Content, bool, error) {
	resolved, err := r.resolve(ctx, modelID)
	if err != nil {
		return Content{}, false, err
	}
	if content, ok := resolved.parsed.Contents[name]; ok {
		return content, true, nil
	}
	for _, base := range resolved.model.Bases {
		ancestor, err := r.resolve(ctx, base)
		if err != nil {
			return Content{}, false, fmt.Errorf("ancestor %v: %w", base, err)
		}
		if content, ok := ancestor.parsed.Contents[name]; ok {
			return content, true, nil
		}
	}
	return Content{}, false, nil
}

// RecordTwinModel remembers which model a twin conforms to. Hot paths that need
// a twin's model id without re-reading the twin (e.g. telemetry publication)
// consult this secondary cache through CachedTwinModel.
func (r *ModelRegistry) RecordTwinModel(twinID, modelID string) {
	r.twinModels.put(twinID, modelID)
}

// CachedTwinModel returns the remembered model id of the given twin.
func (r *ModelRegistry) CachedTwinModel(twinID string) (string, bool) {
	return r.twinModels.get(twinID)
}

// forgetTwin drops the twin from the secondary cache, e.g. after deletion.
func (r *ModelRegistry) forgetTwin(twinID string) {
	r.twinModels.remove(twinID)
}
