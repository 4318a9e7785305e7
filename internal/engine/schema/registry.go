package schema

import (
	"sync"

	"github.com/strata-api/strata/internal/engine/apierr"
)

// Enricher may add fields to a resource during compilation, before the
// search table and setter order are built.
type Enricher func(*Resource) error

// Registry holds every registered resource. Registration happens once at
// startup; after Finalize the registry is read-only and safe for concurrent
// readers without locking.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*Resource
	enrichers []Enricher
	defaults  Options
	finalized bool
}

// NewRegistry creates a registry with the given engine-level option defaults.
func NewRegistry(defaults Options) *Registry {
	if defaults.DefaultPageSize == 0 {
		defaults.DefaultPageSize = 25
	}
	if defaults.MaxPageSize == 0 {
		defaults.MaxPageSize = 100
	}
	if defaults.MaxIncludeDepth == 0 {
		defaults.MaxIncludeDepth = 3
	}
	return &Registry{
		resources: make(map[string]*Resource),
		defaults:  defaults,
	}
}

// AddEnricher registers an enrichment hook applied to every resource
// compiled after this call.
func (g *Registry) AddEnricher(e Enricher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enrichers = append(g.enrichers, e)
}

// Register deep-copies, compiles, and stores a resource declaration.
// Cross-resource links stay unresolved until Finalize.
func (g *Registry) Register(def *Resource) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finalized {
		return apierr.Configuration("registry is finalized; cannot register resource %s", def.Name)
	}
	if _, ok := g.resources[def.Name]; ok {
		return apierr.Configuration("resource %s is already registered", def.Name)
	}

	res := cloneResource(def)
	if err := compile(res, g.enrichers, g.defaults); err != nil {
		return err
	}
	g.resources[res.Name] = res
	return nil
}

// Finalize resolves cross-resource links: relationship targets, polymorphic
// allow-lists, and pivot resources must all name registered resources.
// Resources reference each other by name, so cycles are fine.
func (g *Registry) Finalize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, res := range g.resources {
		for name, rel := range res.Relationships {
			switch rel.Kind {
			case RelBelongsToPolymorphic:
				for _, t := range rel.Types {
					if _, ok := g.resources[t]; !ok {
						return apierr.Configuration("resource %s: polymorphic relationship %s allows unknown resource %s", res.Name, name, t)
					}
				}
			default:
				if rel.Target != "" {
					if _, ok := g.resources[rel.Target]; !ok {
						return apierr.Configuration("resource %s: relationship %s targets unknown resource %s", res.Name, name, rel.Target)
					}
				}
				if rel.Through != "" {
					if _, ok := g.resources[rel.Through]; !ok {
						return apierr.Configuration("resource %s: relationship %s goes through unknown resource %s", res.Name, name, rel.Through)
					}
				}
			}
		}
	}

	g.finalized = true
	return nil
}

// Get returns the compiled resource with the given name.
func (g *Registry) Get(name string) (*Resource, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res, ok := g.resources[name]
	return res, ok
}

// Names returns the registered resource names.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.resources))
	for name := range g.resources {
		names = append(names, name)
	}
	return names
}

// Defaults returns the engine-level option defaults.
func (g *Registry) Defaults() Options {
	return g.defaults
}

// cloneResource deep-copies a declaration so compilation mutations are
// isolated from the caller's value.
func cloneResource(def *Resource) *Resource {
	res := &Resource{
		Name:     def.Name,
		Table:    def.Table,
		IDField:  def.IDField,
		IDKind:   def.IDKind,
		Sortable: append([]string(nil), def.Sortable...),
		Options:  def.Options,
		Pivot:    def.Pivot,
	}
	res.Options.PolicyFields = append([]string(nil), def.Options.PolicyFields...)

	res.Fields = make(map[string]*Field, len(def.Fields))
	for name, f := range def.Fields {
		res.Fields[name] = cloneField(f)
	}
	res.Relationships = make(map[string]*Relationship, len(def.Relationships))
	for name, rel := range def.Relationships {
		res.Relationships[name] = cloneRelationship(rel)
	}
	res.Search = make(map[string]*SearchDecl, len(def.Search))
	for name, decl := range def.Search {
		res.Search[name] = cloneSearchDecl(decl)
	}
	return res
}

func cloneField(f *Field) *Field {
	c := *f
	c.DependsOn = append([]string(nil), f.DependsOn...)
	c.SetterDeps = append([]string(nil), f.SetterDeps...)
	c.Rules.Enum = append([]string(nil), f.Rules.Enum...)
	if f.BelongsTo != nil {
		ref := *f.BelongsTo
		c.BelongsTo = &ref
	}
	return &c
}

func cloneRelationship(rel *Relationship) *Relationship {
	c := *rel
	c.Types = append([]string(nil), rel.Types...)
	return &c
}

func cloneSearchDecl(decl *SearchDecl) *SearchDecl {
	c := *decl
	c.Filters = append([]SearchFilter(nil), decl.Filters...)
	if decl.Join != nil {
		j := *decl.Join
		c.Join = &j
	}
	return &c
}
