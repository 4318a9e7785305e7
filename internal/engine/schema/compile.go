package schema

import (
	"regexp"
	"sort"

	"github.com/strata-api/strata/internal/engine/apierr"
)

// compile runs the registration-time compilation steps on an already
// deep-copied declaration. Cross-resource checks run later in
// Registry.Finalize, once every resource is known.
func compile(r *Resource, enrichers []Enricher, defaults Options) error {
	if r.Name == "" {
		return apierr.Configuration("resource name is required")
	}
	if r.Table == "" {
		r.Table = r.Name
	}
	if r.IDField == "" {
		r.IDField = "id"
	}
	if r.Fields == nil {
		r.Fields = make(map[string]*Field)
	}
	if r.Relationships == nil {
		r.Relationships = make(map[string]*Relationship)
	}

	applyOptionDefaults(&r.Options, defaults)

	// Enrichment hooks may add fields (provider-specific columns).
	for _, enrich := range enrichers {
		if err := enrich(r); err != nil {
			return apierr.Wrap(apierr.KindConfiguration, err, "enrichment failed for resource %s", r.Name)
		}
	}

	for name, f := range r.Fields {
		if f.Name == "" {
			f.Name = name
		}
		// Belongs-to fields default to the resource's id kind.
		if f.BelongsTo != nil && f.Kind == KindString && !fieldKindSet(f) {
			f.Kind = r.IDKind
		}
		if f.Computed && f.Compute == nil {
			return apierr.Configuration("resource %s: computed field %s has no compute function", r.Name, name)
		}
		if f.Rules.Pattern != "" {
			re, err := regexp.Compile(f.Rules.Pattern)
			if err != nil {
				return apierr.Wrap(apierr.KindConfiguration, err, "resource %s: field %s has an invalid pattern", r.Name, name)
			}
			f.Rules.pattern = re
		}
	}

	if err := synthesizeBelongsTo(r); err != nil {
		return err
	}
	if err := validatePolymorphic(r); err != nil {
		return err
	}
	if err := synthesizeSearch(r); err != nil {
		return err
	}
	order, err := setterOrder(r)
	if err != nil {
		return err
	}
	r.setterOrder = order
	r.compiled = true
	return nil
}

// fieldKindSet reports whether the declaration set an explicit kind. A
// belongs-to field whose kind was left at the zero value inherits the id
// kind; anything else is taken as deliberate.
func fieldKindSet(f *Field) bool {
	// KindString is the zero value; a belongs-to column is practically never
	// a free-form string, so zero is treated as unset.
	return f.Kind != KindString
}

// synthesizeBelongsTo lifts field-level belongs-to declarations into the
// relationship table so lookups are uniform across kinds.
func synthesizeBelongsTo(r *Resource) error {
	for name, f := range r.Fields {
		if f.BelongsTo == nil {
			continue
		}
		if f.BelongsTo.Resource == "" {
			return apierr.Configuration("resource %s: belongs-to field %s has no target resource", r.Name, name)
		}
		if f.BelongsTo.Alias == "" {
			return apierr.Configuration("resource %s: belongs-to field %s has no alias", r.Name, name)
		}
		alias := f.BelongsTo.Alias
		if existing, ok := r.Relationships[alias]; ok && existing.Kind != RelBelongsTo {
			return apierr.Configuration("resource %s: relationship name %s is declared twice", r.Name, alias)
		}
		r.Relationships[alias] = &Relationship{
			Kind:       RelBelongsTo,
			Name:       alias,
			Target:     f.BelongsTo.Resource,
			ForeignKey: name,
		}
	}
	return nil
}

// validatePolymorphic performs the declaration-local polymorphic checks.
// Target existence is verified in Registry.Finalize.
func validatePolymorphic(r *Resource) error {
	for name, rel := range r.Relationships {
		if rel.Name == "" {
			rel.Name = name
		}
		switch rel.Kind {
		case RelBelongsToPolymorphic:
			if len(rel.Types) == 0 {
				return apierr.Configuration("resource %s: polymorphic relationship %s declares no target types", r.Name, name)
			}
			if rel.TypeField == "" || rel.IDField == "" {
				return apierr.Configuration("resource %s: polymorphic relationship %s needs both a type field and an id field", r.Name, name)
			}
		case RelHasManyPolymorphic:
			if rel.Target == "" {
				return apierr.Configuration("resource %s: relationship %s has no target resource", r.Name, name)
			}
			if rel.TypeField == "" || rel.IDField == "" {
				return apierr.Configuration("resource %s: polymorphic relationship %s needs both a type field and an id field", r.Name, name)
			}
		case RelHasMany:
			if rel.Target == "" || rel.ForeignKey == "" {
				return apierr.Configuration("resource %s: has-many relationship %s needs a target and a foreign key", r.Name, name)
			}
		case RelHasManyThrough:
			if rel.Target == "" || rel.Through == "" || rel.ForeignKey == "" || rel.OtherKey == "" {
				return apierr.Configuration("resource %s: through relationship %s needs target, through, foreignKey, and otherKey", r.Name, name)
			}
		}
	}
	return nil
}

// synthesizeSearch combines the explicit search schema with fields marked
// searchable. The explicit schema wins on collision.
func synthesizeSearch(r *Resource) error {
	table := make(map[string]*SearchField)

	for name, f := range r.Fields {
		if !f.Searchable {
			continue
		}
		table[name] = &SearchField{Name: name, Field: name, Operator: OpEq}
	}

	for name, decl := range r.Search {
		if len(decl.Filters) > 0 {
			for _, flt := range decl.Filters {
				actual := flt.ActualField
				if actual == "" {
					actual = name
				}
				op := flt.Operator
				if op == "" {
					op = OpEq
				}
				table[flt.Name] = &SearchField{Name: flt.Name, Field: actual, Operator: op, Join: decl.Join}
			}
			continue
		}
		op := decl.Operator
		if op == "" {
			op = OpEq
		}
		table[name] = &SearchField{Name: name, Field: name, Operator: op, Join: decl.Join}
	}

	r.searchFields = table
	return nil
}

// setterOrder topologically sorts persisted fields by their declared setter
// dependencies, failing on cycles.
func setterOrder(r *Resource) ([]string, error) {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return apierr.Configuration("resource %s: setter dependency cycle through field %s", r.Name, name)
		}
		state[name] = visiting
		if f, ok := r.Fields[name]; ok {
			for _, dep := range f.SetterDeps {
				if !r.HasField(dep) {
					return apierr.Configuration("resource %s: field %s depends on unknown field %s", r.Name, name, dep)
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func applyOptionDefaults(o *Options, d Options) {
	if o.DefaultPageSize == 0 {
		o.DefaultPageSize = d.DefaultPageSize
	}
	if o.MaxPageSize == 0 {
		o.MaxPageSize = d.MaxPageSize
	}
	if o.MaxIncludeDepth == 0 {
		o.MaxIncludeDepth = d.MaxIncludeDepth
	}
	if o.DefaultSort == "" {
		o.DefaultSort = d.DefaultSort
	}
	if o.Prefix == "" {
		o.Prefix = d.Prefix
	}
}
