package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/validate"
)

// Build validates the parameters against the compiled schema and produces an
// executable plan.
func Build(reg *schema.Registry, res *schema.Resource, p Params) (*Plan, error) {
	sel, err := BuildSelection(res, p.Fields)
	if err != nil {
		return nil, err
	}
	filter, err := buildFilter(res, p.Filter)
	if err != nil {
		return nil, err
	}
	sortList, err := buildSort(res, p.Sort)
	if err != nil {
		return nil, err
	}
	page, err := buildPage(res, p.Page)
	if err != nil {
		return nil, err
	}
	includes, err := BuildIncludes(reg, res, p.Include)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Resource:  res,
		Selection: sel,
		Filter:    filter,
		Sort:      sortList,
		Page:      page,
		Includes:  includes,
		Fields:    p.Fields,
	}, nil
}

// BuildSelection resolves the columns to fetch for a resource, applying the
// sparse fieldset for its type when one was requested.
func BuildSelection(res *schema.Resource, fields map[string][]string) (Selection, error) {
	sel := Selection{
		Aliases:   make(map[string]string),
		Auxiliary: make(map[string]bool),
	}

	// The id column is always fetched, aliased when the underlying column
	// is named differently.
	sel.add(res.IDField)
	if res.IDField != "id" {
		sel.Aliases[res.IDField] = "id"
	}

	sparse, hasSparse := fields[res.Name]
	if hasSparse {
		sel.Requested = make(map[string]bool, len(sparse))
		verr := apierr.Validation("invalid sparse fieldset for %s", res.Name)
		for _, name := range sparse {
			sel.Requested[name] = true
			f, ok := res.Fields[name]
			if !ok {
				if _, isRel := res.Relationship(name); isRel {
					// Polymorphic and other relationship placeholders are
					// skipped; linkage is driven by the include tree.
					continue
				}
				verr.WithViolation("fields."+res.Name, "unknown_field", fmt.Sprintf("%s is not a field of %s", name, res.Name))
				continue
			}
			if f.Visibility == schema.Never {
				continue // silently dropped, never serialized
			}
			if f.Computed {
				sel.Computed = append(sel.Computed, name)
				continue
			}
			if f.Virtual {
				continue
			}
			sel.add(name)
		}
		if len(verr.Violations) > 0 {
			return Selection{}, verr
		}
	} else {
		for _, name := range sortedFieldNames(res) {
			f := res.Fields[name]
			if !f.Persisted() || f.Visibility != schema.Visible {
				continue
			}
			sel.add(name)
		}
	}

	// Computed fields: the requested ones under a sparse fieldset, all of
	// them otherwise. Their dependencies join the select list; additions
	// that were not independently selected are auxiliary.
	if !hasSparse {
		for _, name := range sortedFieldNames(res) {
			if res.Fields[name].Computed {
				sel.Computed = append(sel.Computed, name)
			}
		}
	}
	for _, name := range sel.Computed {
		f := res.Fields[name]
		for _, dep := range f.DependsOn {
			if !sel.Has(dep) {
				sel.add(dep)
				sel.Auxiliary[dep] = true
			}
		}
	}

	// Relationship columns must be fetchable regardless of sparse choices:
	// belongs-to foreign keys and polymorphic type/id pairs, unless the
	// declaring field is always-hidden.
	for _, rel := range res.Relationships {
		switch rel.Kind {
		case schema.RelBelongsTo:
			if f, ok := res.Fields[rel.ForeignKey]; ok && f.Visibility == schema.Never {
				continue
			}
			if !sel.Has(rel.ForeignKey) {
				sel.add(rel.ForeignKey)
				sel.Auxiliary[rel.ForeignKey] = true
			}
		case schema.RelBelongsToPolymorphic:
			for _, col := range []string{rel.TypeField, rel.IDField} {
				if f, ok := res.Fields[col]; ok && f.Visibility == schema.Never {
					continue
				}
				if !sel.Has(col) {
					sel.add(col)
					sel.Auxiliary[col] = true
				}
			}
		}
	}

	return sel, nil
}

func buildFilter(res *schema.Resource, filters map[string]string) (Filter, error) {
	var out Filter
	if len(filters) == 0 {
		return out, nil
	}
	if err := validate.Filters(res, filters); err != nil {
		return out, err
	}

	table := res.SearchFields()
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sf := table[name]
		value := interface{}(filters[name])
		if sf.Operator == schema.OpIn {
			parts := strings.Split(filters[name], ",")
			list := make([]interface{}, 0, len(parts))
			for _, part := range parts {
				list = append(list, strings.TrimSpace(part))
			}
			value = list
		}
		out.Conditions = append(out.Conditions, Condition{
			Field:    sf.Field,
			Operator: sf.Operator,
			Value:    value,
			Join:     sf.Join,
		})
	}
	return out, nil
}

func buildSort(res *schema.Resource, entries []string) ([]SortField, error) {
	if len(entries) == 0 && res.Options.DefaultSort != "" {
		entries = strings.Split(res.Options.DefaultSort, ",")
	}
	verr := apierr.Validation("invalid sort for %s", res.Name)
	out := make([]SortField, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		desc := strings.HasPrefix(entry, "-")
		name := strings.TrimPrefix(entry, "-")
		if !res.SortableField(name) {
			verr.WithViolation("sort", "not_sortable", fmt.Sprintf("%s is not sortable", name))
			continue
		}
		out = append(out, SortField{Field: name, Desc: desc})
	}
	if len(verr.Violations) > 0 {
		return nil, verr
	}
	return out, nil
}

func buildPage(res *schema.Resource, page map[string]string) (Page, error) {
	out := Page{
		Limit:      res.Options.DefaultPageSize,
		CountTotal: res.Options.CountTotal,
	}
	if len(page) == 0 {
		return out, nil
	}

	get := func(key string) (int, bool, error) {
		raw, ok := page[key]
		if !ok || raw == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, false, apierr.Validation("page[%s] must be a non-negative number", key)
		}
		return n, true, nil
	}

	size, hasSize, err := get("size")
	if err != nil {
		return out, err
	}
	number, hasNumber, err := get("number")
	if err != nil {
		return out, err
	}
	limit, hasLimit, err := get("limit")
	if err != nil {
		return out, err
	}
	offset, hasOffset, err := get("offset")
	if err != nil {
		return out, err
	}

	switch {
	case hasSize || hasNumber:
		if hasSize {
			out.Limit = size
		}
		if hasNumber && number > 0 {
			out.Offset = (number - 1) * out.Limit
		}
	case hasLimit || hasOffset:
		if hasLimit {
			out.Limit = limit
		}
		if hasOffset {
			out.Offset = offset
		}
	}

	if max := res.Options.MaxPageSize; max > 0 && out.Limit > max {
		out.Limit = max
	}
	if out.Limit <= 0 {
		out.Limit = res.Options.DefaultPageSize
	}
	return out, nil
}

// BuildIncludes parses dotted include paths into a tree, enforcing the
// resource's include-depth limit and relationship existence at every level.
func BuildIncludes(reg *schema.Registry, res *schema.Resource, paths []string) (map[string]*IncludeNode, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	tree := make(map[string]*IncludeNode)
	maxDepth := res.Options.MaxIncludeDepth

	for _, path := range paths {
		parts := strings.Split(path, ".")
		if len(parts) > maxDepth {
			return nil, apierr.Validation("include path %s exceeds the depth limit", path).
				WithViolation("include", "max_depth", fmt.Sprintf("include depth is limited to %d", maxDepth))
		}
		current := tree
		currentRes := res
		for i, part := range parts {
			rel, ok := currentRes.Relationship(part)
			if !ok {
				return nil, apierr.Validation("unknown relationship in include path").
					WithViolation("include", "unknown_relationship", fmt.Sprintf("%s has no relationship %s", currentRes.Name, part))
			}
			node, ok := current[part]
			if !ok {
				node = &IncludeNode{
					Name:     part,
					Rel:      rel,
					Children: make(map[string]*IncludeNode),
					Limit:    includeLimit(currentRes, rel),
					OrderBy:  rel.OrderBy,
				}
				current[part] = node
			}
			current = node.Children

			if rel.Kind == schema.RelBelongsToPolymorphic {
				// A polymorphic node has no single target type to descend
				// into; nested includes beyond it are rejected.
				if i < len(parts)-1 {
					return nil, apierr.Validation("cannot include past polymorphic relationship %s", part)
				}
				break
			}
			next, ok := reg.Get(rel.Target)
			if !ok {
				return nil, apierr.Configuration("relationship %s targets unregistered resource %s", part, rel.Target)
			}
			currentRes = next
		}
	}
	return tree, nil
}

// includeLimit bounds a to-many node's per-parent fetch by the resource's
// maximum page size.
func includeLimit(res *schema.Resource, rel *schema.Relationship) int {
	if !rel.Kind.ToMany() {
		return 0
	}
	limit := rel.Limit
	if max := res.Options.MaxPageSize; max > 0 && (limit == 0 || limit > max) {
		limit = max
	}
	return limit
}

func sortedFieldNames(res *schema.Resource) []string {
	names := make([]string, 0, len(res.Fields))
	for name := range res.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
