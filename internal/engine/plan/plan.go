// Package plan translates validated query parameters into a field selection,
// filter tree, sort list, pagination plan, and include tree.
package plan

import (
	"github.com/strata-api/strata/internal/engine/schema"
)

// Params are the raw query parameters handed over by the transport.
type Params struct {
	Include []string
	Fields  map[string][]string
	Filter  map[string]string
	Sort    []string
	Page    map[string]string
}

// Selection is the resolved set of columns to fetch for one resource type.
type Selection struct {
	// Columns are the physical columns, in a stable order.
	Columns []string
	// Aliases maps a physical column to its output name (id aliasing).
	Aliases map[string]string
	// Auxiliary marks columns fetched only as computed-field dependencies;
	// they are stripped before the response unless also requested.
	Auxiliary map[string]bool
	// Computed lists the computed fields to produce after the fetch.
	Computed []string
	// Requested is non-nil when a sparse fieldset applies to this type.
	Requested map[string]bool
}

// Has reports whether the selection fetches the given column.
func (s *Selection) Has(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

func (s *Selection) add(column string) {
	if !s.Has(column) {
		s.Columns = append(s.Columns, column)
	}
}

// Ensure adds a column to the selection if missing; when aux is set the
// addition is marked auxiliary so it is stripped before the response.
func (s *Selection) Ensure(column string, aux bool) {
	if s.Has(column) {
		return
	}
	s.Columns = append(s.Columns, column)
	if aux {
		if s.Auxiliary == nil {
			s.Auxiliary = make(map[string]bool)
		}
		s.Auxiliary[column] = true
	}
}

// Condition is one filter predicate.
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
	Join     *schema.JoinSpec
}

// Group is a parenthesized set of predicates added by an extension hook.
// Grouping keeps OR-family branches from escaping the outer conjunction.
type Group struct {
	Or         bool
	Conditions []Condition
}

// Filter is the filter tree: top-level conditions are AND-combined, and each
// hook-contributed group is AND-combined as a single parenthesized unit.
type Filter struct {
	Conditions []Condition
	Groups     []*Group
}

// AddGroup appends a grouped subexpression to the filter.
func (f *Filter) AddGroup(g *Group) {
	f.Groups = append(f.Groups, g)
}

// Empty reports whether the filter has no predicates.
func (f *Filter) Empty() bool {
	return len(f.Conditions) == 0 && len(f.Groups) == 0
}

// SortField is one entry of the sort list.
type SortField struct {
	Field string
	Desc  bool
}

// Page is the pagination plan.
type Page struct {
	Limit      int
	Offset     int
	CountTotal bool
}

// IncludeNode is one node of the parsed include tree.
type IncludeNode struct {
	Name     string
	Rel      *schema.Relationship
	Children map[string]*IncludeNode
	// Limit caps the number of related rows fetched per parent.
	Limit   int
	OrderBy string
}

// Plan is the executable read plan for one request.
type Plan struct {
	Resource  *schema.Resource
	Selection Selection
	Filter    Filter
	Sort      []SortField
	Page      Page
	Includes  map[string]*IncludeNode
	// Fields keeps the sparse fieldsets of every type so include expansion
	// can build selections for related resources.
	Fields map[string][]string
}
