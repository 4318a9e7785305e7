// Package schema defines resource declarations and compiles them into the
// immutable descriptors the rest of the engine consumes.
package schema

import (
	"fmt"
	"regexp"
)

// Kind represents the built-in field kinds.
type Kind int

const (
	KindString Kind = iota
	KindText
	KindInt
	KindBigInt
	KindFloat
	KindDecimal
	KindBool
	KindTimestamp
	KindDate
	KindTime
	KindUUID
	KindJSON
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindBigInt:
		return "bigint"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindUUID:
		return "uuid"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindString; k <= KindJSON; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown field kind: %s", s)
}

// Visibility controls when a field is serialized.
type Visibility int

const (
	// Visible fields are returned unless a sparse fieldset omits them.
	Visible Visibility = iota
	// Hidden fields are returned only when explicitly requested.
	Hidden
	// Never fields are never serialized, even when requested.
	Never
)

// String returns the string representation of the visibility level.
func (v Visibility) String() string {
	switch v {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Never:
		return "never"
	default:
		return "unknown"
	}
}

// Rules holds per-field validation rules.
type Rules struct {
	Required  bool
	Min       *float64
	Max       *float64
	MaxLength *int
	Pattern   string
	Enum      []string

	pattern *regexp.Regexp // compiled at registration
}

// PatternRegexp returns the compiled pattern, if any.
func (r *Rules) PatternRegexp() *regexp.Regexp {
	return r.pattern
}

// BelongsToRef marks a foreign-key field as a belongs-to relationship.
// Alias is the relationship name clients see; the foreign-key column itself
// never appears among attributes on the wire.
type BelongsToRef struct {
	Resource string
	Alias    string
}

// ComputeFunc derives a computed field's value from the loaded record.
type ComputeFunc func(record map[string]interface{}) (interface{}, error)

// Transform rewrites a field value on the way in (setter) or out (getter).
type Transform func(value interface{}, record map[string]interface{}) (interface{}, error)

// Field describes one attribute of a resource.
type Field struct {
	Name       string
	Kind       Kind
	Nullable   bool
	Default    interface{}
	Visibility Visibility
	Index      bool

	// Virtual fields exist only in input/output and are never persisted.
	Virtual bool

	// Computed fields are derived at read time and never accepted on input.
	Computed  bool
	DependsOn []string
	Compute   ComputeFunc

	Setter     Transform
	SetterDeps []string
	Getter     Transform

	Searchable bool
	Rules      Rules
	BelongsTo  *BelongsToRef
}

// Persisted reports whether the field maps to a database column.
func (f *Field) Persisted() bool {
	return !f.Virtual && !f.Computed
}

// RelKind represents the kind of a declared relationship.
type RelKind int

const (
	// RelBelongsTo is synthesized from a field-level BelongsToRef.
	RelBelongsTo RelKind = iota
	// RelHasMany is the direct inverse of a belongs-to.
	RelHasMany
	// RelHasManyThrough is many-to-many via a pivot resource.
	RelHasManyThrough
	// RelBelongsToPolymorphic stores the target type in a row column.
	RelBelongsToPolymorphic
	// RelHasManyPolymorphic is the inverse of a polymorphic belongs-to.
	RelHasManyPolymorphic
)

// String returns the string representation of the relationship kind.
func (k RelKind) String() string {
	switch k {
	case RelBelongsTo:
		return "belongs_to"
	case RelHasMany:
		return "has_many"
	case RelHasManyThrough:
		return "has_many_through"
	case RelBelongsToPolymorphic:
		return "belongs_to_polymorphic"
	case RelHasManyPolymorphic:
		return "has_many_polymorphic"
	default:
		return "unknown"
	}
}

// ToMany reports whether the relationship links to multiple targets.
func (k RelKind) ToMany() bool {
	return k == RelHasMany || k == RelHasManyThrough || k == RelHasManyPolymorphic
}

// Relationship describes a named link between resources.
type Relationship struct {
	Kind   RelKind
	Name   string
	Target string

	// ForeignKey is the key on this side: the local column for belongs-to,
	// the column on the target for has-many, the pivot column pointing back
	// here for has-many-through.
	ForeignKey string
	// OtherKey is the pivot column pointing at the target (through only).
	OtherKey string
	// Through names the pivot resource (through only).
	Through string

	// Polymorphic configuration.
	TypeField string
	IDField   string
	Types     []string

	// Include behavior for to-many relationships.
	Limit   int
	OrderBy string

	// SkipTargetCheck bypasses the per-target existence check during pivot
	// writes. Correctness-vs-performance tradeoff; off by default.
	SkipTargetCheck bool
}

// JoinSpec lets a virtual search field filter across a joined table.
type JoinSpec struct {
	Table      string
	LocalKey   string
	ForeignKey string
}

// Filter operators accepted by search fields.
const (
	OpEq   = "="
	OpNe   = "!="
	OpGt   = ">"
	OpGte  = ">="
	OpLt   = "<"
	OpLte  = "<="
	OpLike = "like"
	OpIn   = "in"
)

// SearchDecl is a declared entry in a resource's explicit search schema.
// Three forms: zero value (plain = comparison), Operator set (single-operator
// form), or Filters set (one underlying field expanded into several filter
// names with ActualField back-references).
type SearchDecl struct {
	Operator string
	Filters  []SearchFilter
	Join     *JoinSpec
}

// SearchFilter is one expansion of a multi-filter search declaration.
type SearchFilter struct {
	Name        string
	Operator    string
	ActualField string
}

// SearchField is a compiled filter entry: the physical field it compares
// against (possibly across a join) and the operator it applies.
type SearchField struct {
	Name     string
	Field    string
	Operator string
	Join     *JoinSpec
}

// ReturnMode controls what a write returns.
type ReturnMode int

const (
	// ReturnFull re-reads the record through the GET path.
	ReturnFull ReturnMode = iota
	// ReturnMinimal returns type and id only.
	ReturnMinimal
	// ReturnNone returns an empty body.
	ReturnNone
)

// String returns the string representation of the return mode.
func (m ReturnMode) String() string {
	switch m {
	case ReturnFull:
		return "full"
	case ReturnMinimal:
		return "minimal"
	case ReturnNone:
		return "no"
	default:
		return "unknown"
	}
}

// ParseReturnMode converts a string to a ReturnMode.
func ParseReturnMode(s string) (ReturnMode, error) {
	switch s {
	case "full":
		return ReturnFull, nil
	case "minimal":
		return ReturnMinimal, nil
	case "no", "none":
		return ReturnNone, nil
	default:
		return 0, fmt.Errorf("unknown return mode: %s", s)
	}
}

// Options carries per-resource engine settings. Zero values fall back to the
// engine defaults applied at registration.
type Options struct {
	DefaultPageSize     int
	MaxPageSize         int
	MaxIncludeDepth     int
	DefaultSort         string
	Prefix              string
	ReturnRecord        ReturnMode
	AllowReturnOverride bool
	AllowClientIDs      bool
	CountTotal          bool
	// StrictAttributes rejects belongs-to foreign keys sent in attributes.
	StrictAttributes bool
	// PolicyFields are fetched into the minimal record handed to the
	// permission gate for row-level checks.
	PolicyFields []string
}

// Resource is a declared resource. After registration it also carries the
// compiled artifacts (search table, setter order) and must not be mutated.
type Resource struct {
	Name    string
	Table   string
	IDField string
	IDKind  Kind

	Fields        map[string]*Field
	Relationships map[string]*Relationship
	Search        map[string]*SearchDecl
	Sortable      []string
	Options       Options

	// Pivot marks a resource whose persisted form is one row per link.
	Pivot bool

	searchFields map[string]*SearchField
	setterOrder  []string
	compiled     bool
}

// HasField reports whether the resource declares the named field.
func (r *Resource) HasField(name string) bool {
	_, ok := r.Fields[name]
	return ok
}

// SearchFields returns the compiled search table.
func (r *Resource) SearchFields() map[string]*SearchField {
	return r.searchFields
}

// SetterOrder returns field names in setter dependency order.
func (r *Resource) SetterOrder() []string {
	return r.setterOrder
}

// Compiled reports whether the resource has been through registration.
func (r *Resource) Compiled() bool {
	return r.compiled
}

// Sortable reports whether the named field is in the sortable whitelist.
func (r *Resource) SortableField(name string) bool {
	for _, s := range r.Sortable {
		if s == name {
			return true
		}
	}
	return false
}

// BelongsToField returns the field declaring the belongs-to with the given
// alias, or nil.
func (r *Resource) BelongsToField(alias string) *Field {
	for _, f := range r.Fields {
		if f.BelongsTo != nil && f.BelongsTo.Alias == alias {
			return f
		}
	}
	return nil
}

// Relationship looks up a relationship by its client-visible name.
// Belongs-to entries are synthesized into the table during compilation, so
// the lookup is uniform across kinds.
func (r *Resource) Relationship(name string) (*Relationship, bool) {
	rel, ok := r.Relationships[name]
	return rel, ok
}

// RelationshipNames returns every relationship name clients can address.
func (r *Resource) RelationshipNames() []string {
	names := make([]string, 0, len(r.Relationships))
	for name := range r.Relationships {
		names = append(names, name)
	}
	return names
}
