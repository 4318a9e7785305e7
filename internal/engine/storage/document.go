package storage

import (
	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/engine/plan"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/jsonapi"
)

// BuildCollectionDocument assembles the JSON:API document for a collection
// read, including the deduplicated included list.
func (s *Store) BuildCollectionDocument(p *plan.Plan, result *Result) (*jsonapi.Document, error) {
	doc := &jsonapi.Document{HasMany: true}
	included := newIncludedSet()
	for _, record := range result.Records {
		resource, err := s.buildResource(p.Resource, &p.Selection, record, p.Fields, included)
		if err != nil {
			return nil, err
		}
		doc.Many = append(doc.Many, resource)
	}
	doc.Included = included.list
	if result.Total != nil {
		doc.Meta = map[string]interface{}{"total": *result.Total}
	}
	return doc, nil
}

// BuildSingleDocument assembles the JSON:API document for a single record.
func (s *Store) BuildSingleDocument(p *plan.Plan, record map[string]interface{}) (*jsonapi.Document, error) {
	included := newIncludedSet()
	resource, err := s.buildResource(p.Resource, &p.Selection, record, p.Fields, included)
	if err != nil {
		return nil, err
	}
	doc := jsonapi.NewOne(resource)
	doc.Included = included.list
	return doc, nil
}

type includedSet struct {
	seen map[jsonapi.Identifier]bool
	list []*jsonapi.Resource
}

func newIncludedSet() *includedSet {
	return &includedSet{seen: make(map[jsonapi.Identifier]bool)}
}

func (set *includedSet) add(r *jsonapi.Resource) {
	ident := r.Identifier()
	if set.seen[ident] {
		return
	}
	set.seen[ident] = true
	set.list = append(set.list, r)
}

// buildResource turns one record into a resource object: computed fields are
// derived, getters applied, foreign-key columns become relationship linkage,
// auxiliary columns are stripped, and loaded related records recurse into
// the included set.
func (s *Store) buildResource(
	res *schema.Resource,
	sel *plan.Selection,
	record map[string]interface{},
	fields map[string][]string,
	included *includedSet,
) (*jsonapi.Resource, error) {
	s.enrich(res, sel, record)

	out := &jsonapi.Resource{
		Type:          res.Name,
		ID:            idToString(record["id"]),
		Attributes:    make(map[string]interface{}),
		Relationships: make(map[string]*jsonapi.Relationship),
	}

	relColumns := make(map[string]bool)
	loaded := make(map[string]bool)

	for name, rel := range res.Relationships {
		switch rel.Kind {
		case schema.RelBelongsTo:
			relColumns[rel.ForeignKey] = true
			if _, fetched := record[rel.ForeignKey]; !fetched {
				break
			}
			linkage := &jsonapi.Relationship{}
			if fk := record[rel.ForeignKey]; fk != nil {
				linkage.One = &jsonapi.Identifier{Type: rel.Target, ID: idToString(fk)}
			}
			out.Relationships[name] = linkage
			if child, ok := record[name].(map[string]interface{}); ok {
				loaded[name] = true
				if err := s.includeChild(rel.Target, child, fields, included); err != nil {
					return nil, err
				}
			}
		case schema.RelBelongsToPolymorphic:
			relColumns[rel.TypeField] = true
			relColumns[rel.IDField] = true
			if _, fetched := record[rel.IDField]; !fetched {
				break
			}
			linkage := &jsonapi.Relationship{}
			typeName, _ := record[rel.TypeField].(string)
			if id := record[rel.IDField]; id != nil && typeName != "" {
				if allowedType(rel, typeName) {
					linkage.One = &jsonapi.Identifier{Type: typeName, ID: idToString(id)}
				} else {
					s.log.Warn("polymorphic target not in allow-list",
						zap.String("relationship", name),
						zap.String("type", typeName))
				}
			}
			out.Relationships[name] = linkage
			if child, ok := record[name].(map[string]interface{}); ok && linkage.One != nil {
				loaded[name] = true
				if err := s.includeChild(typeName, child, fields, included); err != nil {
					return nil, err
				}
			}
		default: // to-many kinds carry linkage only when loaded
			children, ok := record[name].([]map[string]interface{})
			if !ok {
				if _, present := record[name]; !present {
					break
				}
			}
			loaded[name] = true
			linkage := &jsonapi.Relationship{ToMany: true, Many: []jsonapi.Identifier{}}
			for _, child := range children {
				linkage.Many = append(linkage.Many, jsonapi.Identifier{Type: rel.Target, ID: idToString(child["id"])})
				if err := s.includeChild(rel.Target, child, fields, included); err != nil {
					return nil, err
				}
			}
			out.Relationships[name] = linkage
		}
	}

	for key, value := range record {
		if key == "id" || key == res.IDField || relColumns[key] || loaded[key] {
			continue
		}
		f, declared := res.Fields[key]
		if !declared {
			continue
		}
		if f.Visibility == schema.Never {
			continue
		}
		if sel.Auxiliary[key] && (sel.Requested == nil || !sel.Requested[key]) {
			continue
		}
		out.Attributes[key] = value
	}

	if len(out.Attributes) == 0 {
		out.Attributes = nil
	}
	if len(out.Relationships) == 0 {
		out.Relationships = nil
	}
	return out, nil
}

// includeChild builds a related record's resource object and adds it to the
// included set, recursing through anything loaded beneath it.
func (s *Store) includeChild(
	typeName string,
	child map[string]interface{},
	fields map[string][]string,
	included *includedSet,
) error {
	target, ok := s.reg.Get(typeName)
	if !ok {
		return nil
	}
	sel, err := plan.BuildSelection(target, fields)
	if err != nil {
		return err
	}
	resource, err := s.buildResource(target, &sel, child, fields, included)
	if err != nil {
		return err
	}
	included.add(resource)
	return nil
}

// enrich computes the selection's computed fields from the loaded attributes
// and applies getter transforms. A compute failure logs a warning and yields
// null; it never aborts the request.
func (s *Store) enrich(res *schema.Resource, sel *plan.Selection, record map[string]interface{}) {
	for _, name := range sel.Computed {
		f, ok := res.Fields[name]
		if !ok || f.Compute == nil {
			continue
		}
		value, err := f.Compute(record)
		if err != nil {
			s.log.Warn("computed field failed",
				zap.String("resource", res.Name),
				zap.String("field", name),
				zap.Error(err))
			record[name] = nil
			continue
		}
		record[name] = value
	}

	for name, f := range res.Fields {
		if f.Getter == nil {
			continue
		}
		value, present := record[name]
		if !present {
			continue
		}
		transformed, err := f.Getter(value, record)
		if err != nil {
			s.log.Warn("getter transform failed",
				zap.String("resource", res.Name),
				zap.String("field", name),
				zap.Error(err))
			continue
		}
		record[name] = transformed
	}
}
