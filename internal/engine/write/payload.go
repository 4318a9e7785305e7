package write

import (
	"context"
	"fmt"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/jsonapi"
)

// splitPayload turns the resource object into the flat attribute record plus
// the to-many linkage lists. The returned flag reports whether the payload
// carried a relationships object at all, which drives replace semantics.
// Computed attributes are never writable; they come back in the dropped list
// so the caller can log them.
func splitPayload(res *schema.Resource, doc *jsonapi.Document) (map[string]interface{}, map[string][]string, bool, []string, error) {
	data := doc.One
	attrs := make(map[string]interface{}, len(data.Attributes)+2)
	toMany := make(map[string][]string)

	var dropped []string
	verr := apierr.Validation("invalid payload for %s", res.Name)
	for name, value := range data.Attributes {
		if f, ok := res.Fields[name]; ok && f.Computed {
			dropped = append(dropped, name)
			continue
		}
		if res.Options.StrictAttributes && ownsRelationshipColumn(res, name) {
			verr.WithViolation("data.attributes."+name, "relationship_column",
				fmt.Sprintf("%s must be written through its relationship", name))
			continue
		}
		attrs[name] = value
	}

	for name, linkage := range data.Relationships {
		rel, ok := res.Relationship(name)
		if !ok {
			verr.WithViolation("data.relationships."+name, "unknown_relationship",
				fmt.Sprintf("%s is not a declared relationship", name))
			continue
		}
		switch rel.Kind {
		case schema.RelBelongsTo:
			if linkage.One == nil {
				attrs[rel.ForeignKey] = nil
				continue
			}
			if linkage.One.Type != rel.Target {
				verr.WithViolation("data.relationships."+name+".data.type", "type_mismatch",
					fmt.Sprintf("%s expects type %s", name, rel.Target))
				continue
			}
			attrs[rel.ForeignKey] = linkage.One.ID
		case schema.RelBelongsToPolymorphic:
			if linkage.One == nil {
				attrs[rel.TypeField] = nil
				attrs[rel.IDField] = nil
				continue
			}
			if !allowedPolyType(rel, linkage.One.Type) {
				verr.WithViolation("data.relationships."+name+".data.type", "type_not_allowed",
					fmt.Sprintf("%s does not accept type %s", name, linkage.One.Type))
				continue
			}
			attrs[rel.TypeField] = linkage.One.Type
			attrs[rel.IDField] = linkage.One.ID
		case schema.RelHasMany, schema.RelHasManyThrough:
			ids := make([]string, 0, len(linkage.Many))
			for i, ident := range linkage.Many {
				if ident.Type != rel.Target {
					verr.WithViolation(fmt.Sprintf("data.relationships.%s.data.%d.type", name, i),
						"type_mismatch", fmt.Sprintf("%s expects type %s", name, rel.Target))
					continue
				}
				ids = append(ids, ident.ID)
			}
			toMany[name] = ids
		case schema.RelHasManyPolymorphic:
			verr.WithViolation("data.relationships."+name, "not_writable",
				fmt.Sprintf("%s is owned by the related records and cannot be written here", name))
		}
	}

	if len(verr.Violations) > 0 {
		return nil, nil, false, nil, verr
	}
	return attrs, toMany, data.Relationships != nil, dropped, nil
}

// ownsRelationshipColumn reports whether an attribute name is a column the
// schema manages through a relationship.
func ownsRelationshipColumn(res *schema.Resource, name string) bool {
	for _, rel := range res.Relationships {
		switch rel.Kind {
		case schema.RelBelongsTo:
			if rel.ForeignKey == name {
				return true
			}
		case schema.RelBelongsToPolymorphic:
			if rel.TypeField == name || rel.IDField == name {
				return true
			}
		}
	}
	return false
}

func allowedPolyType(rel *schema.Relationship, typeName string) bool {
	for _, t := range rel.Types {
		if t == typeName {
			return true
		}
	}
	return false
}

// applyDefaults fills unsupplied persisted fields with their declared
// defaults. Create only.
func applyDefaults(res *schema.Resource, attrs map[string]interface{}) {
	for name, f := range res.Fields {
		if f.Default == nil || !f.Persisted() || name == res.IDField {
			continue
		}
		if _, supplied := attrs[name]; !supplied {
			attrs[name] = f.Default
		}
	}
}

// applySetters runs the setter transforms in dependency order. In partial
// mode only supplied fields are transformed.
func applySetters(res *schema.Resource, attrs map[string]interface{}, partial bool) error {
	for _, name := range res.SetterOrder() {
		f := res.Fields[name]
		if f.Setter == nil {
			continue
		}
		value, supplied := attrs[name]
		if partial && !supplied {
			continue
		}
		transformed, err := f.Setter(value, attrs)
		if err != nil {
			return apierr.Validation("setter for %s failed: %v", name, err).
				WithViolation("data.attributes."+name, "setter", err.Error())
		}
		attrs[name] = transformed
	}
	return nil
}

// checkReferences verifies that every referenced record exists and that the
// caller may read it. Relationships marked SkipTargetCheck are exempt.
func (c *Coordinator) checkReferences(ctx context.Context, op *operation, attrs map[string]interface{}) error {
	verr := apierr.Validation("referenced resources are invalid for %s", op.res.Name)

	for name, rel := range op.res.Relationships {
		if rel.SkipTargetCheck {
			continue
		}
		switch rel.Kind {
		case schema.RelBelongsTo:
			value, supplied := attrs[rel.ForeignKey]
			if !supplied || value == nil {
				continue
			}
			target, ok := c.reg.Get(rel.Target)
			if !ok {
				return apierr.Configuration("unknown resource %s", rel.Target)
			}
			if err := c.checkReference(ctx, op, target, idString(value), "data.relationships."+name+".data.id", verr); err != nil {
				return err
			}
		case schema.RelBelongsToPolymorphic:
			value, supplied := attrs[rel.IDField]
			if !supplied || value == nil {
				continue
			}
			typeName, _ := attrs[rel.TypeField].(string)
			target, ok := c.reg.Get(typeName)
			if !ok {
				verr.WithViolation("data.relationships."+name+".data.type", "type_not_allowed",
					fmt.Sprintf("%s is not a registered type", typeName))
				continue
			}
			if err := c.checkReference(ctx, op, target, idString(value), "data.relationships."+name+".data.id", verr); err != nil {
				return err
			}
		case schema.RelHasMany, schema.RelHasManyThrough:
			ids, mentioned := op.toMany[name]
			if !mentioned {
				continue
			}
			target, ok := c.reg.Get(rel.Target)
			if !ok {
				return apierr.Configuration("unknown resource %s", rel.Target)
			}
			for i, id := range ids {
				path := fmt.Sprintf("data.relationships.%s.data.%d.id", name, i)
				if err := c.checkReference(ctx, op, target, id, path, verr); err != nil {
					return err
				}
			}
		}
	}

	if len(verr.Violations) > 0 {
		return verr
	}
	return nil
}

// checkReference resolves one referenced record: a missing row becomes a
// violation, and the gate decides whether the caller may read it.
func (c *Coordinator) checkReference(ctx context.Context, op *operation, target *schema.Resource, id, path string, verr *apierr.Error) error {
	record, err := c.store.DataGetMinimal(ctx, target, id, op.tx)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			verr.WithViolation(path, "not_found", fmt.Sprintf("%s %s does not exist", target.Name, id))
			return nil
		}
		return err
	}
	check := access.Check{
		Method:   access.MethodGet,
		Resource: target,
		ID:       id,
		Record:   record,
		Auth:     op.auth,
	}
	if err := c.gate.Check(ctx, check); err != nil {
		return err
	}
	return nil
}

func idString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
