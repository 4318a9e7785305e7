// Package codec converts between the simplified flat record form and the
// JSON:API document form, in both directions.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/jsonapi"
)

// PolymorphicTypeKey carries the target type through the simplified form so
// it can be recovered on the return trip.
const PolymorphicTypeKey = "_type"

// LooksLikeDocument reports whether a decoded body is already in JSON:API
// document form, detected by the presence of data.type.
func LooksLikeDocument(body map[string]interface{}) bool {
	data, ok := body["data"]
	if !ok {
		return false
	}
	switch d := data.(type) {
	case map[string]interface{}:
		_, ok := d["type"].(string)
		return ok
	case []interface{}:
		return true
	case nil:
		return true
	}
	return false
}

// DecodeBody turns a decoded request body into a document, converting from
// the simplified form when needed. The conversion is idempotent on bodies
// already in document form.
func DecodeBody(res *schema.Resource, body map[string]interface{}) (*jsonapi.Document, error) {
	if LooksLikeDocument(body) {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindPayloadShape, err, "unreadable request body")
		}
		doc := &jsonapi.Document{}
		if err := json.Unmarshal(raw, doc); err != nil {
			return nil, apierr.Wrap(apierr.KindPayloadShape, err, "malformed JSON:API document")
		}
		return doc, nil
	}
	resource, err := FromSimplified(res, body)
	if err != nil {
		return nil, err
	}
	return jsonapi.NewOne(resource), nil
}

// FromSimplified converts a flat record into a resource object: the id is
// separated out, belongs-to aliases move into relationships, to-many names
// become identifier arrays, and everything else becomes an attribute.
func FromSimplified(res *schema.Resource, flat map[string]interface{}) (*jsonapi.Resource, error) {
	out := &jsonapi.Resource{
		Type:          res.Name,
		Attributes:    make(map[string]interface{}),
		Relationships: make(map[string]*jsonapi.Relationship),
	}
	consumed := map[string]bool{"id": true}

	if id, ok := flat["id"]; ok && id != nil {
		out.ID = IDString(id)
	}

	for name, rel := range res.Relationships {
		value, ok := flat[name]
		if !ok {
			continue
		}
		consumed[name] = true
		switch rel.Kind {
		case schema.RelBelongsTo:
			if value == nil {
				out.Relationships[name] = &jsonapi.Relationship{}
				continue
			}
			out.Relationships[name] = &jsonapi.Relationship{
				One: &jsonapi.Identifier{Type: rel.Target, ID: IDString(value)},
			}
		case schema.RelBelongsToPolymorphic:
			linkage, err := polymorphicLinkage(res, name, value)
			if err != nil {
				return nil, err
			}
			out.Relationships[name] = linkage
		default: // to-many
			list, ok := value.([]interface{})
			if !ok {
				return nil, apierr.PayloadShape("relationship %s expects an array of ids", name)
			}
			many := make([]jsonapi.Identifier, 0, len(list))
			for _, item := range list {
				switch v := item.(type) {
				case map[string]interface{}:
					// Inlined records reduce to their identifiers.
					many = append(many, jsonapi.Identifier{Type: rel.Target, ID: IDString(v["id"])})
				default:
					many = append(many, jsonapi.Identifier{Type: rel.Target, ID: IDString(v)})
				}
			}
			out.Relationships[name] = &jsonapi.Relationship{Many: many, ToMany: true}
		}
	}

	for key, value := range flat {
		if consumed[key] {
			continue
		}
		out.Attributes[key] = value
	}
	if len(out.Relationships) == 0 {
		out.Relationships = nil
	}
	if len(out.Attributes) == 0 {
		out.Attributes = nil
	}
	return out, nil
}

func polymorphicLinkage(res *schema.Resource, name string, value interface{}) (*jsonapi.Relationship, error) {
	if value == nil {
		return &jsonapi.Relationship{}, nil
	}
	ref, ok := value.(map[string]interface{})
	if !ok {
		return nil, apierr.PayloadShape("polymorphic relationship %s expects {id, %s}", name, PolymorphicTypeKey)
	}
	typ, _ := ref[PolymorphicTypeKey].(string)
	if typ == "" {
		return nil, apierr.PayloadShape("polymorphic relationship %s is missing %s", name, PolymorphicTypeKey)
	}
	return &jsonapi.Relationship{
		One: &jsonapi.Identifier{Type: typ, ID: IDString(ref["id"])},
	}, nil
}

// ToSimplified rebuilds the flat form from a resource object. When included
// resources are given, related records are recursively inlined under the
// relationship name, each inline copy itself simplified. An identifier seen
// again on the current inline path reduces to its bare id, so documents whose
// included resources reference each other still terminate.
func ToSimplified(reg *schema.Registry, res *schema.Resource, r *jsonapi.Resource, included []*jsonapi.Resource) (map[string]interface{}, error) {
	return simplify(reg, res, r, indexIncluded(included), make(map[jsonapi.Identifier]bool))
}

func simplify(reg *schema.Registry, res *schema.Resource, r *jsonapi.Resource, index map[jsonapi.Identifier]*jsonapi.Resource, visited map[jsonapi.Identifier]bool) (map[string]interface{}, error) {
	if r.ID != "" {
		ident := r.Identifier()
		visited[ident] = true
		defer delete(visited, ident)
	}

	flat := make(map[string]interface{}, len(r.Attributes)+len(r.Relationships)+1)
	if r.ID != "" {
		flat["id"] = r.ID
	}
	for key, value := range r.Attributes {
		flat[key] = value
	}

	for name, linkage := range r.Relationships {
		rel, ok := res.Relationship(name)
		if !ok {
			continue
		}
		if linkage.ToMany {
			items := make([]interface{}, 0, len(linkage.Many))
			for _, ident := range linkage.Many {
				inlined, err := inline(reg, ident, index, visited)
				if err != nil {
					return nil, err
				}
				items = append(items, inlined)
			}
			flat[name] = items
			continue
		}
		if linkage.One == nil {
			flat[name] = nil
			continue
		}
		inlined, err := inline(reg, *linkage.One, index, visited)
		if err != nil {
			return nil, err
		}
		if rel.Kind == schema.RelBelongsToPolymorphic {
			if m, ok := inlined.(map[string]interface{}); ok {
				m[PolymorphicTypeKey] = linkage.One.Type
				flat[name] = m
			} else {
				flat[name] = map[string]interface{}{
					"id":               linkage.One.ID,
					PolymorphicTypeKey: linkage.One.Type,
				}
			}
			continue
		}
		flat[name] = inlined
	}
	return flat, nil
}

// SimplifyMany simplifies each resource of a collection document. Top-level
// meta and links are preserved by the caller.
func SimplifyMany(reg *schema.Registry, res *schema.Resource, doc *jsonapi.Document) ([]map[string]interface{}, error) {
	index := indexIncluded(doc.Included)
	out := make([]map[string]interface{}, 0, len(doc.Many))
	for _, r := range doc.Many {
		flat, err := simplify(reg, res, r, index, make(map[jsonapi.Identifier]bool))
		if err != nil {
			return nil, err
		}
		out = append(out, flat)
	}
	return out, nil
}

// inline resolves an identifier against the included index; when present the
// full record is simplified recursively, otherwise the bare id is used. An
// identifier already on the inline path also reduces to its bare id.
func inline(reg *schema.Registry, ident jsonapi.Identifier, index map[jsonapi.Identifier]*jsonapi.Resource, visited map[jsonapi.Identifier]bool) (interface{}, error) {
	record, ok := index[ident]
	if !ok || visited[ident] {
		return ident.ID, nil
	}
	target, ok := reg.Get(ident.Type)
	if !ok {
		return ident.ID, nil
	}
	return simplify(reg, target, record, index, visited)
}

func indexIncluded(included []*jsonapi.Resource) map[jsonapi.Identifier]*jsonapi.Resource {
	index := make(map[jsonapi.Identifier]*jsonapi.Resource, len(included))
	for _, r := range included {
		index[r.Identifier()] = r
	}
	return index
}

// IDString renders any id value the store may produce as a wire string.
func IDString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case int:
		return strconv.Itoa(id)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}
