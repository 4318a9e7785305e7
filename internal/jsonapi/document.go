// Package jsonapi defines the JSON:API 1.0 document types exchanged on the
// wire, as specified by https://jsonapi.org/format/1.0/.
package jsonapi

import (
	"encoding/json"
	"fmt"
)

// MediaType is the official JSON:API media type.
const MediaType = "application/vnd.api+json"

// Identifier is a resource identifier object.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Relationship is a relationship object holding resource linkage. A to-one
// relationship carries One (nil meaning null linkage); a to-many relationship
// carries Many and has ToMany set even when the list is empty.
type Relationship struct {
	One    *Identifier
	Many   []Identifier
	ToMany bool
}

// MarshalJSON emits {"data": null | identifier | [identifier, ...]}.
func (r *Relationship) MarshalJSON() ([]byte, error) {
	var data interface{}
	if r.ToMany {
		many := r.Many
		if many == nil {
			many = []Identifier{}
		}
		data = many
	} else if r.One != nil {
		data = r.One
	}
	return json.Marshal(struct {
		Data interface{} `json:"data"`
	}{Data: data})
}

// UnmarshalJSON accepts the three linkage shapes: null, a single identifier,
// or an identifier array.
func (r *Relationship) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		r.One = nil
		r.Many = nil
		r.ToMany = false
		return nil
	}
	switch raw.Data[0] {
	case '[':
		r.ToMany = true
		return json.Unmarshal(raw.Data, &r.Many)
	case '{':
		r.One = &Identifier{}
		return json.Unmarshal(raw.Data, r.One)
	default:
		return fmt.Errorf("invalid relationship linkage: %s", raw.Data)
	}
}

// Resource is a JSON:API resource object.
type Resource struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id,omitempty"`
	Attributes    map[string]interface{}   `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
	Meta          map[string]interface{}   `json:"meta,omitempty"`
	Links         map[string]interface{}   `json:"links,omitempty"`
}

// Identifier returns the resource's identifier object.
func (r *Resource) Identifier() Identifier {
	return Identifier{Type: r.Type, ID: r.ID}
}

// Link is the top-level links object, including the pagination links defined
// by https://jsonapi.org/format/1.0/#fetching-pagination.
type Link struct {
	Self  string `json:"self,omitempty"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
}

// Document is a JSON:API top-level document. Exactly one of One/Many is
// populated for data documents; HasMany distinguishes an empty collection
// from a null to-one document.
type Document struct {
	One      *Resource
	Many     []*Resource
	HasMany  bool
	Included []*Resource
	Errors   []*Error
	Meta     map[string]interface{}
	Links    *Link
}

type documentJSON struct {
	Data     json.RawMessage        `json:"data,omitempty"`
	Included []*Resource            `json:"included,omitempty"`
	Errors   []*Error               `json:"errors,omitempty"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
	Links    *Link                  `json:"links,omitempty"`
}

// MarshalJSON emits the document with data as an object, array, or null.
// Error documents omit data entirely.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{
		Included: d.Included,
		Errors:   d.Errors,
		Meta:     d.Meta,
		Links:    d.Links,
	}
	if len(d.Errors) == 0 {
		var data interface{}
		if d.HasMany {
			many := d.Many
			if many == nil {
				many = []*Resource{}
			}
			data = many
		} else if d.One != nil {
			data = d.One
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		out.Data = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses a top-level document, accepting both single-resource
// and collection data members.
func (d *Document) UnmarshalJSON(b []byte) error {
	var raw documentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.Included = raw.Included
	d.Errors = raw.Errors
	d.Meta = raw.Meta
	d.Links = raw.Links
	d.One = nil
	d.Many = nil
	d.HasMany = false

	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}
	switch raw.Data[0] {
	case '[':
		d.HasMany = true
		return json.Unmarshal(raw.Data, &d.Many)
	case '{':
		d.One = &Resource{}
		return json.Unmarshal(raw.Data, d.One)
	default:
		return fmt.Errorf("invalid document data member: %s", raw.Data)
	}
}

// NewOne wraps a single resource in a document.
func NewOne(r *Resource) *Document {
	return &Document{One: r}
}

// NewMany wraps a resource collection in a document.
func NewMany(rs []*Resource) *Document {
	return &Document{Many: rs, HasMany: true}
}
