package write

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/jsonapi"
)

func payloadResource(t *testing.T, strict bool) *schema.Resource {
	t.Helper()
	reg := schema.NewRegistry(schema.Options{})
	for _, def := range []*schema.Resource{
		{Name: "people"},
		{Name: "comments"},
		{Name: "tags"},
		{Name: "article_taggings", Pivot: true},
		{Name: "reactions"},
		{
			Name:   "articles",
			IDKind: schema.KindInt,
			Fields: map[string]*schema.Field{
				"title": {Kind: schema.KindString},
				"word_count": {
					Kind: schema.KindInt, Computed: true,
					Compute: func(record map[string]interface{}) (interface{}, error) {
						return 0, nil
					},
				},
				"author_id": {
					Nullable:  true,
					BelongsTo: &schema.BelongsToRef{Resource: "people", Alias: "author"},
				},
				"subject_type": {Kind: schema.KindString},
				"subject_id":   {Kind: schema.KindInt},
			},
			Relationships: map[string]*schema.Relationship{
				"tags": {
					Kind: schema.RelHasManyThrough, Target: "tags",
					Through: "article_taggings", ForeignKey: "article_id", OtherKey: "tag_id",
				},
				"subject": {
					Kind:      schema.RelBelongsToPolymorphic,
					TypeField: "subject_type", IDField: "subject_id",
					Types: []string{"people"},
				},
				"reactions": {
					Kind: schema.RelHasManyPolymorphic, Target: "reactions",
					TypeField: "subject_type", IDField: "subject_id",
				},
			},
			Options: schema.Options{StrictAttributes: strict},
		},
	} {
		require.NoError(t, reg.Register(def))
	}
	require.NoError(t, reg.Finalize())
	res, _ := reg.Get("articles")
	return res
}

func TestSplitPayload(t *testing.T) {
	res := payloadResource(t, false)
	doc := jsonapi.NewOne(&jsonapi.Resource{
		Type:       "articles",
		Attributes: map[string]interface{}{"title": "Hello"},
		Relationships: map[string]*jsonapi.Relationship{
			"author": {One: &jsonapi.Identifier{Type: "people", ID: "7"}},
			"tags": {ToMany: true, Many: []jsonapi.Identifier{
				{Type: "tags", ID: "100"},
				{Type: "tags", ID: "101"},
			}},
		},
	})

	attrs, toMany, mentioned, _, err := splitPayload(res, doc)
	require.NoError(t, err)
	assert.True(t, mentioned)
	assert.Equal(t, "Hello", attrs["title"])
	assert.Equal(t, "7", attrs["author_id"])
	assert.Equal(t, []string{"100", "101"}, toMany["tags"])
}

func TestSplitPayloadDropsComputedAttributes(t *testing.T) {
	res := payloadResource(t, false)
	doc := jsonapi.NewOne(&jsonapi.Resource{
		Type: "articles",
		Attributes: map[string]interface{}{
			"title":      "Hello",
			"word_count": 9000,
		},
	})

	attrs, _, _, dropped, err := splitPayload(res, doc)
	require.NoError(t, err)
	assert.Equal(t, "Hello", attrs["title"])
	assert.NotContains(t, attrs, "word_count")
	assert.Equal(t, []string{"word_count"}, dropped)
}

func TestSplitPayloadNullBelongsTo(t *testing.T) {
	res := payloadResource(t, false)
	doc := jsonapi.NewOne(&jsonapi.Resource{
		Type: "articles",
		Relationships: map[string]*jsonapi.Relationship{
			"author": {},
		},
	})

	attrs, _, mentioned, _, err := splitPayload(res, doc)
	require.NoError(t, err)
	assert.True(t, mentioned)
	value, supplied := attrs["author_id"]
	assert.True(t, supplied)
	assert.Nil(t, value)
}

func TestSplitPayloadNoRelationships(t *testing.T) {
	res := payloadResource(t, false)
	doc := jsonapi.NewOne(&jsonapi.Resource{
		Type:       "articles",
		Attributes: map[string]interface{}{"title": "x"},
	})

	_, _, mentioned, _, err := splitPayload(res, doc)
	require.NoError(t, err)
	assert.False(t, mentioned)
}

func TestSplitPayloadPolymorphic(t *testing.T) {
	res := payloadResource(t, false)
	doc := jsonapi.NewOne(&jsonapi.Resource{
		Type: "articles",
		Relationships: map[string]*jsonapi.Relationship{
			"subject": {One: &jsonapi.Identifier{Type: "people", ID: "3"}},
		},
	})

	attrs, _, _, _, err := splitPayload(res, doc)
	require.NoError(t, err)
	assert.Equal(t, "people", attrs["subject_type"])
	assert.Equal(t, "3", attrs["subject_id"])

	// A type outside the allow-list is rejected.
	doc.One.Relationships["subject"].One.Type = "comments"
	_, _, _, _, err = splitPayload(res, doc)
	require.Error(t, err)
	e, _ := apierr.As(err)
	assert.Equal(t, "type_not_allowed", e.Violations[0].Rule)
}

func TestSplitPayloadViolations(t *testing.T) {
	res := payloadResource(t, false)

	tests := []struct {
		name string
		rels map[string]*jsonapi.Relationship
		rule string
	}{
		{
			name: "unknown relationship",
			rels: map[string]*jsonapi.Relationship{"bogus": {}},
			rule: "unknown_relationship",
		},
		{
			name: "belongs-to type mismatch",
			rels: map[string]*jsonapi.Relationship{
				"author": {One: &jsonapi.Identifier{Type: "tags", ID: "1"}},
			},
			rule: "type_mismatch",
		},
		{
			name: "to-many type mismatch",
			rels: map[string]*jsonapi.Relationship{
				"tags": {ToMany: true, Many: []jsonapi.Identifier{{Type: "people", ID: "1"}}},
			},
			rule: "type_mismatch",
		},
		{
			name: "inverse polymorphic not writable",
			rels: map[string]*jsonapi.Relationship{
				"reactions": {ToMany: true},
			},
			rule: "not_writable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := jsonapi.NewOne(&jsonapi.Resource{Type: "articles", Relationships: tt.rels})
			_, _, _, _, err := splitPayload(res, doc)
			require.Error(t, err)
			e, ok := apierr.As(err)
			require.True(t, ok)
			require.NotEmpty(t, e.Violations)
			assert.Equal(t, tt.rule, e.Violations[0].Rule)
		})
	}
}

func TestSplitPayloadStrictAttributes(t *testing.T) {
	res := payloadResource(t, true)
	doc := jsonapi.NewOne(&jsonapi.Resource{
		Type:       "articles",
		Attributes: map[string]interface{}{"author_id": "7"},
	})

	_, _, _, _, err := splitPayload(res, doc)
	require.Error(t, err)
	e, _ := apierr.As(err)
	assert.Equal(t, "relationship_column", e.Violations[0].Rule)

	// Without strict mode the foreign key passes through as an attribute.
	loose := payloadResource(t, false)
	attrs, _, _, _, err := splitPayload(loose, doc)
	require.NoError(t, err)
	assert.Equal(t, "7", attrs["author_id"])
}

func TestDiffKeys(t *testing.T) {
	tests := []struct {
		name    string
		current []string
		desired []string
		add     []string
		remove  []string
	}{
		{"disjoint", []string{"1"}, []string{"2"}, []string{"2"}, []string{"1"}},
		{"intersection kept", []string{"1", "2"}, []string{"2", "3"}, []string{"3"}, []string{"1"}},
		{"identical", []string{"1", "2"}, []string{"1", "2"}, nil, nil},
		{"clear", []string{"1", "2"}, nil, nil, []string{"1", "2"}},
		{"from empty", nil, []string{"1"}, []string{"1"}, nil},
		{"duplicate desired", nil, []string{"1", "1"}, []string{"1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			add, remove := diffKeys(tt.current, tt.desired)
			assert.Equal(t, tt.add, add)
			assert.Equal(t, tt.remove, remove)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	res := &schema.Resource{
		Name: "articles",
		Fields: map[string]*schema.Field{
			"status": {Name: "status", Default: "draft"},
			"title":  {Name: "title"},
		},
		IDField: "id",
	}

	attrs := map[string]interface{}{"title": "x"}
	applyDefaults(res, attrs)
	assert.Equal(t, "draft", attrs["status"])

	attrs = map[string]interface{}{"status": "published"}
	applyDefaults(res, attrs)
	assert.Equal(t, "published", attrs["status"])
}

func TestApplySetters(t *testing.T) {
	reg := schema.NewRegistry(schema.Options{})
	require.NoError(t, reg.Register(&schema.Resource{
		Name: "articles",
		Fields: map[string]*schema.Field{
			"title": {Kind: schema.KindString},
			"slug": {
				Kind:       schema.KindString,
				SetterDeps: []string{"title"},
				Setter: func(value interface{}, record map[string]interface{}) (interface{}, error) {
					if value != nil {
						return value, nil
					}
					title, _ := record["title"].(string)
					return "slug-of-" + title, nil
				},
			},
		},
	}))
	res, _ := reg.Get("articles")

	attrs := map[string]interface{}{"title": "Hello"}
	require.NoError(t, applySetters(res, attrs, false))
	assert.Equal(t, "slug-of-Hello", attrs["slug"])

	// Partial mode leaves unsupplied fields alone.
	attrs = map[string]interface{}{"title": "Hello"}
	require.NoError(t, applySetters(res, attrs, true))
	assert.NotContains(t, attrs, "slug")
}
