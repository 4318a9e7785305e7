package main

import (
	"strings"

	"github.com/strata-api/strata/internal/engine/schema"
)

// registerResources declares the resources this server exposes. The schema
// here is the reference blog domain; embedders swap in their own.
func registerResources(reg *schema.Registry) error {
	maxTitle := 200

	resources := []*schema.Resource{
		{
			Name:  "people",
			Table: "people",
			Fields: map[string]*schema.Field{
				"name":       {Name: "name", Kind: schema.KindString, Rules: schema.Rules{Required: true}},
				"email":      {Name: "email", Kind: schema.KindString, Visibility: schema.Hidden},
				"created_at": {Name: "created_at", Kind: schema.KindTimestamp},
			},
			Sortable: []string{"name", "created_at"},
		},
		{
			Name:  "articles",
			Table: "articles",
			Fields: map[string]*schema.Field{
				"title": {
					Name: "title", Kind: schema.KindString,
					Rules: schema.Rules{Required: true, MaxLength: &maxTitle},
				},
				"body": {Name: "body", Kind: schema.KindText},
				"status": {
					Name: "status", Kind: schema.KindString, Default: "draft", Searchable: true,
					Rules: schema.Rules{Enum: []string{"draft", "published", "archived"}},
				},
				"published_at": {Name: "published_at", Kind: schema.KindTimestamp, Nullable: true},
				"author_id": {
					Name: "author_id", Kind: schema.KindInt, Searchable: true,
					Rules:     schema.Rules{Required: true},
					BelongsTo: &schema.BelongsToRef{Resource: "people", Alias: "author"},
				},
				"word_count": {
					Name: "word_count", Kind: schema.KindInt,
					Computed: true, DependsOn: []string{"body"},
					Compute: func(record map[string]interface{}) (interface{}, error) {
						body, _ := record["body"].(string)
						if body == "" {
							return 0, nil
						}
						return len(strings.Fields(body)), nil
					},
				},
				"created_at": {Name: "created_at", Kind: schema.KindTimestamp},
			},
			Relationships: map[string]*schema.Relationship{
				"comments": {
					Kind: schema.RelHasMany, Target: "comments", ForeignKey: "article_id",
					OrderBy: "-created_at",
				},
				"tags": {
					Kind: schema.RelHasManyThrough, Target: "tags",
					Through: "article_taggings", ForeignKey: "article_id", OtherKey: "tag_id",
				},
				"reactions": {
					Kind: schema.RelHasManyPolymorphic, Target: "reactions",
					TypeField: "subject_type", IDField: "subject_id",
				},
			},
			Sortable: []string{"title", "created_at", "published_at"},
			Options: schema.Options{
				DefaultSort: "-created_at",
				CountTotal:  true,
			},
		},
		{
			Name:  "comments",
			Table: "comments",
			Fields: map[string]*schema.Field{
				"body": {Name: "body", Kind: schema.KindText, Rules: schema.Rules{Required: true}},
				"article_id": {
					Name: "article_id", Kind: schema.KindInt, Searchable: true,
					Rules:     schema.Rules{Required: true},
					BelongsTo: &schema.BelongsToRef{Resource: "articles", Alias: "article"},
				},
				"author_id": {
					Name: "author_id", Kind: schema.KindInt,
					BelongsTo: &schema.BelongsToRef{Resource: "people", Alias: "author"},
					Nullable:  true,
				},
				"created_at": {Name: "created_at", Kind: schema.KindTimestamp},
			},
			Relationships: map[string]*schema.Relationship{
				"reactions": {
					Kind: schema.RelHasManyPolymorphic, Target: "reactions",
					TypeField: "subject_type", IDField: "subject_id",
				},
			},
			Sortable: []string{"created_at"},
		},
		{
			Name:  "tags",
			Table: "tags",
			Fields: map[string]*schema.Field{
				"name": {Name: "name", Kind: schema.KindString, Rules: schema.Rules{Required: true}, Searchable: true},
			},
			Sortable: []string{"name"},
		},
		{
			Name:  "article_taggings",
			Table: "article_taggings",
			Pivot: true,
			Fields: map[string]*schema.Field{
				"article_id": {Name: "article_id", Kind: schema.KindInt},
				"tag_id":     {Name: "tag_id", Kind: schema.KindInt},
				"position":   {Name: "position", Kind: schema.KindInt, Nullable: true},
			},
		},
		{
			Name:  "reactions",
			Table: "reactions",
			Fields: map[string]*schema.Field{
				"emoji":        {Name: "emoji", Kind: schema.KindString, Rules: schema.Rules{Required: true}},
				"subject_type": {Name: "subject_type", Kind: schema.KindString},
				"subject_id":   {Name: "subject_id", Kind: schema.KindInt},
				"created_at":   {Name: "created_at", Kind: schema.KindTimestamp},
			},
			Relationships: map[string]*schema.Relationship{
				"subject": {
					Kind:      schema.RelBelongsToPolymorphic,
					TypeField: "subject_type", IDField: "subject_id",
					Types: []string{"articles", "comments"},
				},
			},
			Sortable: []string{"created_at"},
		},
	}

	for _, res := range resources {
		if err := reg.Register(res); err != nil {
			return err
		}
	}
	return reg.Finalize()
}
