package schema

import (
	"testing"
)

func TestRegisterDuplicate(t *testing.T) {
	reg := testRegistry(t)
	def := &Resource{Name: "articles"}
	if err := reg.Register(def); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(def); err == nil {
		t.Error("Register() accepted a duplicate resource name")
	}
}

func TestRegisterAfterFinalize(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if err := reg.Register(&Resource{Name: "articles"}); err == nil {
		t.Error("Register() accepted a resource after Finalize")
	}
}

func TestRegisterDeepCopies(t *testing.T) {
	def := &Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"title": {Kind: KindString},
		},
	}
	reg := testRegistry(t)
	if err := reg.Register(def); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Mutating the caller's declaration must not leak into the registry.
	def.Fields["title"].Rules.Required = true
	def.Table = "changed"

	res, _ := reg.Get("articles")
	if res.Fields["title"].Rules.Required {
		t.Error("registered resource shares field pointers with the declaration")
	}
	if res.Table == "changed" {
		t.Error("registered resource shares top-level fields with the declaration")
	}
}

func TestFinalizeUnknownTarget(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Relationships: map[string]*Relationship{
			"comments": {Kind: RelHasMany, Target: "comments", ForeignKey: "article_id"},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Finalize(); err == nil {
		t.Error("Finalize() accepted a relationship to an unregistered resource")
	}
}

func TestFinalizeUnknownThrough(t *testing.T) {
	reg := testRegistry(t)
	for _, def := range []*Resource{
		{Name: "tags"},
		{
			Name: "articles",
			Relationships: map[string]*Relationship{
				"tags": {
					Kind: RelHasManyThrough, Target: "tags",
					Through: "article_taggings", ForeignKey: "article_id", OtherKey: "tag_id",
				},
			},
		},
	} {
		if err := reg.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name, err)
		}
	}
	if err := reg.Finalize(); err == nil {
		t.Error("Finalize() accepted a through relationship via an unregistered pivot")
	}
}

func TestFinalizeUnknownPolymorphicType(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "reactions",
		Relationships: map[string]*Relationship{
			"subject": {
				Kind:      RelBelongsToPolymorphic,
				TypeField: "subject_type", IDField: "subject_id",
				Types: []string{"articles"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Finalize(); err == nil {
		t.Error("Finalize() accepted a polymorphic allow-list naming an unregistered resource")
	}
}

func TestFinalizeResolvesCycles(t *testing.T) {
	reg := testRegistry(t)
	for _, def := range []*Resource{
		{
			Name: "articles",
			Relationships: map[string]*Relationship{
				"comments": {Kind: RelHasMany, Target: "comments", ForeignKey: "article_id"},
			},
		},
		{
			Name: "comments",
			Fields: map[string]*Field{
				"article_id": {BelongsTo: &BelongsToRef{Resource: "articles", Alias: "article"}},
			},
		},
	} {
		if err := reg.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name, err)
		}
	}
	if err := reg.Finalize(); err != nil {
		t.Errorf("Finalize() error = %v on mutually referencing resources", err)
	}
}

func TestEnricherAddsFields(t *testing.T) {
	reg := testRegistry(t)
	reg.AddEnricher(func(r *Resource) error {
		r.Fields["tenant_id"] = &Field{Name: "tenant_id", Kind: KindInt}
		return nil
	})
	if err := reg.Register(&Resource{Name: "articles", Fields: map[string]*Field{}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	res, _ := reg.Get("articles")
	if !res.HasField("tenant_id") {
		t.Error("enricher field missing from compiled resource")
	}
}

func TestNames(t *testing.T) {
	reg := testRegistry(t)
	for _, name := range []string{"articles", "people"} {
		if err := reg.Register(&Resource{Name: name}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	names := reg.Names()
	if len(names) != 2 {
		t.Errorf("Names() = %v, want 2 entries", names)
	}
}
