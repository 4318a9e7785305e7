package schema

import (
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(Options{})
}

func TestCompileDefaults(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"title": {Kind: KindString},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, ok := reg.Get("articles")
	if !ok {
		t.Fatal("Get() did not find registered resource")
	}
	if res.Table != "articles" {
		t.Errorf("Table = %q, want %q", res.Table, "articles")
	}
	if res.IDField != "id" {
		t.Errorf("IDField = %q, want %q", res.IDField, "id")
	}
	if res.Fields["title"].Name != "title" {
		t.Errorf("field name not backfilled from map key: %q", res.Fields["title"].Name)
	}
	if !res.Compiled() {
		t.Error("Compiled() = false after registration")
	}
	if res.Options.DefaultPageSize != 25 || res.Options.MaxPageSize != 100 || res.Options.MaxIncludeDepth != 3 {
		t.Errorf("engine defaults not applied: %+v", res.Options)
	}
}

func TestCompileRejectsMissingName(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.Register(&Resource{}); err == nil {
		t.Error("Register() accepted a resource with no name")
	}
}

func TestCompileComputedNeedsFunc(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"word_count": {Kind: KindInt, Computed: true},
		},
	})
	if err == nil {
		t.Error("Register() accepted a computed field without a compute function")
	}
}

func TestCompileInvalidPattern(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"slug": {Kind: KindString, Rules: Rules{Pattern: "("}},
		},
	})
	if err == nil {
		t.Error("Register() accepted an invalid pattern")
	}
}

func TestCompilePatternCompiled(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"slug": {Kind: KindString, Rules: Rules{Pattern: "^[a-z-]+$"}},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	res, _ := reg.Get("articles")
	re := res.Fields["slug"].Rules.PatternRegexp()
	if re == nil {
		t.Fatal("pattern was not compiled")
	}
	if !re.MatchString("hello-world") {
		t.Error("compiled pattern rejects a valid slug")
	}
	if re.MatchString("Hello") {
		t.Error("compiled pattern accepts an invalid slug")
	}
}

func TestBelongsToSynthesis(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name:   "articles",
		IDKind: KindInt,
		Fields: map[string]*Field{
			"author_id": {BelongsTo: &BelongsToRef{Resource: "people", Alias: "author"}},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, _ := reg.Get("articles")
	rel, ok := res.Relationship("author")
	if !ok {
		t.Fatal("belongs-to was not lifted into the relationship table")
	}
	if rel.Kind != RelBelongsTo {
		t.Errorf("Kind = %v, want RelBelongsTo", rel.Kind)
	}
	if rel.Target != "people" {
		t.Errorf("Target = %q, want people", rel.Target)
	}
	if rel.ForeignKey != "author_id" {
		t.Errorf("ForeignKey = %q, want author_id", rel.ForeignKey)
	}
	if res.Fields["author_id"].Kind != KindInt {
		t.Errorf("belongs-to field did not inherit id kind: %v", res.Fields["author_id"].Kind)
	}
	if f := res.BelongsToField("author"); f == nil || f.Name != "author_id" {
		t.Errorf("BelongsToField(author) = %v", f)
	}
}

func TestBelongsToMissingAlias(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"author_id": {BelongsTo: &BelongsToRef{Resource: "people"}},
		},
	})
	if err == nil {
		t.Error("Register() accepted a belongs-to with no alias")
	}
}

func TestBelongsToNameCollision(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"author_id": {BelongsTo: &BelongsToRef{Resource: "people", Alias: "author"}},
		},
		Relationships: map[string]*Relationship{
			"author": {Kind: RelHasMany, Target: "comments", ForeignKey: "article_id"},
		},
	})
	if err == nil {
		t.Error("Register() accepted a relationship name declared twice")
	}
}

func TestPolymorphicValidation(t *testing.T) {
	tests := []struct {
		name string
		rel  *Relationship
	}{
		{
			name: "belongs-to polymorphic without types",
			rel:  &Relationship{Kind: RelBelongsToPolymorphic, TypeField: "subject_type", IDField: "subject_id"},
		},
		{
			name: "belongs-to polymorphic without columns",
			rel:  &Relationship{Kind: RelBelongsToPolymorphic, Types: []string{"articles"}},
		},
		{
			name: "has-many polymorphic without columns",
			rel:  &Relationship{Kind: RelHasManyPolymorphic, Target: "reactions"},
		},
		{
			name: "has-many without foreign key",
			rel:  &Relationship{Kind: RelHasMany, Target: "comments"},
		},
		{
			name: "through without other key",
			rel:  &Relationship{Kind: RelHasManyThrough, Target: "tags", Through: "taggings", ForeignKey: "article_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := testRegistry(t)
			err := reg.Register(&Resource{
				Name:          "articles",
				Relationships: map[string]*Relationship{"bad": tt.rel},
			})
			if err == nil {
				t.Error("Register() accepted an invalid relationship declaration")
			}
		})
	}
}

func TestSearchSynthesis(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"status":       {Kind: KindString, Searchable: true},
			"published_at": {Kind: KindTimestamp},
		},
		Search: map[string]*SearchDecl{
			"title": {Operator: OpLike},
			"published_at": {
				Filters: []SearchFilter{
					{Name: "published_after", Operator: OpGte},
					{Name: "published_before", Operator: OpLte},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, _ := reg.Get("articles")
	fields := res.SearchFields()

	if sf := fields["status"]; sf == nil || sf.Operator != OpEq {
		t.Errorf("searchable field not synthesized with = : %+v", sf)
	}
	if sf := fields["title"]; sf == nil || sf.Operator != OpLike {
		t.Errorf("single-operator declaration: %+v", sf)
	}
	after := fields["published_after"]
	if after == nil || after.Operator != OpGte || after.Field != "published_at" {
		t.Errorf("multi-filter expansion: %+v", after)
	}
	before := fields["published_before"]
	if before == nil || before.Operator != OpLte || before.Field != "published_at" {
		t.Errorf("multi-filter expansion: %+v", before)
	}
}

func TestSetterOrder(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"slug":  {Kind: KindString, SetterDeps: []string{"title"}},
			"title": {Kind: KindString},
			"body":  {Kind: KindText},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, _ := reg.Get("articles")
	order := res.SetterOrder()

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	if pos["title"] > pos["slug"] {
		t.Errorf("setter order does not respect dependencies: %v", order)
	}
	if len(order) != 3 {
		t.Errorf("setter order missing fields: %v", order)
	}
}

func TestSetterOrderCycle(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"a": {Kind: KindString, SetterDeps: []string{"b"}},
			"b": {Kind: KindString, SetterDeps: []string{"a"}},
		},
	})
	if err == nil {
		t.Error("Register() accepted a setter dependency cycle")
	}
}

func TestSetterOrderUnknownDep(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(&Resource{
		Name: "articles",
		Fields: map[string]*Field{
			"slug": {Kind: KindString, SetterDeps: []string{"missing"}},
		},
	})
	if err == nil {
		t.Error("Register() accepted a setter dependency on an unknown field")
	}
}
