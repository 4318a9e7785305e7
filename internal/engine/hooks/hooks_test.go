package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/schema"
)

func TestRunOrder(t *testing.T) {
	reg := NewRegistry()
	var calls []string

	record := func(name string) Func {
		return func(ctx context.Context, pc *Context) error {
			calls = append(calls, name)
			return nil
		}
	}
	reg.Register(BeforeData, "b", 10, record("b"))
	reg.Register(BeforeData, "a", 10, record("a"))
	reg.Register(BeforeData, "z", 1, record("z"))

	pc := NewContext(access.MethodPost, &schema.Resource{Name: "articles"})
	require.NoError(t, reg.Run(context.Background(), BeforeData, pc))

	// Ascending order, ties broken by name.
	assert.Equal(t, []string{"z", "a", "b"}, calls)
}

func TestRunMethodScoped(t *testing.T) {
	reg := NewRegistry()
	var calls []string

	reg.RegisterForMethod(BeforeData, access.MethodPost, "create-only", 0, func(ctx context.Context, pc *Context) error {
		calls = append(calls, "create-only")
		return nil
	})
	reg.Register(BeforeData, "always", 0, func(ctx context.Context, pc *Context) error {
		calls = append(calls, "always")
		return nil
	})

	pc := NewContext(access.MethodDelete, &schema.Resource{Name: "articles"})
	require.NoError(t, reg.Run(context.Background(), BeforeData, pc))
	assert.Equal(t, []string{"always"}, calls)

	calls = nil
	pc = NewContext(access.MethodPost, &schema.Resource{Name: "articles"})
	require.NoError(t, reg.Run(context.Background(), BeforeData, pc))
	assert.Equal(t, []string{"always", "create-only"}, calls)
}

func TestRunAbortsOnError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	var secondRan bool

	reg.Register(BeforeData, "first", 0, func(ctx context.Context, pc *Context) error {
		return boom
	})
	reg.Register(BeforeData, "second", 1, func(ctx context.Context, pc *Context) error {
		secondRan = true
		return nil
	})

	pc := NewContext(access.MethodGet, &schema.Resource{Name: "articles"})
	assert.ErrorIs(t, reg.Run(context.Background(), BeforeData, pc), boom)
	assert.False(t, secondRan)
}

func TestContextRecordMutation(t *testing.T) {
	pc := NewContext(access.MethodPatch, &schema.Resource{Name: "articles"})

	require.NoError(t, pc.SetRecord(map[string]interface{}{"title": "x"}))
	require.NoError(t, pc.SetValue("status", "draft"))
	assert.Equal(t, "draft", pc.Record()["status"])
}

func TestFinishSealsRecord(t *testing.T) {
	reg := NewRegistry()
	var sawCopy map[string]interface{}
	reg.Register(Finish, "observer", 0, func(ctx context.Context, pc *Context) error {
		sawCopy = pc.Record()
		sawCopy["injected"] = true
		return pc.SetValue("injected", true)
	})

	pc := NewContext(access.MethodPost, &schema.Resource{Name: "articles"})
	require.NoError(t, pc.SetRecord(map[string]interface{}{"title": "x"}))

	err := reg.Run(context.Background(), Finish, pc)
	assert.ErrorIs(t, err, ErrSealed)

	// The handler's copy mutation did not reach the sealed record.
	assert.NotContains(t, pc.Record(), "injected")
	assert.Equal(t, "x", sawCopy["title"])

	assert.ErrorIs(t, pc.SetRecord(nil), ErrSealed)
}

func TestPhaseNames(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{BeforeProcessing, "beforeProcessing"},
		{BeforeSchemaValidate, "beforeSchemaValidate"},
		{AfterSchemaValidate, "afterSchemaValidate"},
		{CheckPermissions, "checkPermissions"},
		{BeforeData, "beforeData"},
		{AfterData, "afterDataCall"},
		{EnrichRecord, "enrichRecord"},
		{EnrichAttributes, "enrichAttributes"},
		{Finish, "finish"},
		{AfterCommit, "afterCommit"},
		{AfterRollback, "afterRollback"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.phase.String())
	}
}
