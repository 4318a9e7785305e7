// Package engine exposes the six resource operations over a compiled schema
// registry: query, get, create, replace, update, and delete.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/hooks"
	"github.com/strata-api/strata/internal/engine/plan"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/storage"
	"github.com/strata-api/strata/internal/engine/txn"
	"github.com/strata-api/strata/internal/engine/write"
	"github.com/strata-api/strata/internal/jsonapi"
)

// Engine runs requests against the registered resources.
type Engine struct {
	store  *storage.Store
	reg    *schema.Registry
	gate   access.Gate
	hooks  *hooks.Registry
	writes *write.Coordinator
	log    *zap.Logger
}

// New assembles an engine over a store. A nil gate allows everything and a
// nil hook registry dispatches nothing.
func New(store *storage.Store, gate access.Gate, hookReg *hooks.Registry, log *zap.Logger) *Engine {
	if gate == nil {
		gate = access.AllowAll{}
	}
	if hookReg == nil {
		hookReg = hooks.NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:  store,
		reg:    store.Registry(),
		gate:   gate,
		hooks:  hookReg,
		writes: write.NewCoordinator(store, gate, hookReg, log),
		log:    log,
	}
}

// Hooks exposes the hook registry for startup registration.
func (e *Engine) Hooks() *hooks.Registry {
	return e.hooks
}

// Registry exposes the compiled schema registry.
func (e *Engine) Registry() *schema.Registry {
	return e.reg
}

// QueryResult carries a collection document plus the pagination facts the
// transport needs to build links.
type QueryResult struct {
	Document *jsonapi.Document
	Total    *int
	Limit    int
	Offset   int
}

// Query runs a filtered, sorted, paginated collection read. A non-nil tx
// runs the read inside the caller's transaction; the caller commits.
func (e *Engine) Query(ctx context.Context, resource string, params plan.Params, auth access.Auth, tx *txn.Transaction) (*QueryResult, error) {
	res, ok := e.reg.Get(resource)
	if !ok {
		return nil, apierr.NotFound("unknown resource type %s", resource)
	}

	pc := hooks.NewContext(access.MethodQuery, res)
	pc.Params = &params
	pc.Auth = auth
	if err := e.hooks.Run(ctx, hooks.BeforeProcessing, pc); err != nil {
		return nil, err
	}

	p, err := plan.Build(e.reg, res, params)
	if err != nil {
		return nil, err
	}
	pc.Filter = &p.Filter

	check := access.Check{Method: access.MethodQuery, Resource: res, Auth: auth}
	if err := e.gate.Check(ctx, check); err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.CheckPermissions, pc); err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.BeforeData, pc); err != nil {
		return nil, err
	}

	result, err := e.store.DataQuery(ctx, p, tx)
	if err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.AfterData, pc); err != nil {
		return nil, err
	}

	doc, err := e.store.BuildCollectionDocument(p, result)
	if err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.Finish, pc); err != nil {
		return nil, err
	}
	return &QueryResult{
		Document: doc,
		Total:    result.Total,
		Limit:    p.Page.Limit,
		Offset:   p.Page.Offset,
	}, nil
}

// Get reads a single record. The permission gate sees the minimal record so
// row-level policies run before the full fetch. A non-nil tx runs both
// fetches inside the caller's transaction; the caller commits.
func (e *Engine) Get(ctx context.Context, resource, id string, params plan.Params, auth access.Auth, tx *txn.Transaction) (*jsonapi.Document, error) {
	res, ok := e.reg.Get(resource)
	if !ok {
		return nil, apierr.NotFound("unknown resource type %s", resource)
	}

	pc := hooks.NewContext(access.MethodGet, res)
	pc.Params = &params
	pc.Auth = auth
	if err := e.hooks.Run(ctx, hooks.BeforeProcessing, pc); err != nil {
		return nil, err
	}

	minimal, err := e.store.DataGetMinimal(ctx, res, id, tx)
	if err != nil {
		return nil, err
	}
	check := access.Check{Method: access.MethodGet, Resource: res, ID: id, Record: minimal, Auth: auth}
	if err := e.gate.Check(ctx, check); err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.CheckPermissions, pc); err != nil {
		return nil, err
	}

	p, err := plan.Build(e.reg, res, params)
	if err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.BeforeData, pc); err != nil {
		return nil, err
	}

	record, err := e.store.DataGet(ctx, p, id, tx)
	if err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.AfterData, pc); err != nil {
		return nil, err
	}

	_ = pc.SetRecord(record)
	if err := e.hooks.Run(ctx, hooks.EnrichRecord, pc); err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.EnrichAttributes, pc); err != nil {
		return nil, err
	}
	if err := e.hooks.Run(ctx, hooks.Finish, pc); err != nil {
		return nil, err
	}
	return e.store.BuildSingleDocument(p, pc.Record())
}

// Create inserts a record.
func (e *Engine) Create(ctx context.Context, req *write.Request) (*write.Response, error) {
	return e.writes.Create(ctx, req)
}

// Replace fully replaces a record.
func (e *Engine) Replace(ctx context.Context, req *write.Request) (*write.Response, error) {
	return e.writes.Replace(ctx, req)
}

// Update partially updates a record.
func (e *Engine) Update(ctx context.Context, req *write.Request) (*write.Response, error) {
	return e.writes.Update(ctx, req)
}

// Delete removes a record.
func (e *Engine) Delete(ctx context.Context, req *write.Request) (*write.Response, error) {
	return e.writes.Delete(ctx, req)
}
