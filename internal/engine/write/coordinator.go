// Package write coordinates the mutating operations: payload decoding,
// validation, permission checks, relationship sync, and transaction
// ownership around the data calls.
package write

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/codec"
	"github.com/strata-api/strata/internal/engine/hooks"
	"github.com/strata-api/strata/internal/engine/plan"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/storage"
	"github.com/strata-api/strata/internal/engine/txn"
	"github.com/strata-api/strata/internal/engine/validate"
	"github.com/strata-api/strata/internal/jsonapi"
)

// Coordinator runs the write side of the engine.
type Coordinator struct {
	store *storage.Store
	reg   *schema.Registry
	gate  access.Gate
	hooks *hooks.Registry
	log   *zap.Logger
}

// NewCoordinator wires a coordinator over the store.
func NewCoordinator(store *storage.Store, gate access.Gate, hookReg *hooks.Registry, log *zap.Logger) *Coordinator {
	if gate == nil {
		gate = access.AllowAll{}
	}
	if hookReg == nil {
		hookReg = hooks.NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{store: store, reg: store.Registry(), gate: gate, hooks: hookReg, log: log}
}

// Request is one write request.
type Request struct {
	Resource string
	// ID is the id from the request path; empty for POST.
	ID string
	// Body is the decoded request body, in either document or simplified form.
	Body map[string]interface{}
	// Params drive the re-read when the resource returns the full record.
	Params plan.Params
	Auth   access.Auth
	// Tx, when set, makes the caller the transaction owner: the coordinator
	// neither commits nor rolls back.
	Tx *txn.Transaction
	// Return overrides the configured return mode when the resource allows it.
	Return *schema.ReturnMode
	Meta   map[string]interface{}
}

// Response is the outcome of a write. Document is nil when the resolved
// return mode is none.
type Response struct {
	ID       string
	Document *jsonapi.Document
}

// operation is the per-request working state.
type operation struct {
	res          *schema.Resource
	method       access.Method
	doc          *jsonapi.Document
	toMany       map[string][]string
	relMentioned bool
	tx           *txn.Transaction
	shouldCommit bool
	ret          schema.ReturnMode
	pc           *hooks.Context
	params       plan.Params
	auth         access.Auth
}

// prepare decodes and structurally validates the payload, resolves the
// return mode, and establishes transaction ownership.
func (c *Coordinator) prepare(ctx context.Context, req *Request, method access.Method) (*operation, error) {
	res, ok := c.reg.Get(req.Resource)
	if !ok {
		return nil, apierr.NotFound("unknown resource type %s", req.Resource)
	}

	op := &operation{
		res:    res,
		method: method,
		ret:    res.Options.ReturnRecord,
		params: req.Params,
		auth:   req.Auth,
	}
	if req.Return != nil && res.Options.AllowReturnOverride {
		op.ret = *req.Return
	}

	if method != access.MethodDelete {
		doc, err := codec.DecodeBody(res, req.Body)
		if err != nil {
			return nil, err
		}
		if err := validate.Document(res, doc, method, req.ID); err != nil {
			return nil, err
		}
		op.doc = doc
		attrs, toMany, mentioned, dropped, err := splitPayload(res, doc)
		if err != nil {
			return nil, err
		}
		for _, name := range dropped {
			c.log.Warn("computed attribute ignored in write payload",
				zap.String("resource", res.Name),
				zap.String("field", name))
		}
		op.toMany = toMany
		op.relMentioned = mentioned
		op.pc = hooks.NewContext(method, res)
		_ = op.pc.SetRecord(attrs)
	} else {
		op.pc = hooks.NewContext(method, res)
	}
	op.pc.Auth = req.Auth
	op.pc.Params = &op.params
	if req.Meta != nil {
		op.pc.Meta = req.Meta
	}

	if req.Tx != nil {
		op.tx = req.Tx
	} else {
		tx, err := c.store.NewTransaction(ctx)
		if err != nil {
			return nil, apierr.Internal(err)
		}
		op.tx = tx
		op.shouldCommit = true
	}
	op.pc.Tx = op.tx
	return op, nil
}

// fail rolls back an owned transaction and runs the rollback hooks. For a
// caller-owned transaction the error simply propagates; the owner decides.
func (c *Coordinator) fail(ctx context.Context, op *operation, err error) error {
	if op.shouldCommit {
		if rbErr := op.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, txn.ErrAlreadyFinished) {
			c.log.Error("rollback failed", zap.Error(rbErr))
		}
		if hErr := c.hooks.Run(ctx, hooks.AfterRollback, op.pc); hErr != nil {
			c.log.Error("afterRollback hook failed", zap.Error(hErr))
		}
	}
	return err
}

// commit commits an owned transaction and runs the commit hooks.
func (c *Coordinator) commit(ctx context.Context, op *operation) error {
	if !op.shouldCommit {
		return nil
	}
	if err := op.tx.Commit(); err != nil {
		return apierr.Internal(err)
	}
	if err := c.hooks.Run(ctx, hooks.AfterCommit, op.pc); err != nil {
		c.log.Error("afterCommit hook failed", zap.Error(err))
	}
	return nil
}

// finalize produces the response for the resolved return mode. The full
// re-read happens inside the transaction so the response reflects the write.
func (c *Coordinator) finalize(ctx context.Context, op *operation, id string) (*Response, error) {
	switch op.ret {
	case schema.ReturnNone:
		if err := c.hooks.Run(ctx, hooks.Finish, op.pc); err != nil {
			return nil, err
		}
		return &Response{ID: id}, nil
	case schema.ReturnMinimal:
		if err := c.hooks.Run(ctx, hooks.Finish, op.pc); err != nil {
			return nil, err
		}
		return &Response{
			ID:       id,
			Document: jsonapi.NewOne(&jsonapi.Resource{Type: op.res.Name, ID: id}),
		}, nil
	}

	p, err := plan.Build(c.reg, op.res, op.params)
	if err != nil {
		return nil, err
	}
	record, err := c.store.DataGet(ctx, p, id, op.tx)
	if err != nil {
		return nil, err
	}
	_ = op.pc.SetRecord(record)
	if err := c.hooks.Run(ctx, hooks.EnrichRecord, op.pc); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.EnrichAttributes, op.pc); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.Finish, op.pc); err != nil {
		return nil, err
	}
	doc, err := c.store.BuildSingleDocument(p, op.pc.Record())
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, Document: doc}, nil
}

// authorize fetches the minimal record for row-level policies and runs the
// gate plus the permission hooks.
func (c *Coordinator) authorize(ctx context.Context, op *operation, id string, record map[string]interface{}) error {
	check := access.Check{
		Method:   op.method,
		Resource: op.res,
		ID:       id,
		Record:   record,
		Auth:     op.auth,
	}
	if err := c.gate.Check(ctx, check); err != nil {
		return err
	}
	return c.hooks.Run(ctx, hooks.CheckPermissions, op.pc)
}
