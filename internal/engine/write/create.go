package write

import (
	"context"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/hooks"
	"github.com/strata-api/strata/internal/engine/validate"
)

// Create inserts a new record. The attribute record flows through every hook
// phase; relationships sync after the row exists.
func (c *Coordinator) Create(ctx context.Context, req *Request) (*Response, error) {
	op, err := c.prepare(ctx, req, access.MethodPost)
	if err != nil {
		return nil, err
	}
	resp, err := c.create(ctx, op)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	return resp, nil
}

func (c *Coordinator) create(ctx context.Context, op *operation) (*Response, error) {
	if err := c.hooks.Run(ctx, hooks.BeforeProcessing, op.pc); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.BeforeSchemaValidate, op.pc); err != nil {
		return nil, err
	}

	attrs := op.pc.Record()
	applyDefaults(op.res, attrs)
	if err := validate.Attributes(op.res, attrs, validate.Full); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.AfterSchemaValidate, op.pc); err != nil {
		return nil, err
	}

	if err := c.authorize(ctx, op, "", attrs); err != nil {
		return nil, err
	}
	if err := c.checkReferences(ctx, op, attrs); err != nil {
		return nil, err
	}
	if err := applySetters(op.res, attrs, false); err != nil {
		return nil, err
	}
	if op.doc.One.ID != "" && op.res.Options.AllowClientIDs {
		attrs[op.res.IDField] = op.doc.One.ID
	}

	if err := c.hooks.Run(ctx, hooks.BeforeData, op.pc); err != nil {
		return nil, err
	}
	id, err := c.store.DataPost(ctx, op.res, op.pc.Record(), op.tx)
	if err != nil {
		return nil, err
	}
	_ = op.pc.SetValue("id", id)
	if err := c.hooks.Run(ctx, hooks.AfterData, op.pc); err != nil {
		return nil, err
	}

	if err := c.syncToMany(ctx, op, id); err != nil {
		return nil, err
	}

	resp, err := c.finalize(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := c.commit(ctx, op); err != nil {
		return nil, err
	}
	return resp, nil
}
