package write

import (
	"context"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/hooks"
	"github.com/strata-api/strata/internal/engine/validate"
)

// Update applies a partial update: only supplied attributes are validated
// and written, and only mentioned relationships are synced.
func (c *Coordinator) Update(ctx context.Context, req *Request) (*Response, error) {
	op, err := c.prepare(ctx, req, access.MethodPatch)
	if err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = op.doc.One.ID
	}
	resp, err := c.update(ctx, op, id)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	return resp, nil
}

func (c *Coordinator) update(ctx context.Context, op *operation, id string) (*Response, error) {
	if err := c.hooks.Run(ctx, hooks.BeforeProcessing, op.pc); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.BeforeSchemaValidate, op.pc); err != nil {
		return nil, err
	}

	attrs := op.pc.Record()
	if err := validate.Attributes(op.res, attrs, validate.Partial); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.AfterSchemaValidate, op.pc); err != nil {
		return nil, err
	}

	minimal, err := c.store.DataGetMinimal(ctx, op.res, id, op.tx)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, op, id, minimal); err != nil {
		return nil, err
	}
	if err := c.checkReferences(ctx, op, attrs); err != nil {
		return nil, err
	}
	if err := applySetters(op.res, attrs, true); err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, hooks.BeforeData, op.pc); err != nil {
		return nil, err
	}
	record := op.pc.Record()
	if len(record) > 0 {
		if err := c.store.DataPatch(ctx, op.res, id, record, op.tx); err != nil {
			return nil, err
		}
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
