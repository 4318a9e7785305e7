package write

import (
	"context"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/hooks"
	"github.com/strata-api/strata/internal/engine/schema"
)

// Delete removes a record along with its pivot link rows.
func (c *Coordinator) Delete(ctx context.Context, req *Request) (*Response, error) {
	op, err := c.prepare(ctx, req, access.MethodDelete)
	if err != nil {
		return nil, err
	}
	resp, err := c.delete(ctx, op, req.ID)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	return resp, nil
}

func (c *Coordinator) delete(ctx context.Context, op *operation, id string) (*Response, error) {
	if err := c.hooks.Run(ctx, hooks.BeforeProcessing, op.pc); err != nil {
		return nil, err
	}

	minimal, err := c.store.DataGetMinimal(ctx, op.res, id, op.tx)
	if err != nil {
		return nil, err
	}
	_ = op.pc.SetRecord(minimal)
	if err := c.authorize(ctx, op, id, minimal); err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, hooks.BeforeData, op.pc); err != nil {
		return nil, err
	}
	for _, rel := range op.res.Relationships {
		if rel.Kind != schema.RelHasManyThrough {
			continue
		}
		if err := c.store.PivotClear(ctx, rel, id, op.tx); err != nil {
			return nil, err
		}
	}
	if err := c.store.DataDelete(ctx, op.res, id, op.tx); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.AfterData, op.pc); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.Finish, op.pc); err != nil {
		return nil, err
	}

	if err := c.commit(ctx, op); err != nil {
		return nil, err
	}
	return &Response{ID: id}, nil
}
