package write

import (
	"context"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/hooks"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/validate"
)

// Replace fully replaces a record. Attributes absent from the payload reset
// to their defaults; relationships reset only when the payload carried a
// relationships object at all. When the resource accepts client ids a
// replace of a missing record becomes an insert.
func (c *Coordinator) Replace(ctx context.Context, req *Request) (*Response, error) {
	op, err := c.prepare(ctx, req, access.MethodPut)
	if err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = op.doc.One.ID
	}
	resp, err := c.replace(ctx, op, id)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	return resp, nil
}

func (c *Coordinator) replace(ctx context.Context, op *operation, id string) (*Response, error) {
	if err := c.hooks.Run(ctx, hooks.BeforeProcessing, op.pc); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.BeforeSchemaValidate, op.pc); err != nil {
		return nil, err
	}

	attrs := op.pc.Record()
	fillReplacement(op.res, attrs)
	if op.relMentioned {
		clearUnmentioned(op, attrs)
	}
	if err := validate.Attributes(op.res, attrs, validate.Full); err != nil {
		return nil, err
	}
	if err := c.hooks.Run(ctx, hooks.AfterSchemaValidate, op.pc); err != nil {
		return nil, err
	}

	minimal, err := c.store.DataGetMinimal(ctx, op.res, id, op.tx)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound && op.res.Options.AllowClientIDs {
			return c.upsert(ctx, op, id)
		}
		return nil, err
	}

	if err := c.authorize(ctx, op, id, minimal); err != nil {
		return nil, err
	}
	if err := c.checkReferences(ctx, op, attrs); err != nil {
		return nil, err
	}
	if err := applySetters(op.res, attrs, false); err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, hooks.BeforeData, op.pc); err != nil {
		return nil, err
	}
	if err := c.store.DataPut(ctx, op.res, id, op.pc.Record(), op.tx); err != nil {
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

// upsert turns a replace of a missing record into an insert with the
// client-supplied id.
func (c *Coordinator) upsert(ctx context.Context, op *operation, id string) (*Response, error) {
	attrs := op.pc.Record()
	attrs[op.res.IDField] = id

	if err := c.authorize(ctx, op, "", attrs); err != nil {
		return nil, err
	}
	if err := c.checkReferences(ctx, op, attrs); err != nil {
		return nil, err
	}
	if err := applySetters(op.res, attrs, false); err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, hooks.BeforeData, op.pc); err != nil {
		return nil, err
	}
	newID, err := c.store.DataPost(ctx, op.res, op.pc.Record(), op.tx)
	if err != nil {
		return nil, err
	}
	_ = op.pc.SetValue("id", newID)
	if err := c.hooks.Run(ctx, hooks.AfterData, op.pc); err != nil {
		return nil, err
	}

	if err := c.syncToMany(ctx, op, newID); err != nil {
		return nil, err
	}

	resp, err := c.finalize(ctx, op, newID)
	if err != nil {
		return nil, err
	}
	if err := c.commit(ctx, op); err != nil {
		return nil, err
	}
	return resp, nil
}

// fillReplacement resets unsupplied persisted attributes to their defaults.
// Relationship-owned columns are skipped; clearing those is decided by the
// presence of the relationships object, not by attribute absence.
func fillReplacement(res *schema.Resource, attrs map[string]interface{}) {
	for name, f := range res.Fields {
		if !f.Persisted() || f.Computed || name == res.IDField {
			continue
		}
		if ownsRelationshipColumn(res, name) {
			continue
		}
		if _, supplied := attrs[name]; !supplied {
			attrs[name] = f.Default
		}
	}
}

// clearUnmentioned nulls the to-one columns of relationships the payload's
// relationships object left out. To-many clearing happens during sync.
func clearUnmentioned(op *operation, attrs map[string]interface{}) {
	for name, rel := range op.res.Relationships {
		if _, mentioned := op.doc.One.Relationships[name]; mentioned {
			continue
		}
		switch rel.Kind {
		case schema.RelBelongsTo:
			attrs[rel.ForeignKey] = nil
		case schema.RelBelongsToPolymorphic:
			attrs[rel.TypeField] = nil
			attrs[rel.IDField] = nil
		}
	}
}
