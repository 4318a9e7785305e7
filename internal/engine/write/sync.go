package write

import (
	"context"

	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/schema"
)

// syncToMany reconciles every writable to-many relationship against the
// requested linkage. Links present on both sides are left untouched, so
// pivot attributes survive a re-sync. On a replace whose payload carried a
// relationships object, unmentioned relationships are cleared.
func (c *Coordinator) syncToMany(ctx context.Context, op *operation, id string) error {
	for name, rel := range op.res.Relationships {
		if !rel.Kind.ToMany() || rel.Kind == schema.RelHasManyPolymorphic {
			continue
		}
		desired, mentioned := op.toMany[name]
		if !mentioned {
			if op.method == access.MethodPut && op.relMentioned {
				desired = nil
			} else {
				continue
			}
		}

		switch rel.Kind {
		case schema.RelHasManyThrough:
			current, err := c.store.PivotKeys(ctx, rel, id, op.tx)
			if err != nil {
				return err
			}
			add, remove := diffKeys(current, desired)
			if err := c.store.PivotDetach(ctx, rel, id, remove, op.tx); err != nil {
				return err
			}
			rows := make([]map[string]interface{}, 0, len(add))
			for _, otherID := range add {
				rows = append(rows, map[string]interface{}{rel.OtherKey: otherID})
			}
			if err := c.store.PivotAttach(ctx, rel, id, rows, op.tx); err != nil {
				return err
			}
		case schema.RelHasMany:
			current, err := c.store.ChildKeys(ctx, rel, id, op.tx)
			if err != nil {
				return err
			}
			add, remove := diffKeys(current, desired)
			if err := c.store.ReleaseChildren(ctx, rel, id, remove, op.tx); err != nil {
				return err
			}
			if err := c.store.AdoptChildren(ctx, rel, id, add, op.tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// diffKeys splits the desired set against the current one: add is desired
// minus current, remove is current minus desired. The intersection is kept.
func diffKeys(current, desired []string) (add, remove []string) {
	currentSet := make(map[string]bool, len(current))
	for _, k := range current {
		currentSet[k] = true
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, k := range desired {
		if desiredSet[k] {
			continue
		}
		desiredSet[k] = true
		if !currentSet[k] {
			add = append(add, k)
		}
	}
	for _, k := range current {
		if !desiredSet[k] {
			remove = append(remove, k)
		}
	}
	return add, remove
}
