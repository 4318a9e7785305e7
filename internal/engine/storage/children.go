package storage

import (
	"context"
	"fmt"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/txn"
)

// ChildKeys returns the ids of the rows currently pointing at a parent
// through a has-many foreign key.
func (s *Store) ChildKeys(ctx context.Context, rel *schema.Relationship, thisID string, tx *txn.Transaction) ([]string, error) {
	target, ok := s.reg.Get(rel.Target)
	if !ok {
		return nil, apierr.Configuration("unknown resource %s", rel.Target)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", target.IDField, target.Table, rel.ForeignKey)
	rows, err := s.q(tx).QueryContext(ctx, query, thisID)
	if err != nil {
		return nil, convertDBError(err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, convertDBError(err)
	}
	keys := make([]string, 0, len(records))
	for _, record := range records {
		keys = append(keys, idToString(record[target.IDField]))
	}
	return keys, nil
}

// AdoptChildren points the given child rows at a parent.
func (s *Store) AdoptChildren(ctx context.Context, rel *schema.Relationship, thisID string, ids []string, tx *txn.Transaction) error {
	if len(ids) == 0 {
		return nil
	}
	target, ok := s.reg.Get(rel.Target)
	if !ok {
		return apierr.Configuration("unknown resource %s", rel.Target)
	}
	ph := placeholders(2, len(ids))
	query := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s IN (%s)",
		target.Table, rel.ForeignKey, target.IDField, ph)
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, thisID)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.q(tx).ExecContext(ctx, query, args...); err != nil {
		return convertDBError(err)
	}
	return nil
}

// ReleaseChildren nulls the foreign key of the given child rows.
func (s *Store) ReleaseChildren(ctx context.Context, rel *schema.Relationship, thisID string, ids []string, tx *txn.Transaction) error {
	if len(ids) == 0 {
		return nil
	}
	target, ok := s.reg.Get(rel.Target)
	if !ok {
		return apierr.Configuration("unknown resource %s", rel.Target)
	}
	ph := placeholders(2, len(ids))
	query := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1 AND %s IN (%s)",
		target.Table, rel.ForeignKey, rel.ForeignKey, target.IDField, ph)
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, thisID)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.q(tx).ExecContext(ctx, query, args...); err != nil {
		return convertDBError(err)
	}
	return nil
}
