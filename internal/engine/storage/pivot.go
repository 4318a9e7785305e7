package storage

import (
	"context"
	"fmt"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/txn"
)

// pivotResource resolves the pivot behind a through relationship.
func (s *Store) pivotResource(rel *schema.Relationship) (*schema.Resource, error) {
	pivot, ok := s.reg.Get(rel.Through)
	if !ok {
		return nil, apierr.Configuration("unknown pivot resource %s", rel.Through)
	}
	return pivot, nil
}

// PivotKeys returns the other-side keys currently linked to a record.
func (s *Store) PivotKeys(ctx context.Context, rel *schema.Relationship, thisID string, tx *txn.Transaction) ([]string, error) {
	pivot, err := s.pivotResource(rel)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", rel.OtherKey, pivot.Table, rel.ForeignKey)
	rows, err := s.q(tx).QueryContext(ctx, query, thisID)
	if err != nil {
		return nil, convertDBError(err)
	}
	links, err := scanRows(rows)
	if err != nil {
		return nil, convertDBError(err)
	}
	keys := make([]string, 0, len(links))
	for _, link := range links {
		keys = append(keys, idToString(link[rel.OtherKey]))
	}
	return keys, nil
}

// PivotAttach inserts one link row per entry. Each row carries the other-side
// key plus any pivot attributes; the this-side key is filled in here.
func (s *Store) PivotAttach(ctx context.Context, rel *schema.Relationship, thisID string, rows []map[string]interface{}, tx *txn.Transaction) error {
	if len(rows) == 0 {
		return nil
	}
	pivot, err := s.pivotResource(rel)
	if err != nil {
		return err
	}
	for _, row := range rows {
		record := make(map[string]interface{}, len(row)+1)
		for k, v := range row {
			record[k] = v
		}
		record[rel.ForeignKey] = thisID
		if _, err := s.DataPost(ctx, pivot, record, tx); err != nil {
			return err
		}
	}
	return nil
}

// PivotDetach removes the link rows for the given other-side keys.
func (s *Store) PivotDetach(ctx context.Context, rel *schema.Relationship, thisID string, otherIDs []string, tx *txn.Transaction) error {
	if len(otherIDs) == 0 {
		return nil
	}
	pivot, err := s.pivotResource(rel)
	if err != nil {
		return err
	}
	ph := placeholders(2, len(otherIDs))
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s IN (%s)",
		pivot.Table, rel.ForeignKey, rel.OtherKey, ph)
	args := make([]interface{}, 0, len(otherIDs)+1)
	args = append(args, thisID)
	for _, id := range otherIDs {
		args = append(args, id)
	}
	if _, err := s.q(tx).ExecContext(ctx, query, args...); err != nil {
		return convertDBError(err)
	}
	return nil
}

// PivotClear removes every link row for a record, used when a replace clears
// an unmentioned relationship.
func (s *Store) PivotClear(ctx context.Context, rel *schema.Relationship, thisID string, tx *txn.Transaction) error {
	pivot, err := s.pivotResource(rel)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", pivot.Table, rel.ForeignKey)
	if _, err := s.q(tx).ExecContext(ctx, query, thisID); err != nil {
		return convertDBError(err)
	}
	return nil
}
