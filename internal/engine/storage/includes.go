package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/plan"
	"github.com/strata-api/strata/internal/engine/schema"
)

// expandIncludes walks the include tree and attaches related records to
// their parents. Each node costs at most one batched query (plus one pivot
// query for through relationships); nested includes recurse on the fetched
// children.
func (s *Store) expandIncludes(
	ctx context.Context,
	q Querier,
	records []map[string]interface{},
	res *schema.Resource,
	tree map[string]*plan.IncludeNode,
	fields map[string][]string,
) error {
	if len(records) == 0 || len(tree) == 0 {
		return nil
	}
	for _, node := range tree {
		var (
			children []map[string]interface{}
			target   *schema.Resource
			err      error
		)
		switch node.Rel.Kind {
		case schema.RelBelongsTo:
			children, target, err = s.expandBelongsTo(ctx, q, records, node, fields)
		case schema.RelHasMany:
			children, target, err = s.expandHasMany(ctx, q, records, node, fields)
		case schema.RelHasManyThrough:
			children, target, err = s.expandThrough(ctx, q, records, node, fields)
		case schema.RelBelongsToPolymorphic:
			err = s.expandPolymorphic(ctx, q, records, node, fields)
		case schema.RelHasManyPolymorphic:
			children, target, err = s.expandHasManyPolymorphic(ctx, q, records, res, node, fields)
		default:
			err = apierr.Configuration("relationship %s has unsupported kind %s", node.Name, node.Rel.Kind)
		}
		if err != nil {
			return err
		}
		if len(node.Children) > 0 && target != nil {
			if err := s.expandIncludes(ctx, q, children, target, node.Children, fields); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) targetSelection(target *schema.Resource, fields map[string][]string) (plan.Selection, error) {
	return plan.BuildSelection(target, fields)
}

func (s *Store) expandBelongsTo(
	ctx context.Context,
	q Querier,
	records []map[string]interface{},
	node *plan.IncludeNode,
	fields map[string][]string,
) ([]map[string]interface{}, *schema.Resource, error) {
	target, ok := s.reg.Get(node.Rel.Target)
	if !ok {
		return nil, nil, apierr.Configuration("unknown resource %s", node.Rel.Target)
	}
	ids := collectValues(records, node.Rel.ForeignKey)
	if len(ids) == 0 {
		return nil, target, nil
	}
	sel, err := s.targetSelection(target, fields)
	if err != nil {
		return nil, nil, err
	}
	children, err := s.fetchByKey(ctx, q, target, &sel, target.IDField, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]map[string]interface{}, len(children))
	for _, child := range children {
		byID[idToString(child["id"])] = child
	}
	for _, record := range records {
		fk := record[node.Rel.ForeignKey]
		if fk == nil {
			continue
		}
		if child, ok := byID[idToString(fk)]; ok {
			record[node.Name] = child
		}
	}
	return children, target, nil
}

func (s *Store) expandHasMany(
	ctx context.Context,
	q Querier,
	records []map[string]interface{},
	node *plan.IncludeNode,
	fields map[string][]string,
) ([]map[string]interface{}, *schema.Resource, error) {
	target, ok := s.reg.Get(node.Rel.Target)
	if !ok {
		return nil, nil, apierr.Configuration("unknown resource %s", node.Rel.Target)
	}
	parentIDs := collectValues(records, "id")
	if len(parentIDs) == 0 {
		return nil, target, nil
	}
	sel, err := s.targetSelection(target, fields)
	if err != nil {
		return nil, nil, err
	}
	sel.Ensure(node.Rel.ForeignKey, true)

	var children []map[string]interface{}
	if node.Limit > 0 || node.OrderBy != "" {
		children, err = s.partitionedFetch(ctx, q, target, &sel, node.Rel.ForeignKey, parentIDs, node, "", nil)
	} else {
		children, err = s.fetchByKey(ctx, q, target, &sel, node.Rel.ForeignKey, parentIDs)
	}
	if err != nil {
		return nil, nil, err
	}

	grouped := groupBy(children, node.Rel.ForeignKey)
	for _, record := range records {
		record[node.Name] = grouped[idToString(record["id"])]
	}
	return children, target, nil
}

func (s *Store) expandThrough(
	ctx context.Context,
	q Querier,
	records []map[string]interface{},
	node *plan.IncludeNode,
	fields map[string][]string,
) ([]map[string]interface{}, *schema.Resource, error) {
	target, ok := s.reg.Get(node.Rel.Target)
	if !ok {
		return nil, nil, apierr.Configuration("unknown resource %s", node.Rel.Target)
	}
	pivot, ok := s.reg.Get(node.Rel.Through)
	if !ok {
		return nil, nil, apierr.Configuration("unknown pivot resource %s", node.Rel.Through)
	}
	parentIDs := collectValues(records, "id")
	if len(parentIDs) == 0 {
		return nil, target, nil
	}

	// One pivot fetch by this-side key.
	ph := placeholders(1, len(parentIDs))
	pivotQuery := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
		node.Rel.ForeignKey, node.Rel.OtherKey, pivot.Table, node.Rel.ForeignKey, ph)
	rows, err := q.QueryContext(ctx, pivotQuery, parentIDs...)
	if err != nil {
		return nil, nil, convertDBError(err)
	}
	links, err := scanRows(rows)
	if err != nil {
		return nil, nil, convertDBError(err)
	}
	if len(links) == 0 {
		for _, record := range records {
			record[node.Name] = []map[string]interface{}(nil)
		}
		return nil, target, nil
	}

	// One target fetch by the collected other-side keys, ordered so the
	// per-parent limit truncates deterministically.
	targetIDs := collectValues(links, node.Rel.OtherKey)
	sel, err := s.targetSelection(target, fields)
	if err != nil {
		return nil, nil, err
	}
	var children []map[string]interface{}
	if node.Limit > 0 || node.OrderBy != "" {
		children, err = s.fetchByKeyOrdered(ctx, q, target, &sel, target.IDField, targetIDs, orderClause(target, node.OrderBy))
	} else {
		children, err = s.fetchByKey(ctx, q, target, &sel, target.IDField, targetIDs)
	}
	if err != nil {
		return nil, nil, err
	}

	parentsByChild := make(map[string][]string, len(links))
	for _, link := range links {
		child := idToString(link[node.Rel.OtherKey])
		parentsByChild[child] = append(parentsByChild[child], idToString(link[node.Rel.ForeignKey]))
	}
	// Group in fetch order so each parent's list carries the node ordering.
	grouped := make(map[string][]map[string]interface{})
	for _, child := range children {
		for _, parent := range parentsByChild[idToString(child["id"])] {
			grouped[parent] = append(grouped[parent], child)
		}
	}
	for _, record := range records {
		list := grouped[idToString(record["id"])]
		if node.Limit > 0 && len(list) > node.Limit {
			list = list[:node.Limit]
		}
		record[node.Name] = list
	}
	return children, target, nil
}

// expandPolymorphic partitions parents by their type column and fetches each
// group from its resource, one query per type. Unrecognized targets produce
// a null relationship with a logged warning.
func (s *Store) expandPolymorphic(
	ctx context.Context,
	q Querier,
	records []map[string]interface{},
	node *plan.IncludeNode,
	fields map[string][]string,
) error {
	groups := make(map[string][]map[string]interface{})
	for _, record := range records {
		typeName, _ := record[node.Rel.TypeField].(string)
		if typeName == "" || record[node.Rel.IDField] == nil {
			continue
		}
		groups[typeName] = append(groups[typeName], record)
	}

	for typeName, group := range groups {
		if !allowedType(node.Rel, typeName) {
			s.log.Warn("polymorphic target not in allow-list",
				zap.String("relationship", node.Name),
				zap.String("type", typeName))
			continue
		}
		target, ok := s.reg.Get(typeName)
		if !ok {
			s.log.Warn("polymorphic target not registered",
				zap.String("relationship", node.Name),
				zap.String("type", typeName))
			continue
		}
		ids := collectValues(group, node.Rel.IDField)
		sel, err := s.targetSelection(target, fields)
		if err != nil {
			return err
		}
		children, err := s.fetchByKey(ctx, q, target, &sel, target.IDField, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]map[string]interface{}, len(children))
		for _, child := range children {
			byID[idToString(child["id"])] = child
		}
		for _, record := range group {
			if child, ok := byID[idToString(record[node.Rel.IDField])]; ok {
				record[node.Name] = child
			}
		}
	}
	return nil
}

func (s *Store) expandHasManyPolymorphic(
	ctx context.Context,
	q Querier,
	records []map[string]interface{},
	res *schema.Resource,
	node *plan.IncludeNode,
	fields map[string][]string,
) ([]map[string]interface{}, *schema.Resource, error) {
	target, ok := s.reg.Get(node.Rel.Target)
	if !ok {
		return nil, nil, apierr.Configuration("unknown resource %s", node.Rel.Target)
	}
	parentIDs := collectValues(records, "id")
	if len(parentIDs) == 0 {
		return nil, target, nil
	}
	sel, err := s.targetSelection(target, fields)
	if err != nil {
		return nil, nil, err
	}
	sel.Ensure(node.Rel.IDField, true)
	sel.Ensure(node.Rel.TypeField, true)

	var children []map[string]interface{}
	if node.Limit > 0 || node.OrderBy != "" {
		children, err = s.partitionedFetch(ctx, q, target, &sel, node.Rel.IDField, parentIDs, node, node.Rel.TypeField, res.Name)
		if err != nil {
			return nil, nil, err
		}
	} else {
		ph := placeholders(2, len(parentIDs))
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND %s IN (%s)",
			selectColumns(target, &sel), target.Table, node.Rel.TypeField, node.Rel.IDField, ph)
		args := append([]interface{}{res.Name}, parentIDs...)
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, nil, convertDBError(err)
		}
		children, err = scanRows(rows)
		if err != nil {
			return nil, nil, convertDBError(err)
		}
		normalizeRecords(target, children)
	}

	grouped := groupBy(children, node.Rel.IDField)
	for _, record := range records {
		record[node.Name] = grouped[idToString(record["id"])]
	}
	return children, target, nil
}

// fetchByKey issues one batched fetch by `key IN (...)`.
func (s *Store) fetchByKey(
	ctx context.Context,
	q Querier,
	res *schema.Resource,
	sel *plan.Selection,
	key string,
	values []interface{},
) ([]map[string]interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ph := placeholders(1, len(values))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", selectColumns(res, sel), res.Table, key, ph)
	rows, err := q.QueryContext(ctx, query, values...)
	if err != nil {
		return nil, convertDBError(err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, convertDBError(err)
	}
	normalizeRecords(res, records)
	return records, nil
}

// fetchByKeyOrdered is fetchByKey with an ORDER BY clause, used where the
// caller truncates per parent afterwards.
func (s *Store) fetchByKeyOrdered(
	ctx context.Context,
	q Querier,
	res *schema.Resource,
	sel *plan.Selection,
	key string,
	values []interface{},
	order string,
) ([]map[string]interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ph := placeholders(1, len(values))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY %s",
		selectColumns(res, sel), res.Table, key, ph, order)
	rows, err := q.QueryContext(ctx, query, values...)
	if err != nil {
		return nil, convertDBError(err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, convertDBError(err)
	}
	normalizeRecords(res, records)
	return records, nil
}

// partitionedFetch applies a per-parent limit and ordering. With window
// support the whole node still costs a single statement; otherwise an
// equivalent per-parent strategy runs behind the capability check. A
// non-empty scopeKey adds an equality predicate ahead of the key match,
// which the polymorphic to-many expansion uses for its type column.
func (s *Store) partitionedFetch(
	ctx context.Context,
	q Querier,
	res *schema.Resource,
	sel *plan.Selection,
	key string,
	parentIDs []interface{},
	node *plan.IncludeNode,
	scopeKey string,
	scopeValue interface{},
) ([]map[string]interface{}, error) {
	order := orderClause(res, node.OrderBy)

	if s.SupportsWindowFunctions() {
		var args []interface{}
		scope := ""
		start := 1
		if scopeKey != "" {
			scope = fmt.Sprintf("%s = $1 AND ", scopeKey)
			args = append(args, scopeValue)
			start = 2
		}
		ph := placeholders(start, len(parentIDs))
		inner := fmt.Sprintf(
			"SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS __rank FROM %s WHERE %s%s IN (%s)",
			selectColumns(res, sel), key, order, res.Table, scope, key, ph)
		args = append(args, parentIDs...)
		query := inner
		if node.Limit > 0 {
			query = fmt.Sprintf("SELECT * FROM (%s) AS ranked WHERE __rank <= $%d", inner, len(args)+1)
			args = append(args, node.Limit)
		}
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, convertDBError(err)
		}
		records, err := scanRows(rows)
		if err != nil {
			return nil, convertDBError(err)
		}
		for _, record := range records {
			delete(record, "__rank")
		}
		normalizeRecords(res, records)
		return records, nil
	}

	// Correlated fallback: one ordered, limited fetch per parent.
	var out []map[string]interface{}
	for _, parentID := range parentIDs {
		where := fmt.Sprintf("%s = $1", key)
		args := []interface{}{parentID}
		if scopeKey != "" {
			where = fmt.Sprintf("%s = $1 AND %s = $2", scopeKey, key)
			args = []interface{}{scopeValue, parentID}
		}
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s", selectColumns(res, sel), res.Table, where, order)
		if node.Limit > 0 {
			query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
			args = append(args, node.Limit)
		}
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, convertDBError(err)
		}
		records, err := scanRows(rows)
		if err != nil {
			return nil, convertDBError(err)
		}
		normalizeRecords(res, records)
		out = append(out, records...)
	}
	return out, nil
}

func orderClause(res *schema.Resource, orderBy string) string {
	if orderBy == "" {
		return res.IDField + " ASC"
	}
	if strings.HasPrefix(orderBy, "-") {
		return strings.TrimPrefix(orderBy, "-") + " DESC"
	}
	return orderBy + " ASC"
}

func allowedType(rel *schema.Relationship, typeName string) bool {
	for _, t := range rel.Types {
		if t == typeName {
			return true
		}
	}
	return false
}

// collectValues gathers the unique non-null values of a key across records.
func collectValues(records []map[string]interface{}, key string) []interface{} {
	seen := make(map[string]bool)
	var out []interface{}
	for _, record := range records {
		v := record[key]
		if v == nil {
			continue
		}
		s := idToString(v)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, v)
	}
	return out
}

func groupBy(records []map[string]interface{}, key string) map[string][]map[string]interface{} {
	grouped := make(map[string][]map[string]interface{})
	for _, record := range records {
		k := idToString(record[key])
		grouped[k] = append(grouped[k], record)
	}
	return grouped
}

func placeholders(start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
