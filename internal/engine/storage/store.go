// Package storage issues SQL against the relational store, resolves
// includes, assembles JSON:API documents, and normalizes database-typed
// values.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/plan"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/txn"
)

// Querier abstracts between the pooled handle and an open transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Capabilities reports what the backend supports.
type Capabilities struct {
	// WindowFunctions enables the partitioned-fetch strategy for per-parent
	// limited includes.
	WindowFunctions bool
}

// Store executes the engine's data operations.
type Store struct {
	db   *sql.DB
	reg  *schema.Registry
	log  *zap.Logger
	caps Capabilities
	txm  *txn.Manager
}

// New creates a store over a database handle.
func New(db *sql.DB, reg *schema.Registry, log *zap.Logger, caps Capabilities) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, reg: reg, log: log, caps: caps, txm: txn.NewManager(db)}
}

// SupportsWindowFunctions is the capability probe for partitioned fetches.
func (s *Store) SupportsWindowFunctions() bool {
	return s.caps.WindowFunctions
}

// NewTransaction begins a transaction owned by the caller.
func (s *Store) NewTransaction(ctx context.Context) (*txn.Transaction, error) {
	return s.txm.Begin(ctx)
}

// Registry exposes the compiled schema registry.
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

func (s *Store) q(tx *txn.Transaction) Querier {
	if tx != nil {
		return tx
	}
	return s.db
}

// Result is the outcome of a collection query.
type Result struct {
	Records []map[string]interface{}
	Total   *int
}

// DataQuery runs the primary collection query plus include expansion.
func (s *Store) DataQuery(ctx context.Context, p *plan.Plan, tx *txn.Transaction) (*Result, error) {
	q := s.q(tx)
	query, args := buildSelect(p.Resource, &p.Selection, &p.Filter, p.Sort, &p.Page)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, convertDBError(err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, convertDBError(err)
	}
	normalizeRecords(p.Resource, records)

	result := &Result{Records: records}
	if p.Page.CountTotal {
		total, err := s.countTotal(ctx, q, p)
		if err != nil {
			return nil, err
		}
		result.Total = &total
	}

	if err := s.expandIncludes(ctx, q, records, p.Resource, p.Includes, p.Fields); err != nil {
		return nil, err
	}
	return result, nil
}

// DataGet fetches a single record by id, with include expansion.
func (s *Store) DataGet(ctx context.Context, p *plan.Plan, id string, tx *txn.Transaction) (map[string]interface{}, error) {
	q := s.q(tx)
	res := p.Resource
	cols := selectColumns(res, &p.Selection)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", cols, res.Table, res.IDField)
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, convertDBError(err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, convertDBError(err)
	}
	if len(records) == 0 {
		return nil, apierr.NotFound("%s %s not found", res.Name, id)
	}
	normalizeRecords(res, records)
	if err := s.expandIncludes(ctx, q, records, res, p.Includes, p.Fields); err != nil {
		return nil, err
	}
	return records[0], nil
}

// DataGetMinimal fetches the smallest projection sufficient for row-level
// authorization: the id plus the resource's policy fields.
func (s *Store) DataGetMinimal(ctx context.Context, res *schema.Resource, id string, tx *txn.Transaction) (map[string]interface{}, error) {
	cols := []string{aliasColumn(res.IDField, res)}
	for _, f := range res.Options.PolicyFields {
		if f != res.IDField && res.HasField(f) {
			cols = append(cols, f)
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", strings.Join(cols, ", "), res.Table, res.IDField)
	rows, err := s.q(tx).QueryContext(ctx, query, id)
	if err != nil {
		return nil, convertDBError(err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, convertDBError(err)
	}
	if len(records) == 0 {
		return nil, apierr.NotFound("%s %s not found", res.Name, id)
	}
	normalizeRecords(res, records)
	return records[0], nil
}

// DataExists reports whether a row with the given id exists.
func (s *Store) DataExists(ctx context.Context, res *schema.Resource, id string, tx *txn.Transaction) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1", res.Table, res.IDField)
	var one int
	err := s.q(tx).QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, convertDBError(err)
	}
	return true, nil
}

// DataPost inserts a record and returns the new id. UUID-keyed resources get
// an application-generated id when the caller supplied none.
func (s *Store) DataPost(ctx context.Context, res *schema.Resource, record map[string]interface{}, tx *txn.Transaction) (string, error) {
	if _, ok := record[res.IDField]; !ok && res.IDKind == schema.KindUUID {
		record[res.IDField] = uuid.NewString()
	}
	fields := make([]string, 0, len(record))
	for _, name := range sortedKeys(record) {
		f, ok := res.Fields[name]
		if name == res.IDField || (ok && f.Persisted()) {
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		return "", apierr.PayloadShape("no fields to insert for %s", res.Name)
	}
	placeholders := make([]string, len(fields))
	args := make([]interface{}, len(fields))
	for i, name := range fields {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = record[name]
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		res.Table,
		strings.Join(fields, ", "),
		strings.Join(placeholders, ", "),
		res.IDField,
	)
	var id interface{}
	if err := s.q(tx).QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", convertDBError(err)
	}
	return idToString(id), nil
}

// DataPut fully updates a record by id.
func (s *Store) DataPut(ctx context.Context, res *schema.Resource, id string, record map[string]interface{}, tx *txn.Transaction) error {
	return s.update(ctx, res, id, record, tx)
}

// DataPatch updates only the supplied fields of a record.
func (s *Store) DataPatch(ctx context.Context, res *schema.Resource, id string, record map[string]interface{}, tx *txn.Transaction) error {
	return s.update(ctx, res, id, record, tx)
}

func (s *Store) update(ctx context.Context, res *schema.Resource, id string, record map[string]interface{}, tx *txn.Transaction) error {
	sets := make([]string, 0, len(record))
	args := make([]interface{}, 0, len(record)+1)
	i := 1
	for _, name := range sortedKeys(record) {
		if name == res.IDField {
			continue
		}
		if f, ok := res.Fields[name]; !ok || !f.Persisted() {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", name, i))
		args = append(args, record[name])
		i++
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", res.Table, strings.Join(sets, ", "), res.IDField, i)
	result, err := s.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return convertDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return convertDBError(err)
	}
	if affected == 0 {
		return apierr.NotFound("%s %s not found", res.Name, id)
	}
	return nil
}

// DataDelete removes a record by id.
func (s *Store) DataDelete(ctx context.Context, res *schema.Resource, id string, tx *txn.Transaction) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", res.Table, res.IDField)
	result, err := s.q(tx).ExecContext(ctx, query, id)
	if err != nil {
		return convertDBError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return convertDBError(err)
	}
	if affected == 0 {
		return apierr.NotFound("%s %s not found", res.Name, id)
	}
	return nil
}

func (s *Store) countTotal(ctx context.Context, q Querier, p *plan.Plan) (int, error) {
	where, joins, args := buildWhere(p.Resource, &p.Filter, 1)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s%s", p.Resource.Table, joins, where)
	var total int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, convertDBError(err)
	}
	return total, nil
}

// buildSelect renders the primary query for a plan.
func buildSelect(res *schema.Resource, sel *plan.Selection, filter *plan.Filter, sorts []plan.SortField, page *plan.Page) (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumnsQualified(res, sel))
	b.WriteString(" FROM ")
	b.WriteString(res.Table)

	where, joins, args := buildWhere(res, filter, 1)
	b.WriteString(joins)
	b.WriteString(where)

	if len(sorts) > 0 {
		parts := make([]string, 0, len(sorts))
		for _, sf := range sorts {
			dir := "ASC"
			if sf.Desc {
				dir = "DESC"
			}
			parts = append(parts, fmt.Sprintf("%s.%s %s", res.Table, sf.Field, dir))
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}

	n := len(args) + 1
	if page != nil && page.Limit > 0 {
		b.WriteString(fmt.Sprintf(" LIMIT $%d", n))
		args = append(args, page.Limit)
		n++
		if page.Offset > 0 {
			b.WriteString(fmt.Sprintf(" OFFSET $%d", n))
			args = append(args, page.Offset)
		}
	}
	return b.String(), args
}

// buildWhere renders joins and the WHERE clause for a filter tree. All
// top-level conditions are AND-combined; each hook-added group is emitted as
// one parenthesized unit so OR branches cannot escape the conjunction.
func buildWhere(res *schema.Resource, filter *plan.Filter, startParam int) (where, joins string, args []interface{}) {
	if filter == nil || filter.Empty() {
		return "", "", nil
	}
	var joinB strings.Builder
	seenJoins := make(map[string]bool)
	n := startParam

	renderCond := func(c plan.Condition) string {
		table := res.Table
		if c.Join != nil {
			table = c.Join.Table
			if !seenJoins[c.Join.Table] {
				joinB.WriteString(fmt.Sprintf(" LEFT JOIN %s ON %s.%s = %s.%s",
					c.Join.Table, c.Join.Table, c.Join.ForeignKey, res.Table, c.Join.LocalKey))
				seenJoins[c.Join.Table] = true
			}
		}
		column := fmt.Sprintf("%s.%s", table, c.Field)
		switch c.Operator {
		case schema.OpIn:
			values, _ := c.Value.([]interface{})
			ph := make([]string, len(values))
			for i, v := range values {
				ph[i] = fmt.Sprintf("$%d", n)
				args = append(args, v)
				n++
			}
			return fmt.Sprintf("%s IN (%s)", column, strings.Join(ph, ", "))
		case schema.OpLike:
			clause := fmt.Sprintf("%s LIKE $%d", column, n)
			args = append(args, c.Value)
			n++
			return clause
		default:
			clause := fmt.Sprintf("%s %s $%d", column, c.Operator, n)
			args = append(args, c.Value)
			n++
			return clause
		}
	}

	clauses := make([]string, 0, len(filter.Conditions)+len(filter.Groups))
	for _, c := range filter.Conditions {
		clauses = append(clauses, renderCond(c))
	}
	for _, g := range filter.Groups {
		inner := make([]string, 0, len(g.Conditions))
		for _, c := range g.Conditions {
			inner = append(inner, renderCond(c))
		}
		op := " AND "
		if g.Or {
			op = " OR "
		}
		clauses = append(clauses, "("+strings.Join(inner, op)+")")
	}
	return " WHERE " + strings.Join(clauses, " AND "), joinB.String(), args
}

func selectColumns(res *schema.Resource, sel *plan.Selection) string {
	parts := make([]string, 0, len(sel.Columns))
	for _, col := range sel.Columns {
		parts = append(parts, aliasColumn(col, res))
	}
	return strings.Join(parts, ", ")
}

func selectColumnsQualified(res *schema.Resource, sel *plan.Selection) string {
	parts := make([]string, 0, len(sel.Columns))
	for _, col := range sel.Columns {
		qualified := fmt.Sprintf("%s.%s", res.Table, col)
		if col == res.IDField && res.IDField != "id" {
			qualified += " AS id"
		}
		parts = append(parts, qualified)
	}
	return strings.Join(parts, ", ")
}

func aliasColumn(col string, res *schema.Resource) string {
	if col == res.IDField && res.IDField != "id" {
		return col + " AS id"
	}
	return col
}

// convertDBError maps driver errors to engine error kinds.
func convertDBError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apierr.Wrap(apierr.KindConflict, err, "unique constraint violated")
		case "23503":
			return apierr.Wrap(apierr.KindValidation, err, "referenced resource does not exist")
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apierr.Internal(err)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
