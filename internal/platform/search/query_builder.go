package search

import (
	"fmt"
	"strings"
)

// Placeholder renders the positional bind marker for the idx-th argument
// (1-based). PostgreSQL uses $1, $2, ...; SQLite accepts plain ?.
type Placeholder func(idx int) string

// Dollar is the PostgreSQL placeholder style.
func Dollar(idx int) string { return fmt.Sprintf("$%d", idx) }

// Question is the SQLite / database/sql placeholder style.
func Question(int) string { return "?" }

// SearchQuery builds a SELECT with a conjunction of WHERE clauses and an
// optional ORDER BY. Clauses are appended in call order; every clause is
// ANDed with the ones before it.
type SearchQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
	ph      Placeholder
}

// NewSearchQuery creates a new SearchQuery for the given table and columns.
// A nil placeholder defaults to Dollar.
func NewSearchQuery(table, cols string, ph Placeholder) *SearchQuery {
	if ph == nil {
		ph = Dollar
	}
	return &SearchQuery{
		table: table,
		cols:  cols,
		idx:   1,
		ph:    ph,
	}
}

func (q *SearchQuery) bind(v interface{}) string {
	p := q.ph(q.idx)
	q.args = append(q.args, v)
	q.idx++
	return p
}

// AddCompare adds "column op value". op must be a trusted SQL operator
// (=, <>, <, <=, >, >=).
func (q *SearchQuery) AddCompare(column, op string, value interface{}) {
	q.where += fmt.Sprintf(" AND %s %s %s", column, op, q.bind(value))
}

// AddEq adds an equality clause.
func (q *SearchQuery) AddEq(column string, value interface{}) {
	q.AddCompare(column, "=", value)
}

// AddIn adds "column IN (...)". An empty value list matches nothing.
func (q *SearchQuery) AddIn(column string, values []interface{}) {
	if len(values) == 0 {
		q.where += " AND 1=0"
		return
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = q.bind(v)
	}
	q.where += fmt.Sprintf(" AND %s IN (%s)", column, strings.Join(marks, ", "))
}

// AddPrefix adds a starts-with match using the given LIKE operator (LIKE or
// ILIKE). LIKE wildcards in prefix are escaped with a backslash.
func (q *SearchQuery) AddPrefix(column, likeOp, prefix string) {
	q.where += fmt.Sprintf(` AND %s %s %s ESCAPE '\'`, column, likeOp, q.bind(EscapeLike(prefix)+"%"))
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// Where returns the accumulated WHERE body, always starting with "1=1".
func (q *SearchQuery) Where() string {
	return "1=1" + q.where
}

// DataSQL returns the data query SQL with ORDER BY.
func (q *SearchQuery) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", q.cols, q.table, q.Where())
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// Args returns the bind arguments in placeholder order.
func (q *SearchQuery) Args() []interface{} {
	out := make([]interface{}, len(q.args))
	copy(out, q.args)
	return out
}

// EscapeLike escapes LIKE metacharacters so s matches literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
