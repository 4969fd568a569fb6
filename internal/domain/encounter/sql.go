package encounter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/encounters/internal/platform/search"
)

// dialect compiles a Query for one SQL backend.
type dialect struct {
	ph     search.Placeholder
	likeOp string
	arg    func(v interface{}) interface{}
}

var pgDialect = dialect{
	ph:     search.Dollar,
	likeOp: "ILIKE",
	arg:    func(v interface{}) interface{} { return v },
}

// SQLite's LIKE already folds ASCII case.
var sqliteDialect = dialect{
	ph:     search.Question,
	likeOp: "LIKE",
	arg:    sqliteArg,
}

// compile renders q as a SELECT of cols from table. Field values are
// trusted column names; every value is bound.
func (d dialect) compile(table, cols string, q Query) (string, []interface{}) {
	sq := search.NewSearchQuery(table, cols, d.ph)
	for _, p := range q.Predicates() {
		col := string(p.Field)
		switch p.Op {
		case OpEq:
			sq.AddEq(col, d.arg(p.Value))
		case OpGte, OpLte:
			sq.AddCompare(col, p.Op.String(), d.arg(p.Value))
		case OpIn:
			vals := make([]interface{}, len(p.Values))
			for i, v := range p.Values {
				vals[i] = d.arg(v)
			}
			sq.AddIn(col, vals)
		case OpPrefixFold:
			s, _ := p.Value.(string)
			sq.AddPrefix(col, d.likeOp, s)
		}
	}
	if order := q.OrderBy(); len(order) > 0 {
		keys := make([]string, len(order))
		for i, s := range order {
			dir := "ASC"
			if s.Dir == Desc {
				dir = "DESC"
			}
			keys[i] = fmt.Sprintf("%s %s", s.Field, dir)
		}
		sq.OrderBy(strings.Join(keys, ", "))
	}
	return sq.DataSQL(), sq.Args()
}

// sqliteArg maps Go values onto the SQLite column encoding: uuids as text,
// times as UTC unix microseconds, booleans as 0/1.
func sqliteArg(v interface{}) interface{} {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case *uuid.UUID:
		if x == nil {
			return nil
		}
		return x.String()
	case time.Time:
		return unixMicro(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return unixMicro(*x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

// unixMicro matches storeTime's precision. UnixNano only spans 1678-2262.
func unixMicro(t time.Time) int64 {
	return t.UTC().UnixMicro()
}
