// Package query is a small fluent builder for PostgREST table queries.
// It only renders the request path and query string; sending it is the
// backend adapter's job.
package query

import (
	"fmt"
	"net/url"
	"strings"
)

// Query describes one request against a table.
type Query struct {
	table   string
	columns string
	filters [][2]string
	order   []string
	limit   int
	offset  int
	hasRng  bool
}

// From starts a query on table.
func From(table string) *Query {
	return &Query{table: table}
}

// Table returns the target table.
func (q *Query) Table() string { return q.table }

// Select sets the column list, including embedded joins.
func (q *Query) Select(columns string) *Query {
	q.columns = columns
	return q
}

// Eq adds column = value.
func (q *Query) Eq(column string, value any) *Query {
	return q.filter(column, "eq."+format(value))
}

// Neq adds column <> value.
func (q *Query) Neq(column string, value any) *Query {
	return q.filter(column, "neq."+format(value))
}

// Is adds column IS value, where value is null, true or false.
func (q *Query) Is(column, value string) *Query {
	return q.filter(column, "is."+value)
}

// In adds column IN (values...).
func (q *Query) In(column string, values ...string) *Query {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return q.filter(column, "in.("+strings.Join(quoted, ",")+")")
}

// Ilike adds a case-insensitive substring match on column.
func (q *Query) Ilike(column, term string) *Query {
	return q.filter(column, "ilike."+Contains(term))
}

// Or adds a disjunction of conditions built with Cond.
func (q *Query) Or(conds ...string) *Query {
	if len(conds) == 0 {
		return q
	}
	return q.filter("or", "("+strings.Join(conds, ",")+")")
}

// Order appends an ordering term.
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.order = append(q.order, column+"."+dir)
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Range selects rows from..to inclusive.
func (q *Query) Range(from, to int) *Query {
	q.offset = from
	q.limit = to - from + 1
	q.hasRng = true
	return q
}

// Clone returns an independent copy of q.
func (q *Query) Clone() *Query {
	c := *q
	c.filters = append([][2]string(nil), q.filters...)
	c.order = append([]string(nil), q.order...)
	return &c
}

// Encode renders "table?select=...&col=op.value...".
func (q *Query) Encode() string {
	v := url.Values{}
	if q.columns != "" {
		v.Set("select", q.columns)
	}
	for _, f := range q.filters {
		v.Add(f[0], f[1])
	}
	if len(q.order) > 0 {
		v.Set("order", strings.Join(q.order, ","))
	}
	if q.limit > 0 {
		v.Set("limit", fmt.Sprint(q.limit))
	}
	if q.hasRng && q.offset > 0 {
		v.Set("offset", fmt.Sprint(q.offset))
	}
	if len(v) == 0 {
		return q.table
	}
	return q.table + "?" + v.Encode()
}

func (q *Query) String() string { return q.Encode() }

func (q *Query) filter(key, value string) *Query {
	q.filters = append(q.filters, [2]string{key, value})
	return q
}

// Cond renders one condition for use inside Or, e.g. Cond("title", "ilike", Contains("x")).
func Cond(column, op string, value any) string {
	return column + "." + op + "." + quote(format(value))
}

// Contains turns a free-text term into an ilike pattern.
// Wildcards and PostgREST reserved characters in the term are dropped.
func Contains(term string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '*', '%', ',', '(', ')', '"', '\\':
			return -1
		}
		return r
	}, strings.TrimSpace(term))
	return "*" + clean + "*"
}

func format(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// quote wraps values holding PostgREST separators in double quotes.
func quote(s string) string {
	if strings.ContainsAny(s, ",.:() ") {
		return `"` + s + `"`
	}
	return s
}
