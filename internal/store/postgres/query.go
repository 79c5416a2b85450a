package postgres

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// listQuery assembles a SELECT with positional placeholders. Conditions use
// "?" for their single argument; it is rewritten to the next $n.
type listQuery struct {
	sb    strings.Builder
	args  []any
	where bool
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) next(arg any) string {
	q.args = append(q.args, arg)
	return "$" + strconv.Itoa(len(q.args))
}

// and appends one condition.
func (q *listQuery) and(cond string, arg any) {
	if q.where {
		q.sb.WriteString(" AND ")
	} else {
		q.sb.WriteString(" WHERE ")
		q.where = true
	}
	q.sb.WriteString(strings.Replace(cond, "?", q.next(arg), 1))
}

// window filters column by opts.Since and opts.Until.
func (q *listQuery) window(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.and(column+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q.and(column+" <= ?", *opts.Until)
	}
}

// page appends the ordering and the limit and offset from opts.
func (q *listQuery) page(orderBy string, opts domain.ListOpts) {
	q.sb.WriteString(" ORDER BY ")
	q.sb.WriteString(orderBy)
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.next(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.next(opts.Offset))
	}
}

func (q *listQuery) String() string { return q.sb.String() }
