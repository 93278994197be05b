package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// listQuery appends the time bounds, ordering and paging of opts to a SELECT
// and returns the statement with its positional arguments. timeCol is the
// column Since/Until filter on.
func listQuery(selectFrom, timeCol, orderBy string, opts domain.ListOpts) (string, []any) {
	var (
		b     strings.Builder
		args  []any
		conds []string
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		conds = append(conds, timeCol+" >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		conds = append(conds, timeCol+" <= "+arg(*opts.Until))
	}

	b.WriteString(selectFrom)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return b.String(), args
}
