package postgres

import (
	"fmt"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// listQuery appends the time range, ordering and pagination of opts to a
// SELECT that already ends in a WHERE clause. column is the timestamp the
// range applies to.
func listQuery(base, column, order string, args []any, opts domain.ListOpts) (string, []any) {
	query := base
	idx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", column, idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", column, idx)
		args = append(args, *opts.Until)
		idx++
	}

	query += fmt.Sprintf(" ORDER BY %s %s", column, order)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}
	return query, args
}
