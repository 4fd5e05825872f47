package postgres

import (
	"fmt"
	"strings"
)

// updateBuilder accumulates "column = $n" assignments for a dynamic UPDATE
type updateBuilder struct {
	sets []string
	args []any
}

func (b *updateBuilder) set(column string, value any) {
	b.args = append(b.args, value)
	b.sets = append(b.sets, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

// raw adds an assignment that takes no argument, e.g. "revision = revision + 1"
func (b *updateBuilder) raw(expr string) {
	b.sets = append(b.sets, expr)
}

func (b *updateBuilder) empty() bool {
	return len(b.sets) == 0
}

// build returns the statement and its arguments, with id as the last argument
func (b *updateBuilder) build(table, id string) (string, []any) {
	args := append(b.args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		table, strings.Join(b.sets, ", "), len(args))
	return query, args
}
