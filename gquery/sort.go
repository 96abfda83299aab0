package gquery

import (
	"fmt"
	"sort"
	"strings"
)

// compileSort renders the priority-ordered column sorts as an ORDER BY body.
// Lowest priority number first; equal priorities fall back to the fixed
// column order so the output stays deterministic.
func compileSort(s Sort) (string, error) {
	if len(s) == 0 {
		return "", nil
	}

	cols := make([]Column, 0, len(s))
	for col := range s {
		if !col.valid() {
			return "", specErrorf("unknown sort column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool {
		a, b := s[cols[i]], s[cols[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return columnRank(cols[i]) < columnRank(cols[j])
	})

	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		direction := "ASC"
		if s[col].Desc {
			direction = "DESC"
		}
		parts = append(parts, fmt.Sprintf("g.%s %s", col, direction))
	}
	return strings.Join(parts, ", "), nil
}

func columnRank(c Column) int {
	for i, col := range columnOrder {
		if col == c {
			return i
		}
	}
	return len(columnOrder)
}

// parentOwnedExpr is the derived ownership of a top-level row: directly
// owned, or an aggregate whose children are all owned. Ownership propagates
// upward only on full completion. ph is the user id placeholder, which
// appears twice.
func parentOwnedExpr(ph string) string {
	return fmt.Sprintf(strings.TrimSpace(`
(EXISTS (SELECT 1 FROM library AS l WHERE l.game_id = g.id AND l.user_id = %s)
 OR (EXISTS (SELECT 1 FROM game AS c WHERE c.parent_id = g.id)
  AND NOT EXISTS (SELECT 1 FROM game AS c WHERE c.parent_id = g.id
   AND NOT EXISTS (SELECT 1 FROM library AS cl WHERE cl.game_id = c.id AND cl.user_id = %s))))`),
		ph, ph)
}

// childOwnedExpr is the ownership of one specific child row. Completeness is
// a parent-only concept, children check the library directly.
func childOwnedExpr(ph string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM library AS l WHERE l.game_id = g.id AND l.user_id = %s)", ph)
}
