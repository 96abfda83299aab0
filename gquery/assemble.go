package gquery

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const gameColumns = "g.id, g.title, g.console, g.region, g.parent_id, g.additional_info"

// querySet is the assembled statement pair for one request context: the
// top-level query with limit/offset and the unbounded child query for a
// parent id set. Both carry strictly ordered placeholder parameters.
//
// Slot layout with a user: $1 user, $2 limit, $3 offset, filters from $4.
// Without: $1 limit, $2 offset, filters from $3. The child query reuses $1
// (user) and binds the parent id set at the slot after it.
type querySet struct {
	hasUser bool
	userID  uuid.UUID

	parents  string
	children string

	slots        map[int]Column
	filterValues []interface{}
}

func buildQuerySet(q *GameQuery) (*querySet, error) {
	qs := &querySet{hasUser: q.UserID != nil}
	if qs.hasUser {
		qs.userID = *q.UserID
	}

	firstSlot := 3
	if qs.hasUser {
		firstSlot = 4
	}

	pred, err := compilePredicate(q, firstSlot, true)
	if err != nil {
		return nil, err
	}
	qs.slots = pred.slotColumns()
	qs.filterValues = pred.values()

	columnSort, err := compileSort(q.Sort)
	if err != nil {
		return nil, err
	}

	qs.parents = buildParentSQL(qs, pred, columnSort, q.OwnedFirst)
	qs.children = buildChildSQL(qs, columnSort, q.OwnedFirst)
	return qs, nil
}

func buildParentSQL(qs *querySet, pred *predicate, columnSort string, ownedFirst bool) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(gameColumns)
	if qs.hasUser {
		b.WriteString(",\n  ")
		b.WriteString(parentOwnedExpr("$1"))
		b.WriteString(" AS owned")
	}
	b.WriteString("\nFROM game AS g")
	b.WriteString("\nWHERE ")
	b.WriteString(pred.sql())

	writeOrderBy(&b, qs.hasUser && ownedFirst, columnSort)

	if qs.hasUser {
		b.WriteString("\nLIMIT $2 OFFSET $3")
	} else {
		b.WriteString("\nLIMIT $1 OFFSET $2")
	}
	return b.String()
}

// buildChildSQL builds the sub-row query. No limit and no user filters: a
// parent's full child set is always fetched together, pages never split a
// family.
func buildChildSQL(qs *querySet, columnSort string, ownedFirst bool) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(gameColumns)
	idSlot := "$1"
	if qs.hasUser {
		b.WriteString(",\n  ")
		b.WriteString(childOwnedExpr("$1"))
		b.WriteString(" AS owned")
		idSlot = "$2"
	}
	b.WriteString("\nFROM game AS g")
	b.WriteString("\nWHERE g.parent_id = ANY(")
	b.WriteString(idSlot)
	b.WriteString(")")

	writeOrderBy(&b, qs.hasUser && ownedFirst, columnSort)
	return b.String()
}

func writeOrderBy(b *strings.Builder, ownedFirst bool, columnSort string) {
	var parts []string
	if ownedFirst {
		parts = append(parts, "owned DESC")
	}
	if columnSort != "" {
		parts = append(parts, columnSort)
	}
	if len(parts) > 0 {
		b.WriteString("\nORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
}

// parentArgs lays out the top-level query parameters in slot order.
func (qs *querySet) parentArgs(limit, offset int) []interface{} {
	args := make([]interface{}, 0, 3+len(qs.filterValues))
	if qs.hasUser {
		args = append(args, qs.userID)
	}
	args = append(args, limit, offset)
	return append(args, qs.filterValues...)
}

func (qs *querySet) childArgs(parentIDs []string) []interface{} {
	if qs.hasUser {
		return []interface{}{qs.userID, pq.Array(parentIDs)}
	}
	return []interface{}{pq.Array(parentIDs)}
}
