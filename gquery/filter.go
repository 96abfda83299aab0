package gquery

import (
	"fmt"
	"strings"
)

// predicate is a compiled WHERE clause: boolean fragments plus the bindings
// for them, in slot order. Placeholders are rendered at compile time from
// assigned slot numbers, never interpolated from values.
type predicate struct {
	clauses []string
	binds   []slotBinding
}

// slotBinding ties one positional parameter slot to the column whose filter
// owns it and the concrete term bound to it.
type slotBinding struct {
	slot   int
	column Column
	value  string
}

// compilePredicate turns the enabled filters into one boolean fragment with
// stable positional slots starting at firstSlot. Early slots are reserved by
// the caller for structural parameters (user, limit, offset).
//
// Shape rules:
//   - id and title are one search-box concept: both enabled, they OR inside
//     a single parenthesized group.
//   - console and region AND against the rest, each escaped with the literal
//     NA sentinel so aggregate rows survive leaf-level filters.
//   - topLevel appends the structural parent_id IS NULL predicate, which
//     binds no value.
func compilePredicate(q *GameQuery, firstSlot int, topLevel bool) (*predicate, error) {
	pred := &predicate{}

	slot := firstSlot
	slots := map[Column]int{}
	for _, col := range columnOrder {
		if _, ok := q.Filters[col]; !ok {
			continue
		}
		term, ok := q.Terms[col]
		if !ok || term == "" {
			return nil, specErrorf("filter %q enabled with no search term", col)
		}
		slots[col] = slot
		pred.binds = append(pred.binds, slotBinding{slot: slot, column: col, value: term})
		slot++
	}

	var search []string
	for _, col := range []Column{ColumnID, ColumnTitle} {
		filter, ok := q.Filters[col]
		if !ok {
			continue
		}
		search = append(search, fmt.Sprintf("g.%s %s $%d", col, filter.compare(col), slots[col]))
	}
	if len(search) > 0 {
		pred.clauses = append(pred.clauses, "("+strings.Join(search, " OR ")+")")
	}

	for _, col := range []Column{ColumnConsole, ColumnRegion} {
		filter, ok := q.Filters[col]
		if !ok {
			continue
		}
		pred.clauses = append(pred.clauses, fmt.Sprintf(
			"(g.%s %s CAST($%d AS %s) OR g.%s = 'NA')",
			col, filter.compare(col), slots[col], filter.castTo(col), col,
		))
	}

	if topLevel {
		pred.clauses = append(pred.clauses, "g.parent_id IS NULL")
	}

	return pred, nil
}

func (p *predicate) sql() string {
	return strings.Join(p.clauses, " AND ")
}

// values returns the bind values in slot order, ready to append after the
// structural parameters.
func (p *predicate) values() []interface{} {
	out := make([]interface{}, 0, len(p.binds))
	for _, b := range p.binds {
		out = append(out, b.value)
	}
	return out
}

// slotColumns exposes the slot → column assignment, the contract the
// ordered values are checked against.
func (p *predicate) slotColumns() map[int]Column {
	out := make(map[int]Column, len(p.binds))
	for _, b := range p.binds {
		out[b.slot] = b.column
	}
	return out
}
