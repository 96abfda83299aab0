// Package gquery builds and runs the dynamic catalog queries: a variable
// filter set, a priority-ordered multi-column sort, an ownership tie-break
// and a pager that never splits a parent/child family across a page
// boundary.
package gquery

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Column is a filterable/sortable catalog column. Columns are a closed enum,
// caller-supplied strings never reach generated SQL.
type Column string

const (
	ColumnID      Column = "id"
	ColumnTitle   Column = "title"
	ColumnConsole Column = "console"
	ColumnRegion  Column = "region"
)

// columnOrder fixes slot assignment and tie-break ordering. Parameter slots
// are handed out in this order over the enabled filter set.
var columnOrder = []Column{ColumnID, ColumnTitle, ColumnConsole, ColumnRegion}

func (c Column) valid() bool {
	for _, known := range columnOrder {
		if c == known {
			return true
		}
	}
	return false
}

type Compare string

const (
	CompareLike  Compare = "LIKE"
	CompareEqual Compare = "="
)

// ColumnFilter is the per-column filter configuration. The zero value takes
// the column defaults: substring match for id/title, cast equality for
// console/region.
type ColumnFilter struct {
	Compare Compare
	CastTo  string
}

func (cf ColumnFilter) compare(col Column) Compare {
	if cf.Compare != "" {
		return cf.Compare
	}
	switch col {
	case ColumnConsole, ColumnRegion:
		return CompareEqual
	}
	return CompareLike
}

func (cf ColumnFilter) castTo(col Column) string {
	if cf.CastTo != "" {
		return cf.CastTo
	}
	switch col {
	case ColumnConsole:
		return "console"
	case ColumnRegion:
		return "region"
	}
	return ""
}

type SortField struct {
	Priority int
	Desc     bool
}

// Sort maps columns to their priority and direction. Lower priority numbers
// sort first. Priorities need not be contiguous; equal priorities fall back
// to the fixed column order rather than failing.
type Sort map[Column]SortField

// ErrInvalidSpec marks query specification errors: these fail before any SQL
// executes and are never silently defaulted.
var ErrInvalidSpec = errors.New("invalid query spec")

func specErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

// DefaultPageSize is the take applied when the caller does not request one.
const DefaultPageSize = 100

// GameQuery is the per-request query specification. It is built from
// user-supplied filter/sort state and never persisted.
type GameQuery struct {
	// UserID enables the user-context query variants: a derived owned
	// column on every row, and the ownership tie-break when OwnedFirst is
	// set.
	UserID *uuid.UUID

	// Filters enables per-column predicates, Terms carries the concrete
	// search values. A filter without a term, or a term without a filter,
	// is a spec error.
	Filters map[Column]ColumnFilter
	Terms   map[Column]string

	Sort       Sort
	OwnedFirst bool

	Skip int
	Take int
}

func (q *GameQuery) validate() error {
	for col := range q.Filters {
		if !col.valid() {
			return specErrorf("unknown filter column %q", col)
		}
		if term, ok := q.Terms[col]; !ok || term == "" {
			return specErrorf("filter %q enabled with no search term", col)
		}
	}
	for col := range q.Terms {
		if !col.valid() {
			return specErrorf("unknown search column %q", col)
		}
		if _, ok := q.Filters[col]; !ok {
			return specErrorf("search term for %q but the filter is not enabled", col)
		}
	}
	for col := range q.Sort {
		if !col.valid() {
			return specErrorf("unknown sort column %q", col)
		}
	}
	if q.OwnedFirst && q.UserID == nil {
		return specErrorf("ownership tie-break requires a user")
	}
	if q.Skip < 0 || q.Take < 0 {
		return specErrorf("negative page bounds")
	}
	return nil
}
