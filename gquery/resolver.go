package gquery

import (
	"context"
	"fmt"

	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"

	"github.com/SkillGG/psx/catalog"
)

// Row is one fetched game row, with the derived ownership flag when the
// query ran in a user context.
type Row struct {
	catalog.Game
	Owned bool `json:"owned"`
}

// GameWithSubs is a top-level catalog entry: a standalone leaf or an
// aggregate with its children nested under it. A leaf never appears both
// top-level and nested.
type GameWithSubs struct {
	Row
	Subgames []Row `json:"subgames"`
}

// rowSource is the core-to-storage seam: the three parameterized-query
// operations the resolver needs. The database implementation lives in
// source.go, tests substitute their own.
type rowSource interface {
	runParentQuery(ctx context.Context, qs *querySet, limit, offset int) ([]Row, error)
	runChildQuery(ctx context.Context, qs *querySet, parentIDs []string) ([]Row, error)
	lookupRowsByID(ctx context.Context, qs *querySet, ids []string) ([]Row, error)
}

type Resolver struct {
	source rowSource
}

func NewResolver(db sqrlx.Transactor) *Resolver {
	return &Resolver{source: &dbRowSource{db: db}}
}

// maxFetchRounds bounds the re-fetch loop. skip strictly increases each
// round and the row source is finite, so this is a second line of defense,
// not the termination condition.
const maxFetchRounds = 25

// QueryGames pages through top-level catalog entries. Take counts top-level
// (possibly aggregate) entries, not raw rows; the resolver re-queries with
// the remaining deficit until satisfied or the source stops yielding new
// rows. The result may be short of take when the source is exhausted.
func (r *Resolver) QueryGames(ctx context.Context, q *GameQuery) ([]*GameWithSubs, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	qs, err := buildQuerySet(q)
	if err != nil {
		return nil, err
	}

	take := q.Take
	if take == 0 {
		take = DefaultPageSize
	}
	skip := q.Skip

	acc := newAccumulator()
	for round := 0; acc.size() < take && round < maxFetchRounds; round++ {
		deficit := take - acc.size()

		parents, err := r.source.runParentQuery(ctx, qs, deficit, skip)
		if err != nil {
			return nil, fmt.Errorf("parent query: %w", err)
		}
		if len(parents) == 0 {
			break
		}
		skip += len(parents)

		parentIDs := make([]string, 0, len(parents))
		for _, p := range parents {
			parentIDs = append(parentIDs, p.ID)
		}

		children, err := r.source.runChildQuery(ctx, qs, parentIDs)
		if err != nil {
			return nil, fmt.Errorf("child query: %w", err)
		}

		repaired, err := r.repairOrphans(ctx, qs, acc, parents, children)
		if err != nil {
			return nil, fmt.Errorf("orphan repair: %w", err)
		}
		if len(repaired) > 0 {
			// a repaired parent arrives without its family; fetch the full
			// child set so the page never emits a partial aggregate
			repairedIDs := make([]string, 0, len(repaired))
			for _, p := range repaired {
				repairedIDs = append(repairedIDs, p.ID)
			}
			siblings, err := r.source.runChildQuery(ctx, qs, repairedIDs)
			if err != nil {
				return nil, fmt.Errorf("repaired child query: %w", err)
			}
			children = append(children, siblings...)
		}

		if acc.merge(ctx, append(parents, repaired...), children) == 0 {
			// the whole round was already known, nothing new to page over
			break
		}
	}

	return acc.results(), nil
}

// repairOrphans finds children whose parent is neither accumulated nor in
// the current round (a concurrent reparent, or a parent outside the page
// window) and fetches those parent rows directly so every emitted child has
// a resolvable parent. The caller fetches the repaired parents' remaining
// children before merging.
func (r *Resolver) repairOrphans(ctx context.Context, qs *querySet, acc *accumulator, parents []Row, children []Row) ([]Row, error) {
	known := make(map[string]struct{}, len(parents))
	for _, p := range parents {
		known[p.ID] = struct{}{}
	}

	var missing []string
	seen := map[string]struct{}{}
	for _, c := range children {
		if c.ParentID == nil {
			continue
		}
		pid := *c.ParentID
		if _, ok := known[pid]; ok {
			continue
		}
		if acc.has(pid) {
			continue
		}
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		missing = append(missing, pid)
	}

	if len(missing) == 0 {
		return nil, nil
	}

	found, err := r.source.lookupRowsByID(ctx, qs, missing)
	if err != nil {
		return nil, err
	}

	repaired := make([]Row, 0, len(found))
	for _, row := range found {
		if row.ParentID != nil {
			// a "parent" that is itself a child breaks the two-level
			// model; leave it out and let merge drop its children
			log.WithFields(ctx, map[string]interface{}{
				"game":   row.ID,
				"parent": *row.ParentID,
			}).Error("orphan repair fetched a nested parent, data integrity problem")
			continue
		}
		repaired = append(repaired, row)
	}
	return repaired, nil
}

// accumulator carries merged results across fetch rounds. Ids are globally
// unique, first occurrence wins.
type accumulator struct {
	order []string
	byID  map[string]*GameWithSubs
	seen  map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		byID: map[string]*GameWithSubs{},
		seen: map[string]struct{}{},
	}
}

func (acc *accumulator) size() int {
	return len(acc.order)
}

func (acc *accumulator) has(id string) bool {
	_, ok := acc.seen[id]
	return ok
}

// merge folds one fetch round into the running result: top-level rows first
// so children can attach, dedupe by id throughout. Children whose parent is
// still unresolvable are logged as a data-integrity warning and dropped
// rather than failing the page; they are not marked seen, a later round that
// fetches their parent picks them up again.
//
// Returns the number of new top-level entries, the pager's zero-new-rows
// termination guard.
func (acc *accumulator) merge(ctx context.Context, parents []Row, children []Row) int {
	added := 0
	for _, p := range parents {
		if acc.has(p.ID) {
			continue
		}
		if p.ParentID != nil {
			// a child is never a top-level entry, its nested placement
			// is authoritative
			continue
		}
		acc.seen[p.ID] = struct{}{}
		acc.byID[p.ID] = &GameWithSubs{Row: p, Subgames: []Row{}}
		acc.order = append(acc.order, p.ID)
		added++
	}

	for _, c := range children {
		if acc.has(c.ID) {
			continue
		}
		if c.ParentID == nil {
			continue
		}
		parent, ok := acc.byID[*c.ParentID]
		if !ok {
			log.WithFields(ctx, map[string]interface{}{
				"game":   c.ID,
				"parent": *c.ParentID,
			}).Error("child references an unresolvable parent, dropping row")
			continue
		}
		acc.seen[c.ID] = struct{}{}
		parent.Subgames = append(parent.Subgames, c)
	}

	return added
}

func (acc *accumulator) results() []*GameWithSubs {
	out := make([]*GameWithSubs, 0, len(acc.order))
	for _, id := range acc.order {
		out = append(out, acc.byID[id])
	}
	return out
}
