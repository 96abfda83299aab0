package gquery

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkillGG/psx/catalog"
)

// fakeSource serves the resolver from in-memory rows, standing in for the
// database. topLevel is already filtered and sorted, the way the statements
// would return it.
type fakeSource struct {
	topLevel []Row
	children map[string][]Row
	byID     map[string]Row

	parentCalls []pageCall
	lookupCalls [][]string
}

type pageCall struct {
	limit  int
	offset int
}

func (f *fakeSource) runParentQuery(ctx context.Context, qs *querySet, limit, offset int) ([]Row, error) {
	f.parentCalls = append(f.parentCalls, pageCall{limit: limit, offset: offset})
	if offset >= len(f.topLevel) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.topLevel) {
		end = len(f.topLevel)
	}
	return append([]Row(nil), f.topLevel[offset:end]...), nil
}

func (f *fakeSource) runChildQuery(ctx context.Context, qs *querySet, parentIDs []string) ([]Row, error) {
	var out []Row
	for _, id := range parentIDs {
		out = append(out, f.children[id]...)
	}
	return out, nil
}

func (f *fakeSource) lookupRowsByID(ctx context.Context, qs *querySet, ids []string) ([]Row, error) {
	f.lookupCalls = append(f.lookupCalls, ids)
	var out []Row
	for _, id := range ids {
		if row, ok := f.byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func leaf(id, title string) Row {
	return Row{Game: catalog.Game{
		ID:      id,
		Title:   title,
		Console: catalog.ConsolePS2,
		Region:  catalog.RegionNTSC,
	}}
}

func aggregate(id, title string) Row {
	return Row{Game: catalog.Game{
		ID:      id,
		Title:   title,
		Console: catalog.ConsoleNA,
		Region:  catalog.RegionNA,
	}}
}

func childOf(parentID, id, title string) Row {
	row := leaf(id, title)
	row.ParentID = &parentID
	return row
}

func queryGames(t testing.TB, source rowSource, q *GameQuery) []*GameWithSubs {
	t.Helper()
	r := &Resolver{source: source}
	out, err := r.QueryGames(context.Background(), q)
	require.NoError(t, err)
	return out
}

func resultIDs(out []*GameWithSubs) []string {
	ids := make([]string, 0, len(out))
	for _, e := range out {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestQueryGamesSinglePage(t *testing.T) {
	source := &fakeSource{
		topLevel: []Row{
			leaf("a-1", "Ape Escape"),
			aggregate("b-1_agg", "Breath of Fire"),
			leaf("c-1", "Crash"),
		},
		children: map[string][]Row{
			"b-1_agg": {
				childOf("b-1_agg", "b-1", "Breath of Fire III"),
				childOf("b-1_agg", "b-2", "Breath of Fire IV"),
			},
		},
	}

	out := queryGames(t, source, &GameQuery{Take: 10})

	assert.Equal(t, []string{"a-1", "b-1_agg", "c-1"}, resultIDs(out))
	assert.Empty(t, out[0].Subgames)
	require.Len(t, out[1].Subgames, 2)
	assert.Equal(t, "b-1", out[1].Subgames[0].ID)
	assert.Equal(t, "b-2", out[1].Subgames[1].ID)
	assert.Empty(t, out[2].Subgames)

	// first round fetches the deficit, the second round comes back empty
	require.Len(t, source.parentCalls, 2)
	assert.Equal(t, pageCall{limit: 10, offset: 0}, source.parentCalls[0])
	assert.Equal(t, pageCall{limit: 7, offset: 3}, source.parentCalls[1])
}

func TestQueryGamesExhaustedSource(t *testing.T) {
	rows := make([]Row, 37)
	for i := range rows {
		rows[i] = leaf(idFor(i), "Game")
	}
	source := &fakeSource{topLevel: rows}

	out := queryGames(t, source, &GameQuery{Take: 100})

	assert.Len(t, out, 37)
	// round one returns the 37 that exist, round two comes back empty and
	// stops the pager
	require.Len(t, source.parentCalls, 2)
	assert.Equal(t, pageCall{limit: 100, offset: 0}, source.parentCalls[0])
	assert.Equal(t, pageCall{limit: 63, offset: 37}, source.parentCalls[1])
}

func TestQueryGamesDefaultTake(t *testing.T) {
	source := &fakeSource{topLevel: []Row{leaf("a-1", "A")}}

	queryGames(t, source, &GameQuery{})

	require.NotEmpty(t, source.parentCalls)
	assert.Equal(t, DefaultPageSize, source.parentCalls[0].limit)
}

func TestQueryGamesSkip(t *testing.T) {
	source := &fakeSource{
		topLevel: []Row{
			leaf("a-1", "A"),
			leaf("b-1", "B"),
			leaf("c-1", "C"),
			leaf("d-1", "D"),
		},
	}

	out := queryGames(t, source, &GameQuery{Skip: 1, Take: 2})

	assert.Equal(t, []string{"b-1", "c-1"}, resultIDs(out))
}

func TestQueryGamesDedupeAcrossRounds(t *testing.T) {
	// a source that ignores the offset and replays the same page simulates
	// rows shifting under the pager; the zero-new-rows guard must stop it
	source := &replaySource{rows: []Row{
		leaf("a-1", "A"),
		leaf("b-1", "B"),
	}}

	out := queryGames(t, source, &GameQuery{Take: 5})

	assert.Equal(t, []string{"a-1", "b-1"}, resultIDs(out))
	assert.Equal(t, 2, source.calls)
}

// replaySource returns the same parent page regardless of offset.
type replaySource struct {
	rows  []Row
	calls int
}

func (r *replaySource) runParentQuery(ctx context.Context, qs *querySet, limit, offset int) ([]Row, error) {
	r.calls++
	return append([]Row(nil), r.rows...), nil
}

func (r *replaySource) runChildQuery(ctx context.Context, qs *querySet, parentIDs []string) ([]Row, error) {
	return nil, nil
}

func (r *replaySource) lookupRowsByID(ctx context.Context, qs *querySet, ids []string) ([]Row, error) {
	return nil, nil
}

// filteringSource evaluates the compiled filter bindings in memory the way
// the rendered statements would: substring match over the id/title search
// group, equality with the NA sentinel escape for the enum columns, top
// level only, sorted by title to match the fixture queries.
type filteringSource struct {
	rows     []Row
	children map[string][]Row
}

func (f *filteringSource) runParentQuery(ctx context.Context, qs *querySet, limit, offset int) ([]Row, error) {
	var matched []Row
	for _, row := range f.rows {
		if row.ParentID != nil {
			continue
		}
		if f.matches(qs, row) {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Title < matched[j].Title })
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return append([]Row(nil), matched[offset:end]...), nil
}

func (f *filteringSource) matches(qs *querySet, row Row) bool {
	base := 3
	if qs.hasUser {
		base = 4
	}
	searched := false
	searchHit := false
	for slot, col := range qs.slots {
		term, _ := qs.filterValues[slot-base].(string)
		switch col {
		case ColumnID:
			searched = true
			if strings.Contains(row.ID, strings.Trim(term, "%")) {
				searchHit = true
			}
		case ColumnTitle:
			searched = true
			if strings.Contains(row.Title, strings.Trim(term, "%")) {
				searchHit = true
			}
		case ColumnConsole:
			if string(row.Console) != term && row.Console != catalog.ConsoleNA {
				return false
			}
		case ColumnRegion:
			if string(row.Region) != term && row.Region != catalog.RegionNA {
				return false
			}
		}
	}
	return !searched || searchHit
}

func (f *filteringSource) runChildQuery(ctx context.Context, qs *querySet, parentIDs []string) ([]Row, error) {
	var out []Row
	for _, id := range parentIDs {
		out = append(out, f.children[id]...)
	}
	return out, nil
}

func (f *filteringSource) lookupRowsByID(ctx context.Context, qs *querySet, ids []string) ([]Row, error) {
	return nil, nil
}

func TestQueryGamesConsoleFilterScenario(t *testing.T) {
	ps1 := leaf("d-1", "D")
	ps1.Console = catalog.ConsolePS1

	source := &filteringSource{
		rows: []Row{
			leaf("c-1", "C"),
			leaf("a-1", "A"),
			leaf("b-1", "B"),
			ps1,
			aggregate("z-1_agg", "Zeta Collection"),
		},
		children: map[string][]Row{
			"z-1_agg": {
				childOf("z-1_agg", "z-1", "Zeta"),
				childOf("z-1_agg", "z-2", "Zeta 2"),
			},
		},
	}

	consoleQuery := func(console string, take int) *GameQuery {
		return &GameQuery{
			Filters: map[Column]ColumnFilter{ColumnConsole: {}},
			Terms:   map[Column]string{ColumnConsole: console},
			Sort:    Sort{ColumnTitle: {Priority: 1}},
			Take:    take,
		}
	}

	t.Run("title order and page size over the filtered set", func(t *testing.T) {
		out := queryGames(t, source, consoleQuery("PS2", 2))

		require.Len(t, out, 2)
		assert.Equal(t, "A", out[0].Title)
		assert.Equal(t, "B", out[1].Title)
	})

	t.Run("other console is excluded, sentinel rows are not", func(t *testing.T) {
		out := queryGames(t, source, consoleQuery("PS2", 10))

		assert.Equal(t, []string{"a-1", "b-1", "c-1", "z-1_agg"}, resultIDs(out))
		assert.Len(t, out[3].Subgames, 2)
	})

	t.Run("a filter matching no leaf still returns aggregates whole", func(t *testing.T) {
		out := queryGames(t, source, consoleQuery("PSP", 10))

		assert.Equal(t, []string{"z-1_agg"}, resultIDs(out))
		assert.Len(t, out[0].Subgames, 2)
	})
}

func TestQueryGamesOrphanRepair(t *testing.T) {
	// the page's child query surfaces one stray row whose parent fell
	// outside the window; the resolver fetches that parent directly and
	// then its whole child set, so the family is never emitted split
	source := &fakeSource{
		topLevel: []Row{
			aggregate("b-1_agg", "Breath of Fire"),
		},
		children: map[string][]Row{
			"b-1_agg": {
				childOf("b-1_agg", "b-1", "Breath of Fire III"),
				childOf("b-1_agg", "b-2", "Breath of Fire IV"),
				childOf("z-1_agg", "z-1", "Zone of the Enders"),
			},
			"z-1_agg": {
				childOf("z-1_agg", "z-1", "Zone of the Enders"),
				childOf("z-1_agg", "z-2", "Zone of the Enders 2"),
			},
		},
		byID: map[string]Row{
			"z-1_agg": aggregate("z-1_agg", "Zone of the Enders"),
		},
	}

	out := queryGames(t, source, &GameQuery{Take: 5})

	require.Len(t, source.lookupCalls, 1)
	assert.Equal(t, []string{"z-1_agg"}, source.lookupCalls[0])

	assert.Equal(t, []string{"b-1_agg", "z-1_agg"}, resultIDs(out))
	require.Len(t, out[0].Subgames, 2)
	require.Len(t, out[1].Subgames, 2)
	assert.Equal(t, "z-1", out[1].Subgames[0].ID)
	assert.Equal(t, "z-2", out[1].Subgames[1].ID)
}

func TestQueryGamesDropsUnresolvableChild(t *testing.T) {
	source := &fakeSource{
		topLevel: []Row{
			aggregate("b-1_agg", "Breath of Fire"),
		},
		children: map[string][]Row{
			"b-1_agg": {
				childOf("b-1_agg", "b-1", "Breath of Fire III"),
				childOf("gone_agg", "g-1", "Ghost"),
			},
		},
		// lookup finds nothing for gone_agg
	}

	out := queryGames(t, source, &GameQuery{Take: 5})

	assert.Equal(t, []string{"b-1_agg"}, resultIDs(out))
	require.Len(t, out[0].Subgames, 1)
	assert.Equal(t, "b-1", out[0].Subgames[0].ID)
}

func TestQueryGamesRejectsNestedParent(t *testing.T) {
	// orphan repair resolves the missing parent, but the row is itself a
	// child; the two-level model has no place for it
	nested := aggregate("n-1_agg", "Nested")
	bad := "other_agg"
	nested.ParentID = &bad

	source := &fakeSource{
		topLevel: []Row{
			leaf("a-1", "A"),
		},
		children: map[string][]Row{
			"a-1": {childOf("n-1_agg", "n-1", "N")},
		},
		byID: map[string]Row{
			"n-1_agg": nested,
		},
	}

	out := queryGames(t, source, &GameQuery{Take: 5})

	assert.Equal(t, []string{"a-1"}, resultIDs(out))
	assert.Empty(t, out[0].Subgames)
}

func TestQueryGamesSpecErrors(t *testing.T) {
	r := &Resolver{source: &fakeSource{}}

	_, err := r.QueryGames(context.Background(), &GameQuery{OwnedFirst: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = r.QueryGames(context.Background(), &GameQuery{
		Filters: map[Column]ColumnFilter{ColumnTitle: {}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func idFor(i int) string {
	return "g-" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}
