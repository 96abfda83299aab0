package catalog

import (
	"fmt"
	"strings"
)

// ImportRow is one record of an import file. Older files carry the title
// under "name" and spell regions loosely (ntscu, pal, ...), both are
// accepted.
type ImportRow struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Name    string  `json:"name"`
	Console Console `json:"console"`
	Region  string  `json:"region"`
}

// NormalizeImport validates and canonicalizes an import file: region
// aliases resolve to the enum, a missing console takes the default, ids
// must follow the two-part code convention. The batch is rejected on the
// first bad record, imports are all or nothing.
func NormalizeImport(rows []ImportRow, defaultConsole Console) ([]Game, error) {
	if !defaultConsole.Valid() || defaultConsole == ConsoleNA {
		return nil, fmt.Errorf("%w: default console %q", ErrInvalidGame, defaultConsole)
	}

	out := make([]Game, 0, len(rows))
	for i, row := range rows {
		title := strings.TrimSpace(row.Title)
		if title == "" {
			title = strings.TrimSpace(row.Name)
		}
		if title == "" {
			return nil, fmt.Errorf("%w: record %d has no title", ErrInvalidGame, i+1)
		}

		id := strings.TrimSpace(row.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: record %d has no id", ErrInvalidGame, i+1)
		}
		if strings.HasSuffix(id, AggregateSuffix) || !IsSafeID(id) {
			return nil, fmt.Errorf("%w: record %d id %q does not follow the two-part code convention", ErrInvalidGame, i+1, id)
		}

		region, ok := ParseRegion(row.Region)
		if !ok {
			return nil, fmt.Errorf("%w: record %d has invalid region %q", ErrInvalidGame, i+1, row.Region)
		}

		console := row.Console
		if console == "" {
			console = defaultConsole
		}
		if !console.Valid() || console == ConsoleNA {
			return nil, fmt.Errorf("%w: record %d has invalid console %q", ErrInvalidGame, i+1, row.Console)
		}

		out = append(out, Game{
			ID:      id,
			Title:   title,
			Console: console,
			Region:  region,
		})
	}
	return out, nil
}
