package gquery

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/elgris/sqrl"
	"github.com/lib/pq"
	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"

	"github.com/SkillGG/psx/catalog"
)

// dbRowSource runs the assembled statements through sqrlx. Each fetch is its
// own read-only transaction; no transaction spans the resolver loop, the
// orphan-repair step tolerates writes landing between rounds.
type dbRowSource struct {
	db sqrlx.Transactor
}

var readOpts = &sqrlx.TxOptions{
	ReadOnly:  true,
	Retryable: true,
	Isolation: sql.LevelReadCommitted,
}

func (s *dbRowSource) runParentQuery(ctx context.Context, qs *querySet, limit, offset int) ([]Row, error) {
	return s.query(ctx, qs.hasUser, sq.Expr(qs.parents, qs.parentArgs(limit, offset)...))
}

func (s *dbRowSource) runChildQuery(ctx context.Context, qs *querySet, parentIDs []string) ([]Row, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	return s.query(ctx, qs.hasUser, sq.Expr(qs.children, qs.childArgs(parentIDs)...))
}

// lookupRowsByID fetches rows directly by id, used only for orphan repair.
// The derived owned flag matches the top-level query variant.
func (s *dbRowSource) lookupRowsByID(ctx context.Context, qs *querySet, ids []string) ([]Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sel := sq.Select(
		"g.id", "g.title", "g.console", "g.region", "g.parent_id", "g.additional_info",
	).From("game AS g")
	if qs.hasUser {
		sel.Column(parentOwnedExpr("?")+" AS owned", qs.userID, qs.userID)
	}
	sel.Where("g.id = ANY(?)", pq.Array(ids))

	return s.query(ctx, qs.hasUser, sel)
}

type sqlizer interface {
	ToSql() (string, []interface{}, error)
}

func (s *dbRowSource) query(ctx context.Context, hasUser bool, stmt sqlizer) ([]Row, error) {
	var out []Row
	err := s.db.Transact(ctx, readOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		rows, err := tx.Query(ctx, stmt)
		if err != nil {
			return fmt.Errorf("run select: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			row, err := scanRow(rows, hasUser)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		text, _, _ := stmt.ToSql()
		log.WithField(ctx, "query", text).Error("game query")
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(...interface{}) error
}

func scanRow(rows rowScanner, hasUser bool) (Row, error) {
	var row Row
	var console, region string
	var parentID, additionalInfo sql.NullString

	dest := []interface{}{&row.ID, &row.Title, &console, &region, &parentID, &additionalInfo}
	if hasUser {
		dest = append(dest, &row.Owned)
	}
	if err := rows.Scan(dest...); err != nil {
		return row, fmt.Errorf("scan game row: %w", err)
	}

	row.Console = catalog.Console(console)
	row.Region = catalog.Region(region)
	if parentID.Valid {
		row.ParentID = &parentID.String
	}
	if additionalInfo.Valid {
		row.AdditionalInfo = &additionalInfo.String
	}
	return row, nil
}
