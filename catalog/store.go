package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/elgris/sqrl"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"
)

var (
	ErrNotFound    = errors.New("game not found")
	ErrInvalidGame = errors.New("invalid game")
)

var gameColumns = []string{"id", "title", "console", "region", "parent_id", "additional_info"}

// Store owns the catalog mutations. Every mutation that can shrink a family
// runs the orphan-cleanup rule in the same transaction: an aggregate left
// with one child or none is dissolved and the survivor's parent_id cleared.
type Store struct {
	db sqrlx.Transactor
}

func NewStore(db sqrlx.Transactor) *Store {
	return &Store{db: db}
}

var writeOpts = &sqrlx.TxOptions{
	Retryable: true,
	Isolation: sql.LevelReadCommitted,
}

var readOpts = &sqrlx.TxOptions{
	ReadOnly:  true,
	Retryable: true,
	Isolation: sql.LevelReadCommitted,
}

func validateGame(game Game) error {
	if game.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidGame)
	}
	if !IsSafeID(game.ID) {
		return fmt.Errorf("%w: id %q does not follow the two-part code convention", ErrInvalidGame, game.ID)
	}
	if game.Title == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidGame)
	}
	if !game.Console.Valid() {
		return fmt.Errorf("%w: unknown console %q", ErrInvalidGame, game.Console)
	}
	if !game.Region.Valid() {
		return fmt.Errorf("%w: unknown region %q", ErrInvalidGame, game.Region)
	}
	return nil
}

// CreateGame inserts a single leaf. Aggregates are created only through
// Group, so aggregate ids are rejected here.
func (s *Store) CreateGame(ctx context.Context, game Game) error {
	if game.IsAggregate() {
		return fmt.Errorf("%w: aggregate rows are created by grouping", ErrInvalidGame)
	}
	if err := validateGame(game); err != nil {
		return err
	}

	return s.db.Transact(ctx, writeOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		if game.ParentID != nil {
			parent, err := getGame(ctx, tx, *game.ParentID)
			if err != nil {
				return fmt.Errorf("parent %s: %w", *game.ParentID, err)
			}
			if !parent.IsAggregate() {
				return fmt.Errorf("%w: parent %s is not an aggregate", ErrInvalidGame, parent.ID)
			}
		}
		_, err := tx.Insert(ctx, insertGame(game))
		if err != nil {
			return fmt.Errorf("insert game %s: %w", game.ID, err)
		}
		return nil
	})
}

// ImportBatch inserts pre-normalized games in one transaction, all or
// nothing.
func (s *Store) ImportBatch(ctx context.Context, games []Game) error {
	if len(games) == 0 {
		return nil
	}
	for _, game := range games {
		if err := validateGame(game); err != nil {
			return err
		}
	}

	return s.db.Transact(ctx, writeOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		insert := sq.Insert("game").Columns(gameColumns...)
		for _, game := range games {
			insert.Values(game.ID, game.Title, game.Console, game.Region, game.ParentID, game.AdditionalInfo)
		}
		if _, err := tx.Insert(ctx, insert); err != nil {
			return fmt.Errorf("import batch: %w", err)
		}
		log.WithField(ctx, "count", len(games)).Info("imported games")
		return nil
	})
}

// AllGames returns the whole catalog in id order, the export mirror of
// ImportBatch.
func (s *Store) AllGames(ctx context.Context) ([]Game, error) {
	out := []Game{}
	err := s.db.Transact(ctx, readOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		rows, err := tx.Query(ctx, sq.Select(gameColumns...).From("game").OrderBy("id"))
		if err != nil {
			return fmt.Errorf("export games: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			game, err := scanGame(rows)
			if err != nil {
				return err
			}
			out = append(out, *game)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateGame rewrites the mutable columns. Hierarchy moves go through
// Reparent, which knows the cleanup rule.
func (s *Store) UpdateGame(ctx context.Context, game Game) error {
	if err := validateGame(game); err != nil {
		return err
	}

	return s.db.Transact(ctx, writeOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		res, err := tx.Update(ctx, sq.Update("game").
			Set("title", game.Title).
			Set("console", game.Console).
			Set("region", game.Region).
			Set("additional_info", game.AdditionalInfo).
			Where("id = ?", game.ID))
		if err != nil {
			return fmt.Errorf("update game %s: %w", game.ID, err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("game %s: %w", game.ID, ErrNotFound)
		}
		return nil
	})
}

// RemoveGames deletes games and their library rows, clears the children of
// any removed aggregate, and runs orphan cleanup on every family the
// removal touched.
func (s *Store) RemoveGames(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return s.db.Transact(ctx, writeOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		removed := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			removed[id] = struct{}{}
		}

		touched, err := parentsOf(ctx, tx, ids)
		if err != nil {
			return err
		}

		if _, err := tx.Update(ctx, sq.Update("game").
			Set("parent_id", nil).
			Where("parent_id = ANY(?)", pq.Array(ids))); err != nil {
			return fmt.Errorf("release children: %w", err)
		}

		if _, err := tx.Delete(ctx, sq.Delete("game").
			Where("id = ANY(?)", pq.Array(ids))); err != nil {
			return fmt.Errorf("delete games: %w", err)
		}

		for _, parentID := range touched {
			if _, gone := removed[parentID]; gone {
				continue
			}
			if err := cleanupOrphans(ctx, tx, parentID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Group creates an aggregate over the given members. Members must be
// top-level leaves and there must be at least two of them; the aggregate id
// derives from the first member, its console and region carry the NA
// sentinel.
func (s *Store) Group(ctx context.Context, title string, memberIDs []string) (string, error) {
	if len(memberIDs) < 2 {
		return "", fmt.Errorf("%w: a group needs at least two members", ErrInvalidGame)
	}
	if title == "" {
		return "", fmt.Errorf("%w: missing group title", ErrInvalidGame)
	}

	aggregateID := memberIDs[0] + AggregateSuffix
	err := s.db.Transact(ctx, writeOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		members, err := gamesByID(ctx, tx, memberIDs)
		if err != nil {
			return err
		}
		if len(members) != len(memberIDs) {
			return fmt.Errorf("group members: %w", ErrNotFound)
		}
		for _, member := range members {
			if member.IsAggregate() {
				return fmt.Errorf("%w: %s is an aggregate, groups hold only leaves", ErrInvalidGame, member.ID)
			}
			if member.ParentID != nil {
				return fmt.Errorf("%w: %s already belongs to %s", ErrInvalidGame, member.ID, *member.ParentID)
			}
		}

		aggregate := Game{
			ID:      aggregateID,
			Title:   title,
			Console: ConsoleNA,
			Region:  RegionNA,
		}
		if _, err := tx.Insert(ctx, insertGame(aggregate)); err != nil {
			return fmt.Errorf("insert aggregate %s: %w", aggregateID, err)
		}

		if _, err := tx.Update(ctx, sq.Update("game").
			Set("parent_id", aggregateID).
			Where("id = ANY(?)", pq.Array(memberIDs))); err != nil {
			return fmt.Errorf("attach members: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return aggregateID, nil
}

// Reparent moves a leaf to a new aggregate, or to the top level when
// newParentID is nil. The old family gets orphan cleanup.
func (s *Store) Reparent(ctx context.Context, gameID string, newParentID *string) error {
	return s.db.Transact(ctx, writeOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		game, err := getGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if newParentID != nil {
			if game.IsAggregate() {
				return fmt.Errorf("%w: %s is an aggregate and cannot be nested", ErrInvalidGame, gameID)
			}
			parent, err := getGame(ctx, tx, *newParentID)
			if err != nil {
				return fmt.Errorf("parent %s: %w", *newParentID, err)
			}
			if !parent.IsAggregate() {
				return fmt.Errorf("%w: parent %s is not an aggregate", ErrInvalidGame, parent.ID)
			}
		}

		if _, err := tx.Update(ctx, sq.Update("game").
			Set("parent_id", newParentID).
			Where("id = ?", gameID)); err != nil {
			return fmt.Errorf("reparent %s: %w", gameID, err)
		}

		if game.ParentID != nil && (newParentID == nil || *newParentID != *game.ParentID) {
			if err := cleanupOrphans(ctx, tx, *game.ParentID); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveFromGroup detaches a leaf from its aggregate.
func (s *Store) RemoveFromGroup(ctx context.Context, gameID string) error {
	return s.Reparent(ctx, gameID, nil)
}

// SetOwnership marks or unmarks a game in a user's library. Marking is
// idempotent.
func (s *Store) SetOwnership(ctx context.Context, userID uuid.UUID, gameID string, owned bool) error {
	return s.db.Transact(ctx, writeOpts, func(ctx context.Context, tx sqrlx.Transaction) error {
		if _, err := getGame(ctx, tx, gameID); err != nil {
			return err
		}
		if owned {
			_, err := tx.Insert(ctx, sq.Insert("library").
				Columns("user_id", "game_id").
				Values(userID, gameID).
				Suffix("ON CONFLICT DO NOTHING"))
			if err != nil {
				return fmt.Errorf("mark ownership: %w", err)
			}
			return nil
		}
		_, err := tx.Delete(ctx, sq.Delete("library").
			Where("user_id = ?", userID).
			Where("game_id = ?", gameID))
		if err != nil {
			return fmt.Errorf("clear ownership: %w", err)
		}
		return nil
	})
}

// cleanupOrphans dissolves an aggregate that no longer has enough children:
// at most one child left, the aggregate is deleted and the survivor, if any,
// becomes top-level. Library rows on the aggregate cascade away with it.
func cleanupOrphans(ctx context.Context, tx sqrlx.Transaction, parentID string) error {
	children, err := childIDs(ctx, tx, parentID)
	if err != nil {
		return err
	}
	if len(children) >= 2 {
		return nil
	}

	if len(children) == 1 {
		if _, err := tx.Update(ctx, sq.Update("game").
			Set("parent_id", nil).
			Where("id = ?", children[0])); err != nil {
			return fmt.Errorf("release last child of %s: %w", parentID, err)
		}
	}

	if _, err := tx.Delete(ctx, sq.Delete("game").Where("id = ?", parentID)); err != nil {
		return fmt.Errorf("dissolve aggregate %s: %w", parentID, err)
	}
	log.WithField(ctx, "aggregate", parentID).Info("dissolved aggregate")
	return nil
}

func insertGame(game Game) *sq.InsertBuilder {
	return sq.Insert("game").
		Columns(gameColumns...).
		Values(game.ID, game.Title, game.Console, game.Region, game.ParentID, game.AdditionalInfo)
}

func getGame(ctx context.Context, tx sqrlx.Transaction, id string) (*Game, error) {
	row := tx.SelectRow(ctx, sq.Select(gameColumns...).From("game").Where("id = ?", id))
	game, err := scanGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get game %s: %w", id, err)
	}
	return game, nil
}

func gamesByID(ctx context.Context, tx sqrlx.Transaction, ids []string) ([]Game, error) {
	rows, err := tx.Query(ctx, sq.Select(gameColumns...).
		From("game").
		Where("id = ANY(?)", pq.Array(ids)))
	if err != nil {
		return nil, fmt.Errorf("games by id: %w", err)
	}
	defer rows.Close()

	var out []Game
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *game)
	}
	return out, rows.Err()
}

func parentsOf(ctx context.Context, tx sqrlx.Transaction, ids []string) ([]string, error) {
	rows, err := tx.Query(ctx, sq.Select("DISTINCT parent_id").
		From("game").
		Where("id = ANY(?)", pq.Array(ids)).
		Where("parent_id IS NOT NULL"))
	if err != nil {
		return nil, fmt.Errorf("touched parents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var parentID string
		if err := rows.Scan(&parentID); err != nil {
			return nil, err
		}
		out = append(out, parentID)
	}
	return out, rows.Err()
}

func childIDs(ctx context.Context, tx sqrlx.Transaction, parentID string) ([]string, error) {
	rows, err := tx.Query(ctx, sq.Select("id").
		From("game").
		Where("parent_id = ?", parentID))
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(...interface{}) error
}

func scanGame(row rowScanner) (*Game, error) {
	var game Game
	var console, region string
	var parentID, additionalInfo sql.NullString

	if err := row.Scan(&game.ID, &game.Title, &console, &region, &parentID, &additionalInfo); err != nil {
		return nil, err
	}
	game.Console = Console(console)
	game.Region = Region(region)
	if parentID.Valid {
		game.ParentID = &parentID.String
	}
	if additionalInfo.Valid {
		game.AdditionalInfo = &additionalInfo.String
	}
	return &game, nil
}
