// Package sqlstore keeps a local copy of content fetched from the game API
// (items and quests) plus a small key/value state table. SQLite is the
// default backend; Postgres is supported through the same queries.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/djlord-it/arc-companion/internal/domain"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	DefaultOpTimeout = 5 * time.Second
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidProgress = fmt.Errorf("progress must be between %d and %d", MinProgress, MaxProgress)
)

// Quest progress is a percentage.
const (
	MinProgress = 0
	MaxProgress = 100
)

type itemRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Rarity      string `db:"rarity"`
	Category    string `db:"category"`
	IconURL     string `db:"icon_url"`
	Stats       string `db:"stats"`
}

type questRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Objectives  string `db:"objectives"`
	Rewards     string `db:"rewards"`
	Difficulty  string `db:"difficulty"`
	Completed   bool   `db:"completed"`
	Progress    int    `db:"progress"`
}

// State is one entry of the key/value table.
type State struct {
	Key       string    `db:"state_key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ItemFilter narrows ListItems. Query matches item names case-insensitively.
type ItemFilter struct {
	Category string
	Query    string
	Limit    int
	Offset   int
}

// QuestFilter narrows ListQuests. A nil Completed returns every quest.
type QuestFilter struct {
	Completed *bool
	Limit     int
	Offset    int
}

// syncQueries names the statements used to bring one content table in line
// with a fresh upstream list.
type syncQueries struct {
	upsert     string
	selectIDs  string
	deleteByID string
}

var (
	itemSync  = syncQueries{queryUpsertItem, querySelectItemIDs, queryDeleteItem}
	questSync = syncQueries{queryUpsertQuest, querySelectQuestIDs, queryDeleteQuest}
)

type Store struct {
	db        *sqlx.DB
	opTimeout time.Duration
}

// Open connects with the given driver and bootstraps the schema.
func Open(ctx context.Context, driver, dsn string, opTimeout time.Duration) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection keeps :memory: databases shared and
		// serializes writers.
		db.SetMaxOpenConns(1)
	}
	s := New(db, opTimeout)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sqlx.DB, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection pool for components that share it, such as
// the refresh lock.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// ReplaceItems makes the item table match items in one transaction. Rows
// missing from items are removed; a repeated id keeps the last occurrence.
func (s *Store) ReplaceItems(ctx context.Context, items []domain.Item) error {
	rows := make([]itemRow, 0, len(items))
	for _, it := range items {
		stats, err := marshalJSON(it.Stats, "{}")
		if err != nil {
			return fmt.Errorf("encode stats for item %s: %w", it.ID, err)
		}
		rows = append(rows, itemRow{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Rarity:      it.Rarity,
			Category:    it.Category,
			IconURL:     it.IconURL,
			Stats:       stats,
		})
	}
	return s.sync(ctx, itemSync, len(rows), func(i int) (string, any) { return rows[i].ID, rows[i] })
}

func (s *Store) ListItems(ctx context.Context, f ItemFilter) ([]domain.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	query := querySelectItems
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY name, id\nLIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items := make([]domain.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toDomain())
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (domain.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row itemRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(queryGetItem), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	return row.toDomain(), nil
}

// ReplaceQuests makes the quest table match quests in one transaction.
// Completion and progress of quests that are still listed are kept.
func (s *Store) ReplaceQuests(ctx context.Context, quests []domain.Quest) error {
	rows := make([]questRow, 0, len(quests))
	for _, q := range quests {
		objectives, err := marshalJSON(q.Objectives, "[]")
		if err != nil {
			return fmt.Errorf("encode objectives for quest %s: %w", q.ID, err)
		}
		rewards, err := marshalJSON(q.Rewards, "[]")
		if err != nil {
			return fmt.Errorf("encode rewards for quest %s: %w", q.ID, err)
		}
		rows = append(rows, questRow{
			ID:          q.ID,
			Name:        q.Name,
			Description: q.Description,
			Objectives:  objectives,
			Rewards:     rewards,
			Difficulty:  q.Difficulty,
		})
	}
	return s.sync(ctx, questSync, len(rows), func(i int) (string, any) { return rows[i].ID, rows[i] })
}

func (s *Store) ListQuests(ctx context.Context, f QuestFilter) ([]domain.Quest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := querySelectQuests
	var args []any
	if f.Completed != nil {
		query += "WHERE completed = ?\n"
		args = append(args, *f.Completed)
	}
	query += "ORDER BY name, id\nLIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []questRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	quests := make([]domain.Quest, 0, len(rows))
	for _, r := range rows {
		quests = append(quests, r.toDomain())
	}
	return quests, nil
}

func (s *Store) GetQuest(ctx context.Context, id string) (domain.Quest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row questRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(queryGetQuest), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Quest{}, ErrNotFound
		}
		return domain.Quest{}, fmt.Errorf("get quest: %w", err)
	}
	return row.toDomain(), nil
}

// SetQuestCompleted marks quest id as completed or active again.
func (s *Store) SetQuestCompleted(ctx context.Context, id string, completed bool) error {
	return s.updateQuest(ctx, querySetQuestCompleted, id, completed)
}

// SetQuestProgress records progress, a percentage, for quest id.
func (s *Store) SetQuestProgress(ctx context.Context, id string, progress int) error {
	if progress < MinProgress || progress > MaxProgress {
		return ErrInvalidProgress
	}
	return s.updateQuest(ctx, querySetQuestProgress, id, progress)
}

// ResetQuests clears completion and progress on every quest.
func (s *Store) ResetQuests(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(queryResetQuests), false); err != nil {
		return fmt.Errorf("reset quests: %w", err)
	}
	return nil
}

func (s *Store) updateQuest(ctx context.Context, query, id string, value any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), value, id)
	if err != nil {
		return fmt.Errorf("update quest %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update quest %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutState upserts key. updatedAt is stored in UTC.
func (s *Store) PutState(ctx context.Context, key, value string, updatedAt time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(queryPutState), key, value, updatedAt.UTC()); err != nil {
		return fmt.Errorf("put state %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetState(ctx context.Context, key string) (State, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var st State
	if err := s.db.GetContext(ctx, &st, s.db.Rebind(queryGetState), key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, fmt.Errorf("get state %s: %w", key, err)
	}
	return st, nil
}

// sync upserts n rows and deletes every row whose id was not among them,
// inside one transaction, so readers see either the old set or the new one.
func (s *Store) sync(ctx context.Context, q syncQueries, n int, row func(int) (string, any)) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	keep := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, arg := row(i)
		if _, err := tx.NamedExecContext(ctx, q.upsert, arg); err != nil {
			return fmt.Errorf("upsert row %d: %w", i, err)
		}
		keep[id] = struct{}{}
	}

	var existing []string
	if err := tx.SelectContext(ctx, &existing, q.selectIDs); err != nil {
		return fmt.Errorf("list ids: %w", err)
	}
	deleteByID := tx.Rebind(q.deleteByID)
	for _, id := range existing {
		if _, ok := keep[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, deleteByID, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r itemRow) toDomain() domain.Item {
	it := domain.Item{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Rarity:      r.Rarity,
		Category:    r.Category,
		IconURL:     r.IconURL,
	}
	// Rows are written by ReplaceItems; a decode failure leaves Stats nil.
	_ = json.Unmarshal([]byte(r.Stats), &it.Stats)
	if len(it.Stats) == 0 {
		it.Stats = nil
	}
	return it
}

func (r questRow) toDomain() domain.Quest {
	q := domain.Quest{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Difficulty:  r.Difficulty,
		Completed:   r.Completed,
		Progress:    r.Progress,
	}
	_ = json.Unmarshal([]byte(r.Objectives), &q.Objectives)
	_ = json.Unmarshal([]byte(r.Rewards), &q.Rewards)
	return q
}

func marshalJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if s := string(b); s != "null" {
		return s, nil
	}
	return empty, nil
}
