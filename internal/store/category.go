// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"procgrid/internal/catalog"
	"procgrid/internal/models"
)

// querier is the subset of *sql.DB and *sql.Tx the store needs, so the same
// queries run inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CategoryStore manages the category forest in PostgreSQL.
type CategoryStore struct {
	db   querier
	conn *sql.DB
}

// NewCategoryStore returns a new CategoryStore.
func NewCategoryStore(db *sql.DB) *CategoryStore {
	return &CategoryStore{db: db, conn: db}
}

// maxTreeWalk bounds the recursive CTEs so a corrupted parent cycle cannot
// loop forever.
const maxTreeWalk = 64

const categoryColumns = `c.id, c.parent_id, c.name, c.slug, c.description, c.image_url,
	c.level, c.path, c.active, c.children_count, c.product_count, c.deleted,
	c.metadata, c.created_at, c.created_by, c.updated_at, c.updated_by`

// scanCategory scans a row selected with categoryColumns.
func scanCategory(scanner interface{ Scan(...any) error }) (*models.Category, error) {
	var c models.Category
	err := scanner.Scan(
		&c.ID, &c.ParentID, &c.Name, &c.Slug, &c.Description, &c.ImageURL,
		&c.Level, &c.Path, &c.Active, &c.ChildrenCount, &c.ProductCount, &c.Deleted,
		&c.Metadata, &c.CreatedAt, &c.CreatedBy, &c.UpdatedAt, &c.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InTx runs fn in a READ COMMITTED transaction. Structural writers serialize
// through LockTrees, so each statement must see rows committed while the
// lock was awaited.
func (s *CategoryStore) InTx(ctx context.Context, fn func(tx catalog.Repository) error) error {
	if s.conn == nil {
		return fn(s)
	}
	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&CategoryStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *CategoryStore) findOne(ctx context.Context, where string, args ...any) (*models.Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories c WHERE `+where+` LIMIT 1`, args...)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CategoryStore) list(ctx context.Context, query string, args ...any) ([]*models.Category, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*models.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// FindByID retrieves a live category by ID. Returns nil if not found.
func (s *CategoryStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	c, err := s.findOne(ctx, `c.id = $1 AND NOT c.deleted`, id)
	if err != nil {
		return nil, fmt.Errorf("find category by id: %w", err)
	}
	return c, nil
}

// FindBySlug retrieves the shallowest live category with the slug.
func (s *CategoryStore) FindBySlug(ctx context.Context, slug string) (*models.Category, error) {
	c, err := s.findOne(ctx, `c.slug = $1 AND NOT c.deleted ORDER BY c.level, c.path`, slug)
	if err != nil {
		return nil, fmt.Errorf("find category by slug: %w", err)
	}
	return c, nil
}

// FindByPath retrieves the live category at a materialized path.
func (s *CategoryStore) FindByPath(ctx context.Context, path string) (*models.Category, error) {
	c, err := s.findOne(ctx, `c.path = $1 AND NOT c.deleted`, path)
	if err != nil {
		return nil, fmt.Errorf("find category by path: %w", err)
	}
	return c, nil
}

// FindSiblingByName retrieves the live child of parentID named name.
// A nil parentID searches the roots.
func (s *CategoryStore) FindSiblingByName(ctx context.Context, parentID *uuid.UUID, name string) (*models.Category, error) {
	c, err := s.findOne(ctx, `c.parent_id IS NOT DISTINCT FROM $1 AND c.name = $2 AND NOT c.deleted`, parentID, name)
	if err != nil {
		return nil, fmt.Errorf("find sibling by name: %w", err)
	}
	return c, nil
}

// SlugTaken reports whether a live child of parentID other than excludeID uses slug.
func (s *CategoryStore) SlugTaken(ctx context.Context, parentID *uuid.UUID, slug string, excludeID uuid.UUID) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM categories
			WHERE parent_id IS NOT DISTINCT FROM $1 AND slug = $2 AND id <> $3 AND NOT deleted
		)`, parentID, slug, excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return taken, nil
}

// Ancestors walks parent_id upward and returns the chain root first.
func (s *CategoryStore) Ancestors(ctx context.Context, id uuid.UUID) ([]*models.Category, error) {
	items, err := s.list(ctx, `
		WITH RECURSIVE chain AS (
			SELECT parent_id, 1 AS depth FROM categories WHERE id = $1
			UNION ALL
			SELECT p.parent_id, chain.depth + 1
			FROM categories p JOIN chain ON p.id = chain.parent_id
			WHERE chain.depth < $2
		)
		SELECT `+categoryColumns+`
		FROM chain JOIN categories c ON c.id = chain.parent_id
		ORDER BY chain.depth DESC`, id, maxTreeWalk)
	if err != nil {
		return nil, fmt.Errorf("list ancestors: %w", err)
	}
	return items, nil
}

// Descendants walks parent_id downward and returns live nodes shallowest first.
func (s *CategoryStore) Descendants(ctx context.Context, id uuid.UUID) ([]*models.Category, error) {
	items, err := s.list(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id, 1 AS depth FROM categories WHERE parent_id = $1 AND NOT deleted
			UNION ALL
			SELECT k.id, tree.depth + 1
			FROM categories k JOIN tree ON k.parent_id = tree.id
			WHERE NOT k.deleted AND tree.depth < $2
		)
		SELECT `+categoryColumns+`
		FROM tree JOIN categories c ON c.id = tree.id
		ORDER BY tree.depth, c.name`, id, maxTreeWalk)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	return items, nil
}

// ListRoots returns live root categories ordered by name.
func (s *CategoryStore) ListRoots(ctx context.Context) ([]*models.Category, error) {
	items, err := s.list(ctx, `SELECT `+categoryColumns+` FROM categories c
		WHERE c.parent_id IS NULL AND NOT c.deleted ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	return items, nil
}

// ListChildren returns the live direct children of parentID ordered by name.
func (s *CategoryStore) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Category, error) {
	items, err := s.list(ctx, `SELECT `+categoryColumns+` FROM categories c
		WHERE c.parent_id = $1 AND NOT c.deleted ORDER BY c.name`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return items, nil
}

// ListByLevel returns live categories at level ordered by path.
func (s *CategoryStore) ListByLevel(ctx context.Context, level int) ([]*models.Category, error) {
	items, err := s.list(ctx, `SELECT `+categoryColumns+` FROM categories c
		WHERE c.level = $1 AND NOT c.deleted ORDER BY c.path`, level)
	if err != nil {
		return nil, fmt.Errorf("list by level: %w", err)
	}
	return items, nil
}

// ListLeaves returns live categories with no live children, ordered by path.
func (s *CategoryStore) ListLeaves(ctx context.Context) ([]*models.Category, error) {
	items, err := s.list(ctx, `SELECT `+categoryColumns+` FROM categories c
		WHERE NOT c.deleted AND NOT EXISTS (
			SELECT 1 FROM categories k WHERE k.parent_id = c.id AND NOT k.deleted
		)
		ORDER BY c.path`)
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	return items, nil
}

// popularColumns is categoryColumns with product_count taken from the live
// product rows instead of the stored counter.
var popularColumns = strings.Replace(categoryColumns, "c.product_count", "COALESCE(pc.n, 0)", 1)

// ListPopular returns active categories by descending count of non-deleted
// products, counted from the products table at query time.
func (s *CategoryStore) ListPopular(ctx context.Context, limit int) ([]*models.Category, error) {
	items, err := s.list(ctx, `SELECT `+popularColumns+` FROM categories c
		LEFT JOIN (
			SELECT category_id, COUNT(*) AS n FROM products
			WHERE NOT deleted
			GROUP BY category_id
		) pc ON pc.category_id = c.id
		WHERE c.active AND NOT c.deleted
		ORDER BY COALESCE(pc.n, 0) DESC, c.name
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list popular: %w", err)
	}
	return items, nil
}

// ListPage returns one page of live categories ordered by path, plus the
// total matching count.
func (s *CategoryStore) ListPage(ctx context.Context, activeOnly bool, offset, limit int) ([]*models.Category, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM categories
		WHERE NOT deleted AND (active OR NOT $1)`, activeOnly,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count categories: %w", err)
	}

	items, err := s.list(ctx, `SELECT `+categoryColumns+` FROM categories c
		WHERE NOT c.deleted AND (c.active OR NOT $1)
		ORDER BY c.path
		LIMIT $2 OFFSET $3`, activeOnly, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list page: %w", err)
	}
	return items, total, nil
}

// Search returns live categories whose name contains query, ignoring case.
func (s *CategoryStore) Search(ctx context.Context, query string, limit int) ([]*models.Category, error) {
	items, err := s.list(ctx, `SELECT `+categoryColumns+` FROM categories c
		WHERE NOT c.deleted AND c.name ILIKE $1 ESCAPE '\'
		ORDER BY c.level, c.name
		LIMIT $2`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search categories: %w", err)
	}
	return items, nil
}

// ListAll returns every live category ordered by level and path.
func (s *CategoryStore) ListAll(ctx context.Context) ([]*models.Category, error) {
	items, err := s.list(ctx, `SELECT `+categoryColumns+` FROM categories c
		WHERE NOT c.deleted ORDER BY c.level, c.path`)
	if err != nil {
		return nil, fmt.Errorf("list all categories: %w", err)
	}
	return items, nil
}

// CountChildren counts the live children of id.
func (s *CategoryStore) CountChildren(ctx context.Context, id uuid.UUID, activeOnly bool) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM categories
		WHERE parent_id = $1 AND NOT deleted AND (active OR NOT $2)`, id, activeOnly,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	return n, nil
}

// CountProducts counts the live products linked directly to id.
func (s *CategoryStore) CountProducts(ctx context.Context, id uuid.UUID, activeOnly bool) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM products
		WHERE category_id = $1 AND NOT deleted AND (active OR NOT $2)`, id, activeOnly,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// ProductStats aggregates the live products linked directly to id.
func (s *CategoryStore) ProductStats(ctx context.Context, id uuid.UUID) (*models.CategoryStats, error) {
	stats := &models.CategoryStats{CategoryID: id}
	var avg decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE active), AVG(price)
		FROM products
		WHERE category_id = $1 AND NOT deleted`, id,
	).Scan(&stats.TotalProducts, &stats.ActiveProducts, &avg)
	if err != nil {
		return nil, fmt.Errorf("product stats: %w", err)
	}
	stats.InactiveProducts = stats.TotalProducts - stats.ActiveProducts
	if avg.Valid {
		stats.AveragePrice = avg.Decimal.Round(2)
	}
	return stats, nil
}

// Insert creates a category row. A nil ID is replaced with a fresh one, and
// the stored timestamps are copied back into c.
func (s *CategoryStore) Insert(ctx context.Context, c *models.Category) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (
			id, parent_id, name, slug, description, image_url, level, path,
			active, metadata, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING children_count, product_count, created_at, updated_at`,
		c.ID, c.ParentID, c.Name, c.Slug, c.Description, c.ImageURL, c.Level, c.Path,
		c.Active, c.Metadata, c.CreatedBy, c.UpdatedBy,
	).Scan(&c.ChildrenCount, &c.ProductCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert category: %w", mapPgError(err))
	}
	return nil
}

// Update writes the mutable columns of c. Counters are left untouched.
func (s *CategoryStore) Update(ctx context.Context, c *models.Category) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE categories SET
			parent_id = $2, name = $3, slug = $4, description = $5, image_url = $6,
			level = $7, path = $8, active = $9, deleted = $10, metadata = $11,
			updated_by = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.ParentID, c.Name, c.Slug, c.Description, c.ImageURL,
		c.Level, c.Path, c.Active, c.Deleted, c.Metadata, c.UpdatedBy,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update category: %w: %s", catalog.ErrNotFound, c.ID)
	}
	if err != nil {
		return fmt.Errorf("update category: %w", mapPgError(err))
	}
	return nil
}

// AdjustChildrenCount adds delta to the children counter, never below zero.
func (s *CategoryStore) AdjustChildrenCount(ctx context.Context, id uuid.UUID, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE categories SET children_count = GREATEST(children_count + $2, 0)
		WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("adjust children count: %w", err)
	}
	return nil
}

// SetCounters overwrites both denormalized counters.
func (s *CategoryStore) SetCounters(ctx context.Context, id uuid.UUID, children, products int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE categories SET children_count = $2, product_count = $3
		WHERE id = $1`, id, children, products)
	if err != nil {
		return fmt.Errorf("set counters: %w", err)
	}
	return nil
}

// DeactivateChildren deactivates the live, active direct children of
// parentID and returns how many changed.
func (s *CategoryStore) DeactivateChildren(ctx context.Context, parentID uuid.UUID, actor string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET active = FALSE, updated_by = $2, updated_at = NOW()
		WHERE parent_id = $1 AND active AND NOT deleted`, parentID, actor)
	if err != nil {
		return 0, fmt.Errorf("deactivate children: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate children: %w", err)
	}
	return int(n), nil
}

// LockTrees takes a transaction-scoped advisory lock per root id. Callers
// pass sorted ids so concurrent writers acquire them in the same order.
func (s *CategoryStore) LockTrees(ctx context.Context, rootIDs ...uuid.UUID) error {
	for _, id := range rootIDs {
		if _, err := s.db.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, id.String(),
		); err != nil {
			return fmt.Errorf("lock tree %s: %w", id, err)
		}
	}
	return nil
}

// mapPgError turns a unique violation into catalog.ErrDuplicateName.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", catalog.ErrDuplicateName, pgErr.ConstraintName)
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ catalog.Store = (*CategoryStore)(nil)
