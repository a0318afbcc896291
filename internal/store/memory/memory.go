// Package memory is an in-process catalog.Store used by tests and by the
// "memory" store driver. Transactions run on a private copy of the state
// that replaces the shared one only when the unit of work succeeds.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"procgrid/internal/catalog"
	"procgrid/internal/models"
)

type state struct {
	categories map[uuid.UUID]*models.Category
	products   map[uuid.UUID]models.Product
}

func (st *state) clone() *state {
	cp := &state{
		categories: make(map[uuid.UUID]*models.Category, len(st.categories)),
		products:   make(map[uuid.UUID]models.Product, len(st.products)),
	}
	for id, c := range st.categories {
		cp.categories[id] = c.Clone()
	}
	for id, p := range st.products {
		cp.products[id] = p
	}
	return cp
}

// Store keeps the forest in memory. The zero value is not usable; call New.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		st: &state{
			categories: make(map[uuid.UUID]*models.Category),
			products:   make(map[uuid.UUID]models.Product),
		},
		now: time.Now,
	}
}

// InTx runs fn against a copy of the state under the store lock. The copy
// becomes the live state only if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx catalog.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&repo{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// AddProduct inserts or replaces a product row. The catalog only reads
// products; this is how tests and seeds put them in place.
func (s *Store) AddProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.st.products[p.ID] = p
}

// read runs fn on the live state under the store lock.
func (s *Store) read(fn func(r *repo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&repo{st: s.st, now: s.now})
}

// write runs fn on the live state. Single-statement writes outside InTx
// are atomic on their own.
func (s *Store) write(fn func(r *repo) error) error {
	return s.InTx(context.Background(), func(tx catalog.Repository) error {
		return fn(tx.(*repo))
	})
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (c *models.Category, err error) {
	s.read(func(r *repo) { c, err = r.FindByID(ctx, id) })
	return
}

func (s *Store) FindBySlug(ctx context.Context, slug string) (c *models.Category, err error) {
	s.read(func(r *repo) { c, err = r.FindBySlug(ctx, slug) })
	return
}

func (s *Store) FindByPath(ctx context.Context, path string) (c *models.Category, err error) {
	s.read(func(r *repo) { c, err = r.FindByPath(ctx, path) })
	return
}

func (s *Store) FindSiblingByName(ctx context.Context, parentID *uuid.UUID, name string) (c *models.Category, err error) {
	s.read(func(r *repo) { c, err = r.FindSiblingByName(ctx, parentID, name) })
	return
}

func (s *Store) SlugTaken(ctx context.Context, parentID *uuid.UUID, slug string, excludeID uuid.UUID) (ok bool, err error) {
	s.read(func(r *repo) { ok, err = r.SlugTaken(ctx, parentID, slug, excludeID) })
	return
}

func (s *Store) Ancestors(ctx context.Context, id uuid.UUID) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.Ancestors(ctx, id) })
	return
}

func (s *Store) Descendants(ctx context.Context, id uuid.UUID) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.Descendants(ctx, id) })
	return
}

func (s *Store) ListRoots(ctx context.Context) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.ListRoots(ctx) })
	return
}

func (s *Store) ListChildren(ctx context.Context, parentID uuid.UUID) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.ListChildren(ctx, parentID) })
	return
}

func (s *Store) ListByLevel(ctx context.Context, level int) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.ListByLevel(ctx, level) })
	return
}

func (s *Store) ListLeaves(ctx context.Context) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.ListLeaves(ctx) })
	return
}

func (s *Store) ListPopular(ctx context.Context, limit int) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.ListPopular(ctx, limit) })
	return
}

func (s *Store) ListPage(ctx context.Context, activeOnly bool, offset, limit int) (cs []*models.Category, total int, err error) {
	s.read(func(r *repo) { cs, total, err = r.ListPage(ctx, activeOnly, offset, limit) })
	return
}

func (s *Store) Search(ctx context.Context, query string, limit int) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.Search(ctx, query, limit) })
	return
}

func (s *Store) ListAll(ctx context.Context) (cs []*models.Category, err error) {
	s.read(func(r *repo) { cs, err = r.ListAll(ctx) })
	return
}

func (s *Store) CountChildren(ctx context.Context, id uuid.UUID, activeOnly bool) (n int, err error) {
	s.read(func(r *repo) { n, err = r.CountChildren(ctx, id, activeOnly) })
	return
}

func (s *Store) CountProducts(ctx context.Context, id uuid.UUID, activeOnly bool) (n int, err error) {
	s.read(func(r *repo) { n, err = r.CountProducts(ctx, id, activeOnly) })
	return
}

func (s *Store) ProductStats(ctx context.Context, id uuid.UUID) (st *models.CategoryStats, err error) {
	s.read(func(r *repo) { st, err = r.ProductStats(ctx, id) })
	return
}

func (s *Store) Insert(ctx context.Context, c *models.Category) error {
	return s.write(func(r *repo) error { return r.Insert(ctx, c) })
}

func (s *Store) Update(ctx context.Context, c *models.Category) error {
	return s.write(func(r *repo) error { return r.Update(ctx, c) })
}

func (s *Store) AdjustChildrenCount(ctx context.Context, id uuid.UUID, delta int) error {
	return s.write(func(r *repo) error { return r.AdjustChildrenCount(ctx, id, delta) })
}

func (s *Store) SetCounters(ctx context.Context, id uuid.UUID, children, products int) error {
	return s.write(func(r *repo) error { return r.SetCounters(ctx, id, children, products) })
}

func (s *Store) DeactivateChildren(ctx context.Context, parentID uuid.UUID, actor string) (n int, err error) {
	err = s.write(func(r *repo) error {
		n, err = r.DeactivateChildren(ctx, parentID, actor)
		return err
	})
	return
}

// LockTrees is a no-op: InTx already holds the store-wide lock.
func (s *Store) LockTrees(context.Context, ...uuid.UUID) error { return nil }

// repo implements catalog.Repository over one state snapshot. The caller
// holds the store lock for its whole lifetime.
type repo struct {
	st  *state
	now func() time.Time
}

func (r *repo) live() []*models.Category {
	out := make([]*models.Category, 0, len(r.st.categories))
	for _, c := range r.st.categories {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	return out
}

func (r *repo) filter(keep func(*models.Category) bool, order func(a, b *models.Category) int) []*models.Category {
	out := []*models.Category{}
	for _, c := range r.live() {
		if keep(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, order)
	return clones(out)
}

func (r *repo) first(keep func(*models.Category) bool, order func(a, b *models.Category) int) *models.Category {
	if hits := r.filter(keep, order); len(hits) > 0 {
		return hits[0]
	}
	return nil
}

func byName(a, b *models.Category) int {
	return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.Path, b.Path))
}

func byPath(a, b *models.Category) int {
	return cmp.Or(strings.Compare(a.Path, b.Path), strings.Compare(a.ID.String(), b.ID.String()))
}

func byLevelThenName(a, b *models.Category) int {
	return cmp.Or(cmp.Compare(a.Level, b.Level), byName(a, b))
}

func byLevelThenPath(a, b *models.Category) int {
	return cmp.Or(cmp.Compare(a.Level, b.Level), byPath(a, b))
}

func clones(cs []*models.Category) []*models.Category {
	for i, c := range cs {
		cs[i] = c.Clone()
	}
	return cs
}

func (r *repo) FindByID(_ context.Context, id uuid.UUID) (*models.Category, error) {
	c, ok := r.st.categories[id]
	if !ok || c.Deleted {
		return nil, nil
	}
	return c.Clone(), nil
}

func (r *repo) FindBySlug(_ context.Context, slug string) (*models.Category, error) {
	return r.first(func(c *models.Category) bool { return c.Slug == slug }, byLevelThenPath), nil
}

func (r *repo) FindByPath(_ context.Context, path string) (*models.Category, error) {
	return r.first(func(c *models.Category) bool { return c.Path == path }, byPath), nil
}

func (r *repo) FindSiblingByName(_ context.Context, parentID *uuid.UUID, name string) (*models.Category, error) {
	return r.first(func(c *models.Category) bool {
		return models.SameParent(c.ParentID, parentID) && c.Name == name
	}, byPath), nil
}

func (r *repo) SlugTaken(_ context.Context, parentID *uuid.UUID, slug string, excludeID uuid.UUID) (bool, error) {
	for _, c := range r.live() {
		if c.ID != excludeID && c.Slug == slug && models.SameParent(c.ParentID, parentID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *repo) Ancestors(_ context.Context, id uuid.UUID) ([]*models.Category, error) {
	chain := []*models.Category{}
	c, ok := r.st.categories[id]
	if !ok {
		return chain, nil
	}
	seen := map[uuid.UUID]bool{id: true}
	for c.ParentID != nil && !seen[*c.ParentID] {
		parent, ok := r.st.categories[*c.ParentID]
		if !ok {
			break
		}
		seen[parent.ID] = true
		chain = append(chain, parent.Clone())
		c = parent
	}
	slices.Reverse(chain)
	return chain, nil
}

func (r *repo) Descendants(_ context.Context, id uuid.UUID) ([]*models.Category, error) {
	children := make(map[uuid.UUID][]*models.Category)
	for _, c := range r.live() {
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c)
		}
	}

	out := []*models.Category{}
	seen := map[uuid.UUID]bool{id: true}
	frontier := []uuid.UUID{id}
	for len(frontier) > 0 {
		var layer []*models.Category
		for _, pid := range frontier {
			for _, k := range children[pid] {
				if !seen[k.ID] {
					seen[k.ID] = true
					layer = append(layer, k)
				}
			}
		}
		slices.SortFunc(layer, byName)
		frontier = frontier[:0]
		for _, k := range layer {
			out = append(out, k.Clone())
			frontier = append(frontier, k.ID)
		}
	}
	return out, nil
}

func (r *repo) ListRoots(context.Context) ([]*models.Category, error) {
	return r.filter(func(c *models.Category) bool { return c.ParentID == nil }, byName), nil
}

func (r *repo) ListChildren(_ context.Context, parentID uuid.UUID) ([]*models.Category, error) {
	return r.filter(func(c *models.Category) bool {
		return c.ParentID != nil && *c.ParentID == parentID
	}, byName), nil
}

func (r *repo) ListByLevel(_ context.Context, level int) ([]*models.Category, error) {
	return r.filter(func(c *models.Category) bool { return c.Level == level }, byPath), nil
}

func (r *repo) ListLeaves(context.Context) ([]*models.Category, error) {
	parents := make(map[uuid.UUID]bool)
	for _, c := range r.live() {
		if c.ParentID != nil {
			parents[*c.ParentID] = true
		}
	}
	return r.filter(func(c *models.Category) bool { return !parents[c.ID] }, byPath), nil
}

func (r *repo) ListPopular(_ context.Context, limit int) ([]*models.Category, error) {
	out := r.filter(func(c *models.Category) bool { return c.Active }, byName)
	for _, c := range out {
		c.ProductCount = len(r.liveProducts(c.ID))
	}
	slices.SortStableFunc(out, func(a, b *models.Category) int {
		return cmp.Compare(b.ProductCount, a.ProductCount)
	})
	return out[:min(limit, len(out))], nil
}

func (r *repo) ListPage(_ context.Context, activeOnly bool, offset, limit int) ([]*models.Category, int, error) {
	all := r.filter(func(c *models.Category) bool { return c.Active || !activeOnly }, byPath)
	lo := min(offset, len(all))
	hi := min(lo+limit, len(all))
	return all[lo:hi], len(all), nil
}

func (r *repo) Search(_ context.Context, query string, limit int) ([]*models.Category, error) {
	q := strings.ToLower(query)
	out := r.filter(func(c *models.Category) bool {
		return strings.Contains(strings.ToLower(c.Name), q)
	}, byLevelThenName)
	return out[:min(limit, len(out))], nil
}

func (r *repo) ListAll(context.Context) ([]*models.Category, error) {
	return r.filter(func(*models.Category) bool { return true }, byLevelThenPath), nil
}

func (r *repo) CountChildren(_ context.Context, id uuid.UUID, activeOnly bool) (int, error) {
	n := 0
	for _, c := range r.live() {
		if c.ParentID != nil && *c.ParentID == id && (c.Active || !activeOnly) {
			n++
		}
	}
	return n, nil
}

func (r *repo) liveProducts(id uuid.UUID) []models.Product {
	var out []models.Product
	for _, p := range r.st.products {
		if p.CategoryID == id && !p.Deleted {
			out = append(out, p)
		}
	}
	return out
}

func (r *repo) CountProducts(_ context.Context, id uuid.UUID, activeOnly bool) (int, error) {
	n := 0
	for _, p := range r.liveProducts(id) {
		if p.Active || !activeOnly {
			n++
		}
	}
	return n, nil
}

func (r *repo) ProductStats(_ context.Context, id uuid.UUID) (*models.CategoryStats, error) {
	stats := &models.CategoryStats{CategoryID: id}
	sum := decimal.Zero
	for _, p := range r.liveProducts(id) {
		stats.TotalProducts++
		if p.Active {
			stats.ActiveProducts++
		}
		sum = sum.Add(p.Price)
	}
	stats.InactiveProducts = stats.TotalProducts - stats.ActiveProducts
	if stats.TotalProducts > 0 {
		stats.AveragePrice = sum.Div(decimal.NewFromInt(int64(stats.TotalProducts))).Round(2)
	}
	return stats, nil
}

func (r *repo) Insert(_ context.Context, c *models.Category) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if err := r.checkUnique(c); err != nil {
		return err
	}
	now := r.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.ChildrenCount, c.ProductCount = 0, 0
	r.st.categories[c.ID] = c.Clone()
	return nil
}

func (r *repo) Update(_ context.Context, c *models.Category) error {
	stored, ok := r.st.categories[c.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	if !c.Deleted {
		if err := r.checkUnique(c); err != nil {
			return err
		}
	}
	c.UpdatedAt = r.now().UTC()
	next := c.Clone()
	next.CreatedAt, next.CreatedBy = stored.CreatedAt, stored.CreatedBy
	next.ChildrenCount, next.ProductCount = stored.ChildrenCount, stored.ProductCount
	r.st.categories[c.ID] = next
	return nil
}

// checkUnique mirrors the partial unique indexes on live siblings.
func (r *repo) checkUnique(c *models.Category) error {
	for _, other := range r.live() {
		if other.ID == c.ID || !models.SameParent(other.ParentID, c.ParentID) {
			continue
		}
		if other.Name == c.Name || other.Slug == c.Slug {
			return catalog.ErrDuplicateName
		}
	}
	return nil
}

func (r *repo) AdjustChildrenCount(_ context.Context, id uuid.UUID, delta int) error {
	if c, ok := r.st.categories[id]; ok {
		c.ChildrenCount = max(c.ChildrenCount+delta, 0)
	}
	return nil
}

func (r *repo) SetCounters(_ context.Context, id uuid.UUID, children, products int) error {
	if c, ok := r.st.categories[id]; ok {
		c.ChildrenCount, c.ProductCount = children, products
	}
	return nil
}

func (r *repo) DeactivateChildren(_ context.Context, parentID uuid.UUID, actor string) (int, error) {
	n := 0
	for _, c := range r.live() {
		if c.ParentID != nil && *c.ParentID == parentID && c.Active {
			c.Active = false
			c.UpdatedBy = actor
			c.UpdatedAt = r.now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *repo) LockTrees(context.Context, ...uuid.UUID) error { return nil }

var (
	_ catalog.Store      = (*Store)(nil)
	_ catalog.Repository = (*repo)(nil)
)
