package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"procgrid/internal/models"
)

// Paging and limit defaults for list reads.
const (
	DefaultPageSize     = 20
	MaxPageSize         = 100
	DefaultPopularLimit = 10
	MaxPopularLimit     = 100
	DefaultSearchLimit  = 20
)

// Cache keys. The cache implementation adds its own namespace prefix.
func keyID(id uuid.UUID) string { return "id:" + id.String() }
func keySlug(s string) string { return "slug:" + s }
func keyChildren(id uuid.UUID) string { return "children:" + id.String() }
func keyHierarchy(id uuid.UUID) string { return "hierarchy:" + id.String() }
func keyBreadcrumb(id uuid.UUID) string { return "breadcrumb:" + id.String() }
func keyPopular(limit int) string { return "popular:" + strconv.Itoa(limit) }
func keyLevel(level int) string { return "level:" + strconv.Itoa(level) }

const (
	keyRoots  = "roots"
	keyLeaves = "leaves"
)

// cached is the cache-aside read: a hit returns the decoded value, a miss
// calls load and stores its result. Errors are never cached.
//
// Keys carry the invalidation generation seen before the load. A load that
// overlaps an invalidation stores under the old generation, which no later
// read in this process asks for.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	key = "g" + strconv.FormatUint(s.gen.Load(), 10) + ":" + key
	var v T
	if s.cache.Get(ctx, key, &v) {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	s.cache.Set(ctx, key, v)
	return v, nil
}

// Get returns a live category by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	return cached(ctx, s, keyID(id), func() (*models.Category, error) {
		return mustFind(ctx, s.store, id)
	})
}

// GetBySlug returns the shallowest live category with the given slug.
// Slugs are only unique among siblings; use GetByPath for an exact node.
func (s *Service) GetBySlug(ctx context.Context, sl string) (*models.Category, error) {
	return cached(ctx, s, keySlug(sl), func() (*models.Category, error) {
		c, err := s.store.FindBySlug(ctx, sl)
		if err != nil {
			return nil, fmt.Errorf("find by slug: %w", err)
		}
		if c == nil {
			return nil, fmt.Errorf("%w: slug %q", ErrNotFound, sl)
		}
		return c, nil
	})
}

// GetByPath returns the live category at a materialized path such as "/grains/rice".
func (s *Service) GetByPath(ctx context.Context, path string) (*models.Category, error) {
	c, err := s.store.FindByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("find by path: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: path %q", ErrNotFound, path)
	}
	return c, nil
}

// Roots lists every root category.
func (s *Service) Roots(ctx context.Context) ([]*models.Category, error) {
	return cached(ctx, s, keyRoots, func() ([]*models.Category, error) {
		return s.store.ListRoots(ctx)
	})
}

// Children lists the direct children of parentID.
func (s *Service) Children(ctx context.Context, parentID uuid.UUID) ([]*models.Category, error) {
	return cached(ctx, s, keyChildren(parentID), func() ([]*models.Category, error) {
		if _, err := mustFind(ctx, s.store, parentID); err != nil {
			return nil, err
		}
		return s.store.ListChildren(ctx, parentID)
	})
}

// Hierarchy returns id with its whole subtree nested under Children.
func (s *Service) Hierarchy(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	return cached(ctx, s, keyHierarchy(id), func() (*models.Category, error) {
		root, err := mustFind(ctx, s.store, id)
		if err != nil {
			return nil, err
		}
		descendants, err := s.store.Descendants(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load descendants: %w", err)
		}
		return buildTree(root, descendants), nil
	})
}

// Breadcrumb returns the names from the root down to id, inclusive.
func (s *Service) Breadcrumb(ctx context.Context, id uuid.UUID) ([]models.BreadcrumbItem, error) {
	return cached(ctx, s, keyBreadcrumb(id), func() ([]models.BreadcrumbItem, error) {
		node, err := mustFind(ctx, s.store, id)
		if err != nil {
			return nil, err
		}
		chain, err := s.store.Ancestors(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load ancestors: %w", err)
		}
		items := make([]models.BreadcrumbItem, 0, len(chain)+1)
		for _, c := range append(chain, node) {
			items = append(items, models.BreadcrumbItem{ID: c.ID, Name: c.Name, Slug: c.Slug, Path: c.Path})
		}
		return items, nil
	})
}

// ByLevel lists every category at the given depth.
func (s *Service) ByLevel(ctx context.Context, level int) ([]*models.Category, error) {
	if level < 0 || level > s.maxLevel() {
		return nil, fieldError("level", fmt.Sprintf("must be between 0 and %d", s.maxLevel()))
	}
	return cached(ctx, s, keyLevel(level), func() ([]*models.Category, error) {
		return s.store.ListByLevel(ctx, level)
	})
}

// Leaves lists categories without live children.
func (s *Service) Leaves(ctx context.Context) ([]*models.Category, error) {
	return cached(ctx, s, keyLeaves, func() ([]*models.Category, error) {
		return s.store.ListLeaves(ctx)
	})
}

// Popular lists active categories by descending number of non-deleted
// products, counted live rather than from the stored productCount.
func (s *Service) Popular(ctx context.Context, limit int) ([]*models.Category, error) {
	limit = clamp(limit, DefaultPopularLimit, MaxPopularLimit)
	return cached(ctx, s, keyPopular(limit), func() ([]*models.Category, error) {
		return s.store.ListPopular(ctx, limit)
	})
}

// ListParams selects one page of the flat category listing. Page is 1-based.
type ListParams struct {
	Page       int
	PageSize   int
	ActiveOnly bool
}

// List returns one page of categories ordered by path.
func (s *Service) List(ctx context.Context, p ListParams) (*models.CategoryPage, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	p.PageSize = clamp(p.PageSize, DefaultPageSize, MaxPageSize)

	items, total, err := s.store.ListPage(ctx, p.ActiveOnly, (p.Page-1)*p.PageSize, p.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if items == nil {
		items = []*models.Category{}
	}
	return &models.CategoryPage{
		Items:      items,
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: (total + p.PageSize - 1) / p.PageSize,
	}, nil
}

// Search finds categories whose name contains query, case-insensitively.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*models.Category, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fieldError("q", "must not be empty")
	}
	limit = clamp(limit, DefaultSearchLimit, MaxPageSize)
	return s.store.Search(ctx, query, limit)
}

// Stats aggregates the products linked to id. Not cached: products change
// outside this service.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*models.CategoryStats, error) {
	if _, err := mustFind(ctx, s.store, id); err != nil {
		return nil, err
	}
	stats, err := s.store.ProductStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("product stats: %w", err)
	}
	return stats, nil
}

func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	if v > hi {
		return hi
	}
	return v
}
