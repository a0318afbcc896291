// Package catalog implements the category tree manager: structural
// mutations that keep level, path and slug consistent across the forest,
// cache-aside reads, and domain events for other services.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"procgrid/internal/models"
)

// DefaultMaxDepth bounds the tree to levels 0..4.
const DefaultMaxDepth = 5

// rootLevelKey is the tree lock that serializes writers adding or renaming
// roots, which share the root-level sibling namespace.
var rootLevelKey = uuid.Nil

// Service is the category tree manager.
type Service struct {
	store     Store
	cache     Cache
	publisher Publisher
	cacheLog  InvalidationLog
	maxDepth  int
	now       func() time.Time

	// gen advances on every invalidation; see cached.
	gen atomic.Uint64
}

// NewService wires the tree manager to its collaborators. cache, publisher
// and cacheLog may be nil; maxDepth <= 0 selects DefaultMaxDepth.
func NewService(store Store, cache Cache, publisher Publisher, cacheLog InvalidationLog, maxDepth int) *Service {
	if cache == nil {
		cache = noopCache{}
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Service{
		store:     store,
		cache:     cache,
		publisher: publisher,
		cacheLog:  cacheLog,
		maxDepth:  maxDepth,
		now:       time.Now,
	}
}

// MaxDepth returns the configured number of levels.
func (s *Service) MaxDepth() int {
	return s.maxDepth
}

func (s *Service) maxLevel() int {
	return s.maxDepth - 1
}

// Create adds a node under in.ParentID, or a new root when ParentID is nil.
func (s *Service) Create(ctx context.Context, in CreateInput, actor string) (*models.Category, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	var created *models.Category
	err := s.store.InTx(ctx, func(tx Repository) error {
		c := &models.Category{
			Name:        in.Name,
			Description: in.Description,
			ImageURL:    in.ImageURL,
			Metadata:    in.Metadata.Clone(),
			Active:      true,
			CreatedBy:   actor,
			UpdatedBy:   actor,
		}
		if c.Metadata == nil {
			c.Metadata = models.Metadata{}
		}

		parentPath := ""
		if in.ParentID == nil {
			if err := tx.LockTrees(ctx, rootLevelKey); err != nil {
				return fmt.Errorf("lock root level: %w", err)
			}
		} else {
			if err := s.lockTrees(ctx, tx, *in.ParentID); err != nil {
				return err
			}
			parent, err := tx.FindByID(ctx, *in.ParentID)
			if err != nil {
				return fmt.Errorf("load parent: %w", err)
			}
			if parent == nil {
				return fmt.Errorf("%w: parent %s", ErrNotFound, *in.ParentID)
			}
			if parent.Level >= s.maxLevel() {
				return fmt.Errorf("%w: parent %q is at level %d, max is %d",
					ErrDepthExceeded, parent.Name, parent.Level, s.maxLevel())
			}
			c.ParentID = &parent.ID
			c.Level = parent.Level + 1
			parentPath = parent.Path
		}

		if err := ensureUniqueName(ctx, tx, c.ParentID, c.Name, uuid.Nil); err != nil {
			return err
		}
		sl, err := uniqueSlug(ctx, tx, c.ParentID, baseSlug(c.Name), uuid.Nil)
		if err != nil {
			return err
		}
		c.Slug = sl
		c.Path = parentPath + "/" + sl

		if err := tx.Insert(ctx, c); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
		if c.ParentID != nil {
			if err := tx.AdjustChildrenCount(ctx, *c.ParentID, 1); err != nil {
				return fmt.Errorf("increment parent children: %w", err)
			}
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("category created", "id", created.ID, "path", created.Path, "actor", actor)
	s.afterCommit(ctx, created.ID, "create", Event{
		Type:       EventCreated,
		CategoryID: created.ID,
		Actor:      actor,
		Data: map[string]any{
			"name":     created.Name,
			"slug":     created.Slug,
			"parentId": created.ParentID,
			"level":    created.Level,
			"path":     created.Path,
		},
	})
	return created, nil
}

// Update applies a partial update. A name change re-derives the slug and,
// when the slug changes, rewrites the paths of the whole subtree.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput, actor string) (*models.Category, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := validateImageURL(in.ImageURL); err != nil {
		return nil, err
	}

	var before, after *models.Category
	err := s.store.InTx(ctx, func(tx Repository) error {
		// A rename may re-slug a root, so it also takes the root-level key.
		lockIDs := []uuid.UUID{id}
		if in.Name != nil {
			lockIDs = append(lockIDs, rootLevelKey)
		}
		if err := s.lockTrees(ctx, tx, lockIDs...); err != nil {
			return err
		}
		c, err := mustFind(ctx, tx, id)
		if err != nil {
			return err
		}
		before = c.Clone()

		rewrite := false
		if in.Name != nil && *in.Name != c.Name {
			if err := ensureUniqueName(ctx, tx, c.ParentID, *in.Name, c.ID); err != nil {
				return err
			}
			c.Name = *in.Name
			sl, err := uniqueSlug(ctx, tx, c.ParentID, baseSlug(c.Name), c.ID)
			if err != nil {
				return err
			}
			if sl != c.Slug {
				parentPath, err := pathOfParent(ctx, tx, c)
				if err != nil {
					return err
				}
				c.Slug = sl
				c.Path = parentPath + "/" + sl
				rewrite = true
			}
		}
		if in.Description != nil {
			c.Description = *in.Description
		}
		if in.ImageURL != nil {
			c.ImageURL = *in.ImageURL
		}
		if in.Metadata != nil {
			c.Metadata = in.Metadata.Clone()
		}
		c.UpdatedBy = actor

		if err := tx.Update(ctx, c); err != nil {
			return fmt.Errorf("update category: %w", err)
		}
		if rewrite {
			if _, err := rewriteDescendants(ctx, tx, c, actor); err != nil {
				return err
			}
		}
		after = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, after.ID, "update", Event{
		Type:       EventUpdated,
		CategoryID: after.ID,
		Actor:      actor,
		Data: map[string]any{
			"before": snapshot(before),
			"after":  snapshot(after),
		},
	})
	return after, nil
}

// Move re-parents a node. newParentID nil makes the node a root.
func (s *Service) Move(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID, actor string) (*models.Category, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if newParentID != nil && *newParentID == id {
		return nil, fmt.Errorf("%w: category %s cannot be its own parent", ErrInvalidMove, id)
	}

	var (
		moved       *models.Category
		oldParentID *uuid.UUID
		oldPath     string
		noop        bool
	)
	err := s.store.InTx(ctx, func(tx Repository) error {
		lockIDs := []uuid.UUID{id}
		if newParentID != nil {
			lockIDs = append(lockIDs, *newParentID)
		} else {
			lockIDs = append(lockIDs, rootLevelKey)
		}
		if err := s.lockTrees(ctx, tx, lockIDs...); err != nil {
			return err
		}

		c, err := mustFind(ctx, tx, id)
		if err != nil {
			return err
		}
		var newParent *models.Category
		if newParentID != nil {
			newParent, err = tx.FindByID(ctx, *newParentID)
			if err != nil {
				return fmt.Errorf("load new parent: %w", err)
			}
			if newParent == nil {
				return fmt.Errorf("%w: new parent %s", ErrNotFound, *newParentID)
			}
		}
		if models.SameParent(c.ParentID, newParentID) {
			moved, noop = c, true
			return nil
		}

		descendants, err := tx.Descendants(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("load descendants: %w", err)
		}
		height := 0
		for _, d := range descendants {
			if newParent != nil && d.ID == newParent.ID {
				return fmt.Errorf("%w: %q is a descendant of %q", ErrInvalidMove, newParent.Name, c.Name)
			}
			if rel := d.Level - c.Level; rel > height {
				height = rel
			}
		}

		newLevel, basePath := 0, ""
		if newParent != nil {
			if newParent.Level >= s.maxLevel() {
				return fmt.Errorf("%w: new parent %q is at level %d, max is %d",
					ErrDepthExceeded, newParent.Name, newParent.Level, s.maxLevel())
			}
			newLevel, basePath = newParent.Level+1, newParent.Path
		}
		if newLevel+height > s.maxLevel() {
			return fmt.Errorf("%w: subtree of %q would reach level %d, max is %d",
				ErrDepthExceeded, c.Name, newLevel+height, s.maxLevel())
		}

		if err := ensureUniqueName(ctx, tx, newParentID, c.Name, c.ID); err != nil {
			return err
		}
		sl := c.Slug
		taken, err := tx.SlugTaken(ctx, newParentID, sl, c.ID)
		if err != nil {
			return fmt.Errorf("check slug: %w", err)
		}
		if taken {
			if sl, err = uniqueSlug(ctx, tx, newParentID, baseSlug(c.Name), c.ID); err != nil {
				return err
			}
		}

		oldParentID, oldPath = c.ParentID, c.Path
		c.ParentID = newParentID
		c.Level = newLevel
		c.Slug = sl
		c.Path = basePath + "/" + sl
		c.UpdatedBy = actor
		if err := tx.Update(ctx, c); err != nil {
			return fmt.Errorf("update moved category: %w", err)
		}

		if oldParentID != nil {
			if err := tx.AdjustChildrenCount(ctx, *oldParentID, -1); err != nil {
				return fmt.Errorf("decrement old parent children: %w", err)
			}
		}
		if newParentID != nil {
			if err := tx.AdjustChildrenCount(ctx, *newParentID, 1); err != nil {
				return fmt.Errorf("increment new parent children: %w", err)
			}
		}

		if _, err := rewriteDescendants(ctx, tx, c, actor); err != nil {
			return err
		}
		moved = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return moved, nil
	}

	slog.Info("category moved", "id", moved.ID, "from", oldPath, "to", moved.Path, "actor", actor)
	s.afterCommit(ctx, moved.ID, "move", Event{
		Type:       EventMoved,
		CategoryID: moved.ID,
		Actor:      actor,
		Data: map[string]any{
			"oldParentId": oldParentID,
			"newParentId": moved.ParentID,
			"oldPath":     oldPath,
			"newPath":     moved.Path,
			"level":       moved.Level,
		},
	})
	return moved, nil
}

// SetActive activates or deactivates a node. Deactivation requires no
// active children and no active products, and then also deactivates the
// direct children.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool, actor string) (*models.Category, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	var (
		result    *models.Category
		cascaded  int
		unchanged bool
	)
	err := s.store.InTx(ctx, func(tx Repository) error {
		if err := s.lockTrees(ctx, tx, id); err != nil {
			return err
		}
		c, err := mustFind(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Active == active {
			result, unchanged = c, true
			return nil
		}

		if !active {
			n, err := tx.CountChildren(ctx, id, true)
			if err != nil {
				return fmt.Errorf("count active children: %w", err)
			}
			if n > 0 {
				return fmt.Errorf("%w: %q has %d active children", ErrHasActiveChildren, c.Name, n)
			}
			p, err := tx.CountProducts(ctx, id, true)
			if err != nil {
				return fmt.Errorf("count active products: %w", err)
			}
			if p > 0 {
				return fmt.Errorf("%w: %q has %d active products", ErrHasActiveProducts, c.Name, p)
			}
		}

		c.Active = active
		c.UpdatedBy = actor
		if err := tx.Update(ctx, c); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if !active {
			if cascaded, err = tx.DeactivateChildren(ctx, id, actor); err != nil {
				return fmt.Errorf("deactivate children: %w", err)
			}
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if unchanged {
		return result, nil
	}

	s.afterCommit(ctx, result.ID, "status", Event{
		Type:       EventStatusChanged,
		CategoryID: result.ID,
		Actor:      actor,
		Data: map[string]any{
			"active":              active,
			"previousActive":      !active,
			"deactivatedChildren": cascaded,
		},
	})
	return result, nil
}

// Delete soft-deletes a childless, product-free node.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	if err := validateActor(actor); err != nil {
		return err
	}

	var deleted *models.Category
	err := s.store.InTx(ctx, func(tx Repository) error {
		if err := s.lockTrees(ctx, tx, id); err != nil {
			return err
		}
		c, err := mustFind(ctx, tx, id)
		if err != nil {
			return err
		}

		n, err := tx.CountChildren(ctx, id, false)
		if err != nil {
			return fmt.Errorf("count children: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %q has %d children", ErrHasChildren, c.Name, n)
		}
		p, err := tx.CountProducts(ctx, id, false)
		if err != nil {
			return fmt.Errorf("count products: %w", err)
		}
		if p > 0 {
			return fmt.Errorf("%w: %q has %d products", ErrHasProducts, c.Name, p)
		}

		c.Deleted = true
		c.UpdatedBy = actor
		if err := tx.Update(ctx, c); err != nil {
			return fmt.Errorf("soft delete: %w", err)
		}
		if c.ParentID != nil {
			if err := tx.AdjustChildrenCount(ctx, *c.ParentID, -1); err != nil {
				return fmt.Errorf("decrement parent children: %w", err)
			}
		}
		deleted = c
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("category deleted", "id", deleted.ID, "path", deleted.Path, "actor", actor)
	s.afterCommit(ctx, deleted.ID, "delete", Event{
		Type:       EventDeleted,
		CategoryID: deleted.ID,
		Actor:      actor,
		Data: map[string]any{
			"name":     deleted.Name,
			"parentId": deleted.ParentID,
			"path":     deleted.Path,
		},
	})
	return nil
}

// afterCommit evicts category caches and publishes ev. Both are
// best-effort and must not fail the already-committed mutation.
func (s *Service) afterCommit(ctx context.Context, id uuid.UUID, action string, ev Event) {
	ctx = context.WithoutCancel(ctx)

	s.invalidate(ctx, id, action)

	ev.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("category event publish failed",
			"type", ev.Type,
			"category_id", ev.CategoryID,
			"error", err,
		)
	}
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID, action string) {
	s.gen.Add(1)
	s.cache.InvalidateAll(ctx)
	if s.cacheLog != nil {
		s.cacheLog.Log(ctx, "category", id, action)
	}
}

func snapshot(c *models.Category) map[string]any {
	return map[string]any{
		"name":        c.Name,
		"slug":        c.Slug,
		"path":        c.Path,
		"description": c.Description,
		"imageUrl":    c.ImageURL,
		"metadata":    c.Metadata,
	}
}
