package catalog

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"procgrid/internal/models"
	"procgrid/internal/slug"
)

// maxLockAttempts bounds how often lockTrees re-resolves roots that moved
// between lookup and lock acquisition.
const maxLockAttempts = 3

// fallbackSlug is used when a valid name has no slug-able characters, e.g. "&&".
const fallbackSlug = "category"

func baseSlug(name string) string {
	if s := slug.Generate(name); s != "" {
		return s
	}
	return fallbackSlug
}

func mustFind(ctx context.Context, repo Repository, id uuid.UUID) (*models.Category, error) {
	c, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load category %s: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// ensureUniqueName fails with ErrDuplicateName if another live sibling
// under parentID already uses name. Comparison is case-sensitive.
func ensureUniqueName(ctx context.Context, repo Repository, parentID *uuid.UUID, name string, selfID uuid.UUID) error {
	existing, err := repo.FindSiblingByName(ctx, parentID, name)
	if err != nil {
		return fmt.Errorf("check sibling name: %w", err)
	}
	if existing != nil && existing.ID != selfID {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	return nil
}

func uniqueSlug(ctx context.Context, repo Repository, parentID *uuid.UUID, base string, selfID uuid.UUID) (string, error) {
	s, err := slug.Unique(base, func(candidate string) (bool, error) {
		return repo.SlugTaken(ctx, parentID, candidate, selfID)
	})
	if err != nil {
		return "", fmt.Errorf("generate slug: %w", err)
	}
	return s, nil
}

// pathOfParent returns the parent's path, or "" for a root.
func pathOfParent(ctx context.Context, repo Repository, c *models.Category) (string, error) {
	if c.ParentID == nil {
		return "", nil
	}
	parent, err := repo.FindByID(ctx, *c.ParentID)
	if err != nil {
		return "", fmt.Errorf("load parent: %w", err)
	}
	if parent == nil {
		return "", fmt.Errorf("%w: parent %s", ErrNotFound, *c.ParentID)
	}
	return parent.Path, nil
}

// rewriteDescendants recomputes level and path for every node below root,
// walking top-down from root's already-updated values. Each descendant keeps
// its slug and its depth relative to root.
func rewriteDescendants(ctx context.Context, repo Repository, root *models.Category, actor string) (int, error) {
	descendants, err := repo.Descendants(ctx, root.ID)
	if err != nil {
		return 0, fmt.Errorf("load descendants: %w", err)
	}

	children := make(map[uuid.UUID][]*models.Category)
	for _, d := range descendants {
		if d.ParentID != nil {
			children[*d.ParentID] = append(children[*d.ParentID], d)
		}
	}

	rewritten := 0
	queue := []*models.Category{root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range children[parent.ID] {
			child.Level = parent.Level + 1
			child.Path = parent.Path + "/" + child.Slug
			child.UpdatedBy = actor
			if err := repo.Update(ctx, child); err != nil {
				return rewritten, fmt.Errorf("rewrite descendant %s: %w", child.ID, err)
			}
			rewritten++
			queue = append(queue, child)
		}
	}
	return rewritten, nil
}

// lockTrees takes the tree lock of every root the given nodes belong to and
// re-checks the roots once the locks are held, since a concurrent move may
// have re-homed a node in between.
func (s *Service) lockTrees(ctx context.Context, repo Repository, ids ...uuid.UUID) error {
	roots, err := rootsOf(ctx, repo, ids)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		if err := repo.LockTrees(ctx, roots...); err != nil {
			return fmt.Errorf("lock trees: %w", err)
		}
		current, err := rootsOf(ctx, repo, ids)
		if err != nil {
			return err
		}
		if slices.Equal(roots, current) {
			return nil
		}
		roots = current
	}
	return fmt.Errorf("lock trees: roots still changing after %d attempts", maxLockAttempts)
}

// rootsOf returns the sorted, de-duplicated root ids of ids. An id with no
// ancestors is its own root.
func rootsOf(ctx context.Context, repo Repository, ids []uuid.UUID) ([]uuid.UUID, error) {
	roots := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		chain, err := repo.Ancestors(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve root of %s: %w", id, err)
		}
		if len(chain) > 0 {
			roots = append(roots, chain[0].ID)
		} else {
			roots = append(roots, id)
		}
	}
	return lockOrder(roots), nil
}

// buildTree nests descendants under root by parent id.
func buildTree(root *models.Category, descendants []*models.Category) *models.Category {
	byParent := make(map[uuid.UUID][]*models.Category)
	for _, d := range descendants {
		if d.ParentID != nil {
			byParent[*d.ParentID] = append(byParent[*d.ParentID], d)
		}
	}
	var attach func(n *models.Category)
	attach = func(n *models.Category) {
		n.Children = byParent[n.ID]
		for _, child := range n.Children {
			attach(child)
		}
	}
	attach(root)
	return root
}
