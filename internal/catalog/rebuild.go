package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"procgrid/internal/models"
)

// RebuildHierarchy resets level and path on every root category. Nodes
// below the roots are left alone; RepairHierarchy handles the full tree.
// It returns the number of roots whose stored values changed.
func (s *Service) RebuildHierarchy(ctx context.Context, actor string) (int, error) {
	if err := validateActor(actor); err != nil {
		return 0, err
	}

	fixed := 0
	err := s.store.InTx(ctx, func(tx Repository) error {
		roots, err := tx.ListRoots(ctx)
		if err != nil {
			return fmt.Errorf("list roots: %w", err)
		}
		if err := tx.LockTrees(ctx, lockOrder(ids(roots))...); err != nil {
			return fmt.Errorf("lock trees: %w", err)
		}
		for _, r := range roots {
			want := "/" + r.Slug
			if r.Level == 0 && r.Path == want {
				continue
			}
			r.Level, r.Path, r.UpdatedBy = 0, want, actor
			if err := tx.Update(ctx, r); err != nil {
				return fmt.Errorf("rebuild root %s: %w", r.ID, err)
			}
			fixed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("category hierarchy rebuilt", "roots_fixed", fixed, "actor", actor)
	s.invalidate(context.WithoutCancel(ctx), uuid.Nil, "rebuild")
	return fixed, nil
}

// RepairReport summarizes a RepairHierarchy run.
type RepairReport struct {
	Scanned        int `json:"scanned"`
	PathsFixed     int `json:"pathsFixed"`
	CountersFixed  int `json:"countersFixed"`
	Orphans        int `json:"orphans"`
	// OrphansSkipped counts orphans whose name is already taken by a root.
	// They and their subtrees keep their stored values.
	OrphansSkipped int `json:"orphansSkipped"`
}

// RepairHierarchy recomputes level and path for every live node from the
// roots down, and resets childrenCount and productCount from the rows they
// summarize. A node whose parent is missing or deleted is promoted to a root
// and counted as an orphan.
func (s *Service) RepairHierarchy(ctx context.Context, actor string) (RepairReport, error) {
	if err := validateActor(actor); err != nil {
		return RepairReport{}, err
	}

	var report RepairReport
	err := s.store.InTx(ctx, func(tx Repository) error {
		report = RepairReport{}
		all, err := tx.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}

		byID := make(map[uuid.UUID]*models.Category, len(all))
		for _, c := range all {
			byID[c.ID] = c
		}
		children := make(map[uuid.UUID][]*models.Category)
		var roots []*models.Category
		for _, c := range all {
			if c.ParentID != nil {
				if _, ok := byID[*c.ParentID]; ok {
					children[*c.ParentID] = append(children[*c.ParentID], c)
					continue
				}
			}
			roots = append(roots, c)
		}
		// Orphans join the root level, so the root-level key is locked too.
		if err := tx.LockTrees(ctx, lockOrder(append(ids(roots), uuid.Nil))...); err != nil {
			return fmt.Errorf("lock trees: %w", err)
		}

		// Nodes unreachable from a root sit on a parent cycle and are
		// left untouched.
		queue := make([]*models.Category, 0, len(all))
		for _, r := range roots {
			if r.ParentID != nil {
				promoted, err := promoteOrphan(ctx, tx, r)
				if err != nil {
					return err
				}
				if !promoted {
					report.OrphansSkipped++
					slog.Warn("orphan left in place, a root already uses its name",
						"id", r.ID, "name", r.Name)
					continue
				}
				report.Orphans++
			}
			if err := s.repairNode(ctx, tx, r, nil, actor, &report); err != nil {
				return err
			}
			queue = append(queue, r)
		}
		for len(queue) > 0 {
			parent := queue[0]
			queue = queue[1:]
			for _, c := range children[parent.ID] {
				if err := s.repairNode(ctx, tx, c, parent, actor, &report); err != nil {
					return err
				}
				queue = append(queue, c)
			}
		}

		for _, c := range all {
			report.Scanned++
			products, err := tx.CountProducts(ctx, c.ID, false)
			if err != nil {
				return fmt.Errorf("count products of %s: %w", c.ID, err)
			}
			live := len(children[c.ID])
			if c.ChildrenCount == live && c.ProductCount == products {
				continue
			}
			if err := tx.SetCounters(ctx, c.ID, live, products); err != nil {
				return fmt.Errorf("set counters of %s: %w", c.ID, err)
			}
			c.ChildrenCount, c.ProductCount = live, products
			report.CountersFixed++
		}
		return nil
	})
	if err != nil {
		return RepairReport{}, err
	}

	slog.Info("category hierarchy repaired",
		"scanned", report.Scanned,
		"paths_fixed", report.PathsFixed,
		"counters_fixed", report.CountersFixed,
		"orphans", report.Orphans,
		"orphans_skipped", report.OrphansSkipped,
		"actor", actor,
	)
	s.invalidate(context.WithoutCancel(ctx), uuid.Nil, "repair")
	return report, nil
}

// repairNode writes c back if its level or path disagrees with parent.
// parent is nil for roots. A missing slug is regenerated from the name.
func (s *Service) repairNode(ctx context.Context, tx Repository, c, parent *models.Category, actor string, report *RepairReport) error {
	stored := c.Clone()
	if c.Slug == "" {
		c.Slug = baseSlug(c.Name)
	}
	if parent == nil {
		c.ParentID = nil
		c.Level, c.Path = 0, "/"+c.Slug
	} else {
		c.Level, c.Path = parent.Level+1, parent.Path+"/"+c.Slug
	}
	if c.Level == stored.Level && c.Path == stored.Path && c.Slug == stored.Slug &&
		models.SameParent(c.ParentID, stored.ParentID) {
		return nil
	}
	c.UpdatedBy = actor
	if err := tx.Update(ctx, c); err != nil {
		return fmt.Errorf("repair %s: %w", c.ID, err)
	}
	report.PathsFixed++
	return nil
}

// promoteOrphan prepares c to become a root. It reports false when another
// live root already uses c's name. A clashing slug gets a numeric suffix.
func promoteOrphan(ctx context.Context, tx Repository, c *models.Category) (bool, error) {
	existing, err := tx.FindSiblingByName(ctx, nil, c.Name)
	if err != nil {
		return false, fmt.Errorf("check root name: %w", err)
	}
	if existing != nil && existing.ID != c.ID {
		return false, nil
	}
	base := c.Slug
	if base == "" {
		base = baseSlug(c.Name)
	}
	sl, err := uniqueSlug(ctx, tx, nil, base, c.ID)
	if err != nil {
		return false, err
	}
	c.Slug = sl
	return true, nil
}

// lockOrder sorts and de-duplicates lock keys so every writer acquires
// them in the same order.
func lockOrder(keys []uuid.UUID) []uuid.UUID {
	slices.SortFunc(keys, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(keys)
}

func ids(cs []*models.Category) []uuid.UUID {
	out := make([]uuid.UUID, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
