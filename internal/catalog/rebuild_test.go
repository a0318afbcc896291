package catalog_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procgrid/internal/catalog"
	"procgrid/internal/models"
)

func TestRebuildHierarchyFixesRoots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grains, rice, _ := f.grains(t)
	pulses := f.create(t, nil, "Pulses")

	broken := f.get(t, grains.ID)
	broken.Level, broken.Path = 3, "/wrong"
	require.NoError(t, f.store.Update(ctx, broken))

	n, err := f.svc.RebuildHierarchy(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g := f.get(t, grains.ID)
	assert.Equal(t, 0, g.Level)
	assert.Equal(t, "/grains", g.Path)
	assert.Equal(t, "/pulses", f.get(t, pulses.ID).Path)
	assert.Equal(t, "/grains/rice", f.get(t, rice.ID).Path)
	assert.Contains(t, f.log.actions, "rebuild")

	n, err = f.svc.RebuildHierarchy(ctx, actor)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.RebuildHierarchy(ctx, "")
	assert.ErrorIs(t, err, catalog.ErrValidation)
}

func TestRepairHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grains, rice, basmati := f.grains(t)

	// Corrupt a path deep in the tree.
	b := f.get(t, basmati.ID)
	b.Level, b.Path = 0, "/basmati"
	require.NoError(t, f.store.Update(ctx, b))

	// Drift the counters.
	require.NoError(t, f.store.SetCounters(ctx, grains.ID, 7, 0))
	f.store.AddProduct(models.Product{CategoryID: rice.ID, Name: "1121", Price: decimal.NewFromInt(3), Active: true})

	// Orphan a subtree by pointing it at a parent that does not exist.
	lost := f.create(t, rice, "Lost")
	leaf := f.create(t, lost, "Leaf")
	l := f.get(t, lost.ID)
	ghost := uuid.New()
	l.ParentID = &ghost
	require.NoError(t, f.store.Update(ctx, l))

	report, err := f.svc.RepairHierarchy(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 1, report.Orphans)
	// basmati, plus lost and leaf moving under a new root path.
	assert.Equal(t, 3, report.PathsFixed)
	// grains (children), rice (children and products).
	assert.Equal(t, 2, report.CountersFixed)

	assert.Equal(t, "/grains/rice/basmati", f.get(t, basmati.ID).Path)
	assert.Equal(t, 2, f.get(t, basmati.ID).Level)

	g := f.get(t, grains.ID)
	assert.Equal(t, 1, g.ChildrenCount)
	r := f.get(t, rice.ID)
	assert.Equal(t, 1, r.ChildrenCount)
	assert.Equal(t, 1, r.ProductCount)

	lo := f.get(t, lost.ID)
	assert.Nil(t, lo.ParentID)
	assert.Equal(t, 0, lo.Level)
	assert.Equal(t, "/lost", lo.Path)
	assert.Equal(t, "/lost/leaf", f.get(t, leaf.ID).Path)

	again, err := f.svc.RepairHierarchy(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, catalog.RepairReport{Scanned: 5}, again)
	assert.Contains(t, f.log.actions, "repair")
}

func TestRepairHierarchyLeavesOrphanWhoseNameIsTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rootRice := f.create(t, nil, "Rice")
	grains, rice, basmati := f.grains(t)

	// Soft-delete the parent behind the service's back.
	g := f.get(t, grains.ID)
	g.Deleted = true
	require.NoError(t, f.store.Update(ctx, g))

	report, err := f.svc.RepairHierarchy(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Zero(t, report.Orphans)
	assert.Equal(t, 1, report.OrphansSkipped)
	assert.Zero(t, report.PathsFixed)

	r := f.get(t, rice.ID)
	require.NotNil(t, r.ParentID)
	assert.Equal(t, grains.ID, *r.ParentID)
	assert.Equal(t, "/grains/rice", r.Path)
	assert.Equal(t, "/grains/rice/basmati", f.get(t, basmati.ID).Path)
	assert.Equal(t, "/rice", f.get(t, rootRice.ID).Path)
}

func TestRepairHierarchyResolvesOrphanSlugClash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, nil, "Rice")
	grains := f.create(t, nil, "Grains")
	orphan := f.create(t, grains, "rice")
	assert.Equal(t, "rice", orphan.Slug)

	g := f.get(t, grains.ID)
	g.Deleted = true
	require.NoError(t, f.store.Update(ctx, g))

	report, err := f.svc.RepairHierarchy(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphans)
	assert.Zero(t, report.OrphansSkipped)

	o := f.get(t, orphan.ID)
	assert.Nil(t, o.ParentID)
	assert.Equal(t, 0, o.Level)
	assert.Equal(t, "rice-1", o.Slug)
	assert.Equal(t, "/rice-1", o.Path)
}
