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

func names(cs []*models.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, rice, basmati := f.grains(t)

	got, err := f.svc.Get(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rice", got.Name)

	got, err = f.svc.GetBySlug(ctx, "basmati")
	require.NoError(t, err)
	assert.Equal(t, basmati.ID, got.ID)

	got, err = f.svc.GetByPath(ctx, "/grains/rice/basmati")
	require.NoError(t, err)
	assert.Equal(t, basmati.ID, got.ID)

	_, err = f.svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = f.svc.GetBySlug(ctx, "nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = f.svc.GetByPath(ctx, "/grains/nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestGetServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, nil, "Grains")

	_, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)

	// Change the row behind the service's back; the cached copy wins.
	stored := f.get(t, c.ID)
	stored.Description = "changed directly"
	require.NoError(t, f.store.Update(ctx, stored))

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Description)

	f.cache.InvalidateAll(ctx)
	got, err = f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed directly", got.Description)
}

func TestTreeReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grains, rice, basmati := f.grains(t)
	f.create(t, rice, "Jasmine")
	f.create(t, grains, "Wheat")
	f.create(t, nil, "Pulses")

	roots, err := f.svc.Roots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Grains", "Pulses"}, names(roots))

	kids, err := f.svc.Children(ctx, grains.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rice", "Wheat"}, names(kids))

	_, err = f.svc.Children(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	tree, err := f.svc.Hierarchy(ctx, grains.ID)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "Rice", tree.Children[0].Name)
	assert.Equal(t, []string{"Basmati", "Jasmine"}, names(tree.Children[0].Children))
	assert.Empty(t, tree.Children[1].Children)

	crumbs, err := f.svc.Breadcrumb(ctx, basmati.ID)
	require.NoError(t, err)
	require.Len(t, crumbs, 3)
	assert.Equal(t, "Grains", crumbs[0].Name)
	assert.Equal(t, "/grains/rice", crumbs[1].Path)
	assert.Equal(t, basmati.ID, crumbs[2].ID)

	level2, err := f.svc.ByLevel(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Basmati", "Jasmine"}, names(level2))

	_, err = f.svc.ByLevel(ctx, 5)
	assert.ErrorIs(t, err, catalog.ErrValidation)
	_, err = f.svc.ByLevel(ctx, -1)
	assert.ErrorIs(t, err, catalog.ErrValidation)

	leaves, err := f.svc.Leaves(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Basmati", "Jasmine", "Wheat", "Pulses"}, names(leaves))
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []string{"A", "B", "C", "D", "E"} {
		f.create(t, nil, n)
	}
	c, err := f.svc.GetBySlug(ctx, "c")
	require.NoError(t, err)
	_, err = f.svc.SetActive(ctx, c.ID, false, actor)
	require.NoError(t, err)

	page, err := f.svc.List(ctx, catalog.ListParams{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, []string{"C", "D"}, names(page.Items))

	page, err = f.svc.List(ctx, catalog.ListParams{ActiveOnly: true, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 1, page.Page)

	page, err = f.svc.List(ctx, catalog.ListParams{Page: 9})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Equal(t, catalog.DefaultPageSize, page.PageSize)

	page, err = f.svc.List(ctx, catalog.ListParams{PageSize: 10_000})
	require.NoError(t, err)
	assert.Equal(t, catalog.MaxPageSize, page.PageSize)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grains(t)
	f.create(t, nil, "Brown Rice Flour")

	found, err := f.svc.Search(ctx, "  RICE ", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brown Rice Flour", "Rice"}, names(found))

	found, err = f.svc.Search(ctx, "rice", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = f.svc.Search(ctx, "   ", 10)
	assert.ErrorIs(t, err, catalog.ErrValidation)
}

func TestPopularAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grains := f.create(t, nil, "Grains")
	pulses := f.create(t, nil, "Pulses")

	for _, p := range []struct {
		cat    uuid.UUID
		price  string
		active bool
	}{
		{pulses.ID, "10.00", true},
		{pulses.ID, "20.00", true},
		{pulses.ID, "31.00", false},
		{grains.ID, "5.00", true},
	} {
		f.store.AddProduct(models.Product{CategoryID: p.cat, Name: "p", Price: decimal.RequireFromString(p.price), Active: p.active})
	}
	popular, err := f.svc.Popular(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pulses", "Grains"}, names(popular))

	stats, err := f.svc.Stats(ctx, pulses.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalProducts)
	assert.Equal(t, 2, stats.ActiveProducts)
	assert.Equal(t, 1, stats.InactiveProducts)
	assert.True(t, stats.AveragePrice.Equal(decimal.RequireFromString("20.33")), "got %s", stats.AveragePrice)

	_, err = f.svc.Stats(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestPopularCountsProductsWithoutRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, nil, "Alpha")
	zeta := f.create(t, nil, "Zeta")
	for range 3 {
		f.store.AddProduct(models.Product{CategoryID: zeta.ID, Name: "p", Price: decimal.NewFromInt(1), Active: true})
	}
	f.store.AddProduct(models.Product{CategoryID: zeta.ID, Name: "gone", Price: decimal.NewFromInt(1), Deleted: true})

	popular, err := f.svc.Popular(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"Zeta", "Alpha"}, names(popular))
	assert.Equal(t, 3, popular[0].ProductCount)
	assert.Equal(t, 0, popular[1].ProductCount)

	// The stored counter is still stale until a repair runs.
	stored, err := f.svc.Get(ctx, zeta.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ProductCount)
}
