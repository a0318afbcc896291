package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procgrid/internal/catalog"
	"procgrid/internal/models"
)

func insert(t *testing.T, s *Store, parent *models.Category, name, slug string) *models.Category {
	t.Helper()
	c := &models.Category{Name: name, Slug: slug, Path: "/" + slug, Active: true, Metadata: models.Metadata{}}
	if parent != nil {
		c.ParentID = &parent.ID
		c.Level = parent.Level + 1
		c.Path = parent.Path + "/" + slug
	}
	require.NoError(t, s.Insert(context.Background(), c))
	return c
}

func TestInsertAssignsIDAndTimestamps(t *testing.T) {
	s := New()
	c := insert(t, s, nil, "Grains", "grains")

	assert.NotEqual(t, uuid.Nil, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
	assert.Equal(t, c.CreatedAt, c.UpdatedAt)
}

func TestFindReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := insert(t, s, nil, "Grains", "grains")

	got, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	got.Metadata["k"] = "v"

	again, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grains", again.Name)
	assert.Empty(t, again.Metadata)
}

func TestUniqueSiblings(t *testing.T) {
	s := New()
	ctx := context.Background()
	root := insert(t, s, nil, "Grains", "grains")
	insert(t, s, root, "Rice", "rice")

	err := s.Insert(ctx, &models.Category{Name: "Rice", Slug: "rice-2", ParentID: &root.ID})
	assert.ErrorIs(t, err, catalog.ErrDuplicateName)
	err = s.Insert(ctx, &models.Category{Name: "Other", Slug: "rice", ParentID: &root.ID})
	assert.ErrorIs(t, err, catalog.ErrDuplicateName)

	// Same name at a different parent is fine.
	insert(t, s, nil, "Rice", "rice")

	taken, err := s.SlugTaken(ctx, &root.ID, "rice", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = s.SlugTaken(ctx, &root.ID, "wheat", uuid.Nil)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestDeletedRowsAreInvisible(t *testing.T) {
	s := New()
	ctx := context.Background()
	root := insert(t, s, nil, "Grains", "grains")
	rice := insert(t, s, root, "Rice", "rice")

	rice.Deleted = true
	require.NoError(t, s.Update(ctx, rice))

	got, err := s.FindByID(ctx, rice.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := s.CountChildren(ctx, root.ID, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The name and slug are reusable.
	insert(t, s, root, "Rice", "rice")
}

func TestTreeWalks(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := insert(t, s, nil, "A", "a")
	b := insert(t, s, a, "B", "b")
	c := insert(t, s, b, "C", "c")
	d := insert(t, s, a, "D", "d")

	chain, err := s.Ancestors(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, a.ID, chain[0].ID)
	assert.Equal(t, b.ID, chain[1].ID)

	desc, err := s.Descendants(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, []uuid.UUID{b.ID, d.ID, c.ID}, []uuid.UUID{desc[0].ID, desc[1].ID, desc[2].ID})

	leaves, err := s.ListLeaves(ctx)
	require.NoError(t, err)
	assert.Len(t, leaves, 2)
}

func TestAncestorsStopsOnCycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := insert(t, s, nil, "A", "a")
	b := insert(t, s, a, "B", "b")

	a.ParentID = &b.ID
	require.NoError(t, s.Update(ctx, a))

	chain, err := s.Ancestors(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestInTxRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	root := insert(t, s, nil, "Grains", "grains")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx catalog.Repository) error {
		c, err := tx.FindByID(ctx, root.ID)
		if err != nil {
			return err
		}
		c.Name = "renamed"
		if err := tx.Update(ctx, c); err != nil {
			return err
		}
		if err := tx.AdjustChildrenCount(ctx, root.ID, 3); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.FindByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grains", got.Name)
	assert.Zero(t, got.ChildrenCount)
}

func TestCounters(t *testing.T) {
	s := New()
	ctx := context.Background()
	root := insert(t, s, nil, "Grains", "grains")

	require.NoError(t, s.AdjustChildrenCount(ctx, root.ID, 2))
	require.NoError(t, s.AdjustChildrenCount(ctx, root.ID, -5))
	got, _ := s.FindByID(ctx, root.ID)
	assert.Zero(t, got.ChildrenCount, "children count clamps at zero")

	require.NoError(t, s.SetCounters(ctx, root.ID, 4, 9))
	got.Name = "Cereals"
	got.ChildrenCount = 100
	require.NoError(t, s.Update(ctx, got))

	got, _ = s.FindByID(ctx, root.ID)
	assert.Equal(t, "Cereals", got.Name)
	assert.Equal(t, 4, got.ChildrenCount, "Update never writes counters")
	assert.Equal(t, 9, got.ProductCount)
}

func TestDeactivateChildren(t *testing.T) {
	s := New()
	ctx := context.Background()
	root := insert(t, s, nil, "Grains", "grains")
	insert(t, s, root, "Rice", "rice")
	insert(t, s, root, "Wheat", "wheat")

	n, err := s.DeactivateChildren(ctx, root.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := s.CountChildren(ctx, root.ID, true)
	require.NoError(t, err)
	assert.Zero(t, active)

	n, err = s.DeactivateChildren(ctx, root.ID, "tester")
	require.NoError(t, err)
	assert.Zero(t, n, "already inactive children are not counted")
}

func TestProductsAndStats(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := insert(t, s, nil, "Spices", "spices")
	s.AddProduct(models.Product{CategoryID: c.ID, Price: decimal.RequireFromString("1.00"), Active: true})
	s.AddProduct(models.Product{CategoryID: c.ID, Price: decimal.RequireFromString("2.00")})
	s.AddProduct(models.Product{CategoryID: c.ID, Price: decimal.RequireFromString("99.00"), Deleted: true})

	n, err := s.CountProducts(ctx, c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountProducts(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := s.ProductStats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProducts)
	assert.Equal(t, 1, stats.InactiveProducts)
	assert.True(t, stats.AveragePrice.Equal(decimal.RequireFromString("1.5")))
}

func TestListPageAndSearch(t *testing.T) {
	s := New()
	ctx := context.Background()
	insert(t, s, nil, "Rice", "rice")
	wild := insert(t, s, nil, "Wild Rice", "wild-rice")
	insert(t, s, nil, "Wheat", "wheat")

	wild.Active = false
	require.NoError(t, s.Update(ctx, wild))

	page, total, err := s.ListPage(ctx, false, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "Wheat", page[0].Name)

	page, total, err = s.ListPage(ctx, true, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, page, 2)

	page, _, err = s.ListPage(ctx, false, 50, 10)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)

	found, err := s.Search(ctx, "RICE", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.Search(ctx, "rice", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestListPopularUsesLiveProductCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	insert(t, s, nil, "Alpha", "alpha")
	zeta := insert(t, s, nil, "Zeta", "zeta")
	for range 3 {
		s.AddProduct(models.Product{CategoryID: zeta.ID, Price: decimal.NewFromInt(1)})
	}
	s.AddProduct(models.Product{CategoryID: zeta.ID, Price: decimal.NewFromInt(1), Deleted: true})

	popular, err := s.ListPopular(ctx, 10)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, "Zeta", popular[0].Name)
	assert.Equal(t, 3, popular[0].ProductCount)
	assert.Equal(t, "Alpha", popular[1].Name)

	stored, err := s.FindByID(ctx, zeta.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ProductCount)

	top, err := s.ListPopular(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, zeta.ID, top[0].ID)
}
