package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"procgrid/internal/catalog"
)

// SeedActor is recorded as creator of the seeded categories.
const SeedActor = "seed"

type seedNode struct {
	name        string
	description string
	children    []seedNode
}

// seedTree is the starter catalog for development databases.
var seedTree = []seedNode{
	{name: "Grains", description: "Cereal grains and milled products", children: []seedNode{
		{name: "Rice", children: []seedNode{
			{name: "Basmati"},
			{name: "Jasmine"},
		}},
		{name: "Wheat"},
		{name: "Maize"},
	}},
	{name: "Pulses", description: "Dried legumes", children: []seedNode{
		{name: "Lentils"},
		{name: "Chickpeas"},
	}},
	{name: "Fresh Produce", children: []seedNode{
		{name: "Fruits"},
		{name: "Vegetables"},
	}},
}

// Seed populates an empty catalog with a starter category tree. It goes
// through the service so level, path and counters come out consistent.
// A catalog that already has roots is left alone.
func Seed(ctx context.Context, svc *catalog.Service) error {
	roots, err := svc.Roots(ctx)
	if err != nil {
		return fmt.Errorf("seed check roots: %w", err)
	}
	if len(roots) > 0 {
		slog.Info("catalog already seeded, skipping")
		return nil
	}

	created := 0
	var plant func(parent *uuid.UUID, nodes []seedNode) error
	plant = func(parent *uuid.UUID, nodes []seedNode) error {
		for _, n := range nodes {
			c, err := svc.Create(ctx, catalog.CreateInput{
				Name:        n.name,
				Description: n.description,
				ParentID:    parent,
			}, SeedActor)
			if err != nil {
				return fmt.Errorf("seed %q: %w", n.name, err)
			}
			created++
			if err := plant(&c.ID, n.children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := plant(nil, seedTree); err != nil {
		return err
	}

	slog.Info("catalog seeded", "categories", created)
	return nil
}
