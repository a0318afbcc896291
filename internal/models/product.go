// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the slice of a product-service row the catalog reads.
// The catalog never writes products.
type Product struct {
	ID         uuid.UUID       `json:"id"`
	CategoryID uuid.UUID       `json:"categoryId"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Active     bool            `json:"active"`
	Deleted    bool            `json:"deleted"`
}

// CategoryStats aggregates the products linked directly to a category.
type CategoryStats struct {
	CategoryID       uuid.UUID       `json:"categoryId"`
	TotalProducts    int             `json:"totalProducts"`
	ActiveProducts   int             `json:"activeProducts"`
	InactiveProducts int             `json:"inactiveProducts"`
	AveragePrice     decimal.Decimal `json:"averagePrice"`
}
