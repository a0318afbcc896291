// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category is one node of the catalog forest. Level and Path are
// materialized from the parent chain and rewritten on every structural change.
type Category struct {
	ID            uuid.UUID  `json:"id"`
	ParentID      *uuid.UUID `json:"parentId"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	Description   string     `json:"description"`
	ImageURL      string     `json:"imageUrl"`
	Level         int        `json:"level"`
	Path          string     `json:"path"`
	Active        bool       `json:"active"`
	ChildrenCount int        `json:"childrenCount"`
	ProductCount  int        `json:"productCount"`
	Deleted       bool       `json:"deleted"`
	Metadata      Metadata   `json:"metadata"`
	CreatedAt     time.Time  `json:"createdAt"`
	CreatedBy     string     `json:"createdBy"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	UpdatedBy     string     `json:"updatedBy"`

	// Populated only by hierarchy reads.
	Children []*Category `json:"children,omitempty"`
}

// IsRoot reports whether the category has no parent.
func (c *Category) IsRoot() bool {
	return c.ParentID == nil
}

// Clone returns a deep copy without the Children slice.
func (c *Category) Clone() *Category {
	cp := *c
	if c.ParentID != nil {
		pid := *c.ParentID
		cp.ParentID = &pid
	}
	cp.Metadata = c.Metadata.Clone()
	cp.Children = nil
	return &cp
}

// SameParent compares two optional parent ids (both nil or equal values).
func SameParent(a, b *uuid.UUID) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// Metadata is the open key/value bag stored as JSONB.
type Metadata map[string]any

// Clone returns a shallow copy of the bag.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	cp := make(Metadata, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	*m = out
	return nil
}

// BreadcrumbItem is one step of a root-to-node trail.
type BreadcrumbItem struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
	Path string    `json:"path"`
}

// CategoryPage is one page of a paginated category listing.
type CategoryPage struct {
	Items      []*Category `json:"items"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	Total      int         `json:"total"`
	TotalPages int         `json:"totalPages"`
}
