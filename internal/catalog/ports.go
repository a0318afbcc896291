package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"procgrid/internal/models"
)

// Repository is the persistence contract for the category tree.
//
// Finders return (nil, nil) when the row is absent or soft-deleted. Every
// list excludes deleted rows. Update writes the mutable columns of a row but
// never its counters; counters move through AdjustChildrenCount and
// SetCounters only.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Category, error)
	FindBySlug(ctx context.Context, slug string) (*models.Category, error)
	FindByPath(ctx context.Context, path string) (*models.Category, error)
	FindSiblingByName(ctx context.Context, parentID *uuid.UUID, name string) (*models.Category, error)
	SlugTaken(ctx context.Context, parentID *uuid.UUID, slug string, excludeID uuid.UUID) (bool, error)

	// Ancestors returns the parent chain of id ordered root first,
	// excluding the node itself.
	Ancestors(ctx context.Context, id uuid.UUID) ([]*models.Category, error)
	// Descendants returns every node below id, shallowest first.
	Descendants(ctx context.Context, id uuid.UUID) ([]*models.Category, error)

	ListRoots(ctx context.Context) ([]*models.Category, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Category, error)
	ListByLevel(ctx context.Context, level int) ([]*models.Category, error)
	ListLeaves(ctx context.Context) ([]*models.Category, error)
	// ListPopular ranks active nodes by their live non-deleted product rows
	// and reports that count in ProductCount.
	ListPopular(ctx context.Context, limit int) ([]*models.Category, error)
	ListPage(ctx context.Context, activeOnly bool, offset, limit int) ([]*models.Category, int, error)
	Search(ctx context.Context, query string, limit int) ([]*models.Category, error)
	ListAll(ctx context.Context) ([]*models.Category, error)

	CountChildren(ctx context.Context, id uuid.UUID, activeOnly bool) (int, error)
	CountProducts(ctx context.Context, id uuid.UUID, activeOnly bool) (int, error)
	ProductStats(ctx context.Context, id uuid.UUID) (*models.CategoryStats, error)

	Insert(ctx context.Context, c *models.Category) error
	Update(ctx context.Context, c *models.Category) error
	AdjustChildrenCount(ctx context.Context, id uuid.UUID, delta int) error
	SetCounters(ctx context.Context, id uuid.UUID, children, products int) error
	DeactivateChildren(ctx context.Context, parentID uuid.UUID, actor string) (int, error)

	// LockTrees serializes structural changes per tree. Implementations
	// hold the locks until the surrounding transaction ends.
	LockTrees(ctx context.Context, rootIDs ...uuid.UUID) error
}

// Store is a Repository that can run a unit of work atomically.
type Store interface {
	Repository
	// InTx runs fn inside one transaction. fn's changes commit together
	// when it returns nil and are discarded otherwise.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

// Cache is the cache-aside collaborator. Implementations treat every
// failure as a miss.
type Cache interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any)
	InvalidateAll(ctx context.Context)
}

// InvalidationLog records cache invalidations for auditing.
type InvalidationLog interface {
	Log(ctx context.Context, entityType string, entityID uuid.UUID, action string)
}

// EventType names a domain event published after a committed mutation.
type EventType string

const (
	EventCreated       EventType = "category.created"
	EventUpdated       EventType = "category.updated"
	EventMoved         EventType = "category.moved"
	EventStatusChanged EventType = "category.status.changed"
	EventDeleted       EventType = "category.deleted"
)

// Event is the payload other services consume.
type Event struct {
	Type       EventType      `json:"type"`
	CategoryID uuid.UUID      `json:"categoryId"`
	Actor      string         `json:"actor"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data"`
}

// Publisher is the event sink. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, any) bool { return false }
func (noopCache) Set(context.Context, string, any)      {}
func (noopCache) InvalidateAll(context.Context)         {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }
