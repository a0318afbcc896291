// store_test.go provides a shared test database helper for all store
// integration tests. Tests are skipped if PostgreSQL is not available.
package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"procgrid/internal/database"
	"procgrid/internal/models"
)

// testDSN returns the PostgreSQL connection string for testing.
// Uses environment variables with defaults matching docker-compose.yml.
func testDSN() string {
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "procgrid")
	pass := envOr("POSTGRES_PASSWORD", "changeme")
	name := envOr("POSTGRES_DB", "procgrid")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=disable"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// testDB opens a connection to the test database and runs migrations.
// If the database is unavailable, the test is skipped. A cleanup
// function is registered to close the connection when the test finishes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := testDSN()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Skipf("skipping integration test: cannot open DB: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping integration test: DB not reachable: %v", err)
	}

	// Run migrations to ensure the schema is current.
	if err := database.Migrate(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	// Downgrade goose global state.
	goose.SetBaseFS(nil)

	t.Cleanup(func() { db.Close() })
	return db
}

// cleanCategories hard-deletes test categories and their products.
// Children go first so the parent foreign key never blocks a delete.
func cleanCategories(t *testing.T, db *sql.DB, ids ...uuid.UUID) {
	t.Helper()
	for i := len(ids) - 1; i >= 0; i-- {
		db.Exec("DELETE FROM products WHERE category_id = $1", ids[i])
		db.Exec("DELETE FROM categories WHERE id = $1", ids[i])
	}
}

// insertCategory writes a category row directly, bypassing the service.
func insertCategory(t *testing.T, s *CategoryStore, parent *models.Category, name string) *models.Category {
	t.Helper()
	suffix := uuid.NewString()[:8]
	c := &models.Category{
		Name:      name + " " + suffix,
		Slug:      "test-" + suffix,
		Active:    true,
		Metadata:  models.Metadata{},
		CreatedBy: "store-test",
		UpdatedBy: "store-test",
	}
	c.Path = "/" + c.Slug
	if parent != nil {
		c.ParentID = &parent.ID
		c.Level = parent.Level + 1
		c.Path = parent.Path + "/" + c.Slug
	}
	if err := s.Insert(context.Background(), c); err != nil {
		t.Fatalf("Insert %q: %v", name, err)
	}
	return c
}
