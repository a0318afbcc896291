package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"procgrid/internal/catalog"
)

// Request limits enforced before a body reaches the service.
const (
	maxBodyBytes = 64 << 10
	maxQueryLen  = 100
)

var errEmptyBody = errors.New("request body is empty")

// parseID reads the {id} URL parameter.
func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, invalid("id", "must be a UUID")
	}
	return id, nil
}

// queryInt reads an optional integer query parameter. Missing or empty
// values yield 0 so the service applies its default.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

// queryBool reads an optional boolean query parameter, defaulting to false.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalid(name, "must be true or false")
	}
	return b, nil
}

// validateSearchQuery checks the free-text search term.
func validateSearchQuery(q string) error {
	q = strings.TrimSpace(q)
	if q == "" {
		return invalid("q", "must not be empty")
	}
	if len([]rune(q)) > maxQueryLen {
		return invalid("q", "must be at most 100 characters")
	}
	return nil
}

func invalid(field, msg string) error {
	return &catalog.ValidationError{Fields: map[string]string{field: msg}}
}
