// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package handlers contains the HTTP handlers for the ProcGrid catalog API.
// Handlers are grouped by concern (categories, admin) and receive their
// dependencies through the handler struct.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"procgrid/internal/catalog"
	"procgrid/internal/middleware"
)

// Categories groups the category API handlers.
type Categories struct {
	svc *catalog.Service
}

// NewCategories creates the category handler group.
func NewCategories(svc *catalog.Service) *Categories {
	return &Categories{svc: svc}
}

// List serves GET /categories?page=&pageSize=&active=.
func (h *Categories) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "pageSize")
	if err != nil {
		writeError(w, r, err)
		return
	}
	activeOnly, err := queryBool(r, "active")
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.svc.List(r.Context(), catalog.ListParams{Page: page, PageSize: size, ActiveOnly: activeOnly})
	respond(w, r, http.StatusOK, result, err)
}

// Create serves POST /categories.
func (h *Categories) Create(w http.ResponseWriter, r *http.Request) {
	var in catalog.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.svc.Create(r.Context(), in, middleware.ActorFromCtx(r.Context()))
	respond(w, r, http.StatusCreated, created, err)
}

// Get serves GET /categories/{id}.
func (h *Categories) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Get(r.Context(), id)
	respond(w, r, http.StatusOK, c, err)
}

// Update serves PATCH /categories/{id}.
func (h *Categories) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in catalog.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Update(r.Context(), id, in, middleware.ActorFromCtx(r.Context()))
	respond(w, r, http.StatusOK, c, err)
}

// Delete serves DELETE /categories/{id}.
func (h *Categories) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id, middleware.ActorFromCtx(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	ParentID *uuid.UUID `json:"parentId"`
}

// Move serves POST /categories/{id}/move. A null or absent parentId makes
// the category a root.
func (h *Categories) Move(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Move(r.Context(), id, req.ParentID, middleware.ActorFromCtx(r.Context()))
	respond(w, r, http.StatusOK, c, err)
}

// Activate serves POST /categories/{id}/activate.
func (h *Categories) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate serves POST /categories/{id}/deactivate.
func (h *Categories) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Categories) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.SetActive(r.Context(), id, active, middleware.ActorFromCtx(r.Context()))
	respond(w, r, http.StatusOK, c, err)
}

// Children serves GET /categories/{id}/children.
func (h *Categories) Children(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.svc.Children(r.Context(), id)
	respond(w, r, http.StatusOK, items, err)
}

// Hierarchy serves GET /categories/{id}/hierarchy.
func (h *Categories) Hierarchy(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tree, err := h.svc.Hierarchy(r.Context(), id)
	respond(w, r, http.StatusOK, tree, err)
}

// Breadcrumb serves GET /categories/{id}/breadcrumb.
func (h *Categories) Breadcrumb(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.svc.Breadcrumb(r.Context(), id)
	respond(w, r, http.StatusOK, items, err)
}

// Stats serves GET /categories/{id}/stats.
func (h *Categories) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := h.svc.Stats(r.Context(), id)
	respond(w, r, http.StatusOK, stats, err)
}

// Roots serves GET /categories/roots.
func (h *Categories) Roots(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Roots(r.Context())
	respond(w, r, http.StatusOK, items, err)
}

// Leaves serves GET /categories/leaves.
func (h *Categories) Leaves(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Leaves(r.Context())
	respond(w, r, http.StatusOK, items, err)
}

// Popular serves GET /categories/popular?limit=.
func (h *Categories) Popular(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.svc.Popular(r.Context(), limit)
	respond(w, r, http.StatusOK, items, err)
}

// ByLevel serves GET /categories/levels/{level}.
func (h *Categories) ByLevel(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, r, invalid("level", "must be an integer"))
		return
	}
	items, err := h.svc.ByLevel(r.Context(), level)
	respond(w, r, http.StatusOK, items, err)
}

// BySlug serves GET /categories/slug/{slug}.
func (h *Categories) BySlug(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	respond(w, r, http.StatusOK, c, err)
}

// ByPath serves GET /categories/path?p=/grains/rice.
func (h *Categories) ByPath(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("p")
	if p == "" {
		writeError(w, r, invalid("p", "must not be empty"))
		return
	}
	c, err := h.svc.GetByPath(r.Context(), p)
	respond(w, r, http.StatusOK, c, err)
}

// Search serves GET /categories/search?q=&limit=.
func (h *Categories) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if err := validateSearchQuery(q); err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.svc.Search(r.Context(), q, limit)
	respond(w, r, http.StatusOK, items, err)
}

// decodeJSON reads a size-limited JSON body into dst. Unknown fields are
// rejected so typos do not silently become no-ops.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return invalid("body", "malformed JSON: "+err.Error())
	}
	return nil
}

// respond writes v with status, or the error envelope when err is set.
func respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// writeError maps a service error onto its HTTP status and error envelope.
// Internal errors are logged and their detail withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errEmptyBody) {
		err = invalid("body", "must not be empty")
	}

	body := errorBody{Error: catalog.Code(err), Message: err.Error()}
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}

	status := http.StatusInternalServerError
	switch catalog.Classify(err) {
	case catalog.ClassNotFound:
		status = http.StatusNotFound
	case catalog.ClassValidation:
		status = http.StatusBadRequest
	case catalog.ClassConflict:
		status = http.StatusConflict
	case catalog.ClassPrecondition:
		status = http.StatusUnprocessableEntity
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}
