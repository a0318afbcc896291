// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"net/http"

	"procgrid/internal/catalog"
	"procgrid/internal/middleware"
	"procgrid/internal/store"
)

// CacheLogReader lists recent cache invalidations.
type CacheLogReader interface {
	RecentEntries(ctx context.Context, limit int) ([]store.CacheLogEntry, error)
}

// defaultCacheLogLimit is how many invalidations CacheLog returns by default.
const defaultCacheLogLimit = 50

// Admin groups the maintenance endpoints.
type Admin struct {
	svc      *catalog.Service
	cacheLog CacheLogReader
}

// NewAdmin creates the admin handler group. cacheLog may be nil when the
// store has no invalidation log.
func NewAdmin(svc *catalog.Service, cacheLog CacheLogReader) *Admin {
	return &Admin{svc: svc, cacheLog: cacheLog}
}

// Rebuild serves POST /admin/categories/rebuild.
func (a *Admin) Rebuild(w http.ResponseWriter, r *http.Request) {
	fixed, err := a.svc.RebuildHierarchy(r.Context(), middleware.ActorFromCtx(r.Context()))
	respond(w, r, http.StatusOK, map[string]int{"rootsFixed": fixed}, err)
}

// Repair serves POST /admin/categories/repair.
func (a *Admin) Repair(w http.ResponseWriter, r *http.Request) {
	report, err := a.svc.RepairHierarchy(r.Context(), middleware.ActorFromCtx(r.Context()))
	respond(w, r, http.StatusOK, report, err)
}

// CacheLog serves GET /admin/cache-log?limit=.
func (a *Admin) CacheLog(w http.ResponseWriter, r *http.Request) {
	if a.cacheLog == nil {
		writeJSON(w, http.StatusOK, []store.CacheLogEntry{})
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 || limit > 500 {
		limit = defaultCacheLogLimit
	}
	entries, err := a.cacheLog.RecentEntries(r.Context(), limit)
	respond(w, r, http.StatusOK, entries, err)
}
