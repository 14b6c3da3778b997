package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/warmcache"
	"github.com/dmitrymomot/warmcache/internal/server"
	"github.com/dmitrymomot/warmcache/pkg/batch"
	"github.com/dmitrymomot/warmcache/pkg/coalesce"
	"github.com/dmitrymomot/warmcache/pkg/health"
	"github.com/dmitrymomot/warmcache/pkg/metrics"
	"github.com/dmitrymomot/warmcache/pkg/prefetch"
)

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(server.RequestID, server.Recover(a.log), server.AccessLog(a.log))

	r.Get("/health/live", health.LivenessHandler())
	r.Get("/health/ready", health.ReadinessHandler(a.critical,
		health.WithOptional(a.deps.checks),
		health.WithLogger(a.log),
	))
	r.Handle("/metrics", metrics.Handler(a.registry))

	r.Get("/stats", a.stats)
	r.Post("/version", a.bumpVersion)

	r.Route("/items/{id}", func(r chi.Router) {
		r.Get("/", a.getItem)
		r.Delete("/", a.deleteItem)
		r.Post("/prefetch", a.prefetchItem)
	})
	r.Post("/hints/{kind}/{id}", a.hint)

	return r
}

func (a *app) getItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data, err := a.cache.Get(r.Context(), id, a.fetcher(id))
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	case errors.Is(err, errItemNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, coalesce.ErrMaxRetriesExceeded), errors.Is(err, warmcache.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, coalesce.ErrTimeout), errors.Is(err, batch.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (a *app) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := a.cache.Invalidate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) prefetchItem(w http.ResponseWriter, r *http.Request) {
	opts := []prefetch.TaskOption{
		prefetch.WithPriority(prefetch.ParsePriority(r.URL.Query().Get("priority"))),
	}
	if r.URL.Query().Get("force") == "true" {
		opts = append(opts, prefetch.Forced())
	}

	taskID, err := a.queue.Enqueue(chi.URLParam(r, "id"), opts...)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID.String()})
	case errors.Is(err, prefetch.ErrAlreadyKnown):
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_known"})
	case errors.Is(err, prefetch.ErrQueueFull), errors.Is(err, prefetch.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

// hint feeds UI signals into the manual trigger source.
func (a *app) hint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	switch chi.URLParam(r, "kind") {
	case "enter":
		a.manual.Enter(id)
	case "hover":
		a.manual.Hover(id)
	case "idle":
		a.queue.WhenIdle(id)
		a.manual.Idle()
	default:
		writeError(w, http.StatusBadRequest, errors.New("hint kind must be enter, hover or idle"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *app) bumpVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"version": a.cache.BumpVersion()})
}

type statsResponse struct {
	Cache    metrics.Snapshot `json:"cache"`
	HitRatio float64          `json:"hit_ratio"`
	Version  uint64           `json:"version"`
	Batch    batch.Stats      `json:"batch"`
	Prefetch prefetch.Stats   `json:"prefetch"`
}

func (a *app) stats(w http.ResponseWriter, _ *http.Request) {
	snap := a.cache.Metrics()
	writeJSON(w, http.StatusOK, statsResponse{
		Cache:    snap,
		HitRatio: snap.HitRatio(),
		Version:  a.cache.Version(),
		Batch:    a.batcher.Stats(),
		Prefetch: a.queue.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
