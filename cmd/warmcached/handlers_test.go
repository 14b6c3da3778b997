package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/warmcache"
	"github.com/dmitrymomot/warmcache/pkg/health"
	"github.com/dmitrymomot/warmcache/pkg/logger"
	"github.com/dmitrymomot/warmcache/pkg/persist"
)

// fakeOrigin serves GET /items?ids=... from a fixed item set.
type fakeOrigin struct {
	items    map[string]string
	requests atomic.Int32
}

func (o *fakeOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.requests.Add(1)
	out := map[string]json.RawMessage{}
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if v, ok := o.items[id]; ok {
			out[id] = json.RawMessage(v)
		}
	}
	_ = json.NewEncoder(w).Encode(out)
}

func newTestApp(t *testing.T) (*app, *fakeOrigin, http.Handler) {
	t.Helper()

	origin := &fakeOrigin{items: map[string]string{
		"a": `{"id":"a"}`,
		"b": `{"id":"b"}`,
		"c": `{"id":"c"}`,
	}}
	srv := httptest.NewServer(origin)
	t.Cleanup(srv.Close)

	cfg := config{
		Tier:   tierMemory,
		Origin: originConfig{URL: srv.URL, Timeout: time.Second},
		Cache:  warmcache.DefaultConfig(),
	}
	cfg.Cache.MaxWaitTime = 20 * time.Millisecond
	cfg.Cache.GraceDelay = -1

	d := &deps{store: persist.NewMemory(), checks: health.Checks{}}
	a, err := buildApp(cfg, d, logger.NewNope())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.shutdown(context.Background())
	})

	return a, origin, a.routes()
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// --- GET /items/{id} ---

func TestGetItem(t *testing.T) {
	t.Parallel()

	t.Run("second read is served from cache", func(t *testing.T) {
		t.Parallel()

		_, origin, h := newTestApp(t)

		rec := do(h, http.MethodGet, "/items/a")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"id":"a"}`, rec.Body.String())

		rec = do(h, http.MethodGet, "/items/a")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, int32(1), origin.requests.Load())
	})

	t.Run("missing item is 404", func(t *testing.T) {
		t.Parallel()

		_, _, h := newTestApp(t)
		rec := do(h, http.MethodGet, "/items/zzz")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("concurrent reads of different ids share origin requests", func(t *testing.T) {
		t.Parallel()

		_, origin, h := newTestApp(t)

		var wg sync.WaitGroup
		codes := make([]int, 3)
		for i, id := range []string{"a", "b", "c"} {
			wg.Go(func() {
				codes[i] = do(h, http.MethodGet, "/items/"+id).Code
			})
		}
		wg.Wait()

		for _, code := range codes {
			require.Equal(t, http.StatusOK, code)
		}
		require.Less(t, origin.requests.Load(), int32(3))
	})
}

// --- DELETE /items/{id} ---

func TestDeleteItem(t *testing.T) {
	t.Parallel()

	_, origin, h := newTestApp(t)

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/items/a").Code)
	require.Equal(t, http.StatusNoContent, do(h, http.MethodDelete, "/items/a").Code)
	require.Equal(t, http.StatusNoContent, do(h, http.MethodDelete, "/items/a").Code)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/items/a").Code)

	require.Equal(t, int32(2), origin.requests.Load())
}

// --- POST /items/{id}/prefetch ---

func TestPrefetchItem(t *testing.T) {
	t.Parallel()

	a, origin, h := newTestApp(t)

	rec := do(h, http.MethodPost, "/items/b/prefetch?priority=high")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "task_id")

	require.Eventually(t, func() bool {
		_, ok := a.cache.Peek(context.Background(), "b")
		return ok
	}, time.Second, 5*time.Millisecond)

	rec = do(h, http.MethodPost, "/items/b/prefetch")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "already_known")

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/items/b").Code)
	require.Equal(t, int32(1), origin.requests.Load())
}

// --- POST /hints/{kind}/{id} ---

func TestHint(t *testing.T) {
	t.Parallel()

	t.Run("enter prefetches the target", func(t *testing.T) {
		t.Parallel()

		a, _, h := newTestApp(t)
		require.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/hints/enter/c").Code)

		require.Eventually(t, func() bool {
			_, ok := a.cache.Peek(context.Background(), "c")
			return ok
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("idle registers and ticks", func(t *testing.T) {
		t.Parallel()

		a, _, h := newTestApp(t)
		require.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/hints/idle/a").Code)

		require.Eventually(t, func() bool {
			_, ok := a.cache.Peek(context.Background(), "a")
			return ok
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		t.Parallel()

		_, _, h := newTestApp(t)
		require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/hints/scroll/a").Code)
	})
}

// --- service endpoints ---

func TestServiceEndpoints(t *testing.T) {
	t.Parallel()

	_, _, h := newTestApp(t)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/items/a").Code)

	rec := do(h, http.MethodPost, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":2}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, int64(1), stats.Cache.MissCount)
	require.Equal(t, uint64(2), stats.Version)

	rec = do(h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), `warmcache_cache_misses_total{cache="items"} 1`)

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health/live").Code)
	rec = do(h, http.MethodGet, "/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}
