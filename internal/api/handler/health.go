package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const readinessTimeout = time.Second

// Pinger is any dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler accepts nil for dependencies that are not configured.
func NewHealthHandler(db, redis Pinger) *HealthHandler {
	deps := make(map[string]Pinger, 2)
	if db != nil {
		deps["database"] = db
	}
	if redis != nil {
		deps["redis"] = redis
	}
	return &HealthHandler{deps: deps}
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings every configured dependency in parallel and fails if any is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.deps))
		down   []string
	)
	for name, dep := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "ok"
			if err := dep.Ping(ctx); err != nil {
				status = "unavailable"
			}
			mu.Lock()
			defer mu.Unlock()
			checks[name] = status
			if status != "ok" {
				down = append(down, name)
			}
		}()
	}
	wg.Wait()

	if len(down) > 0 {
		sort.Strings(down)
		RespondError(w, r, http.StatusServiceUnavailable, "health/"+down[0]+"-unavailable", strings.Join(down, ", ")+" unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}
