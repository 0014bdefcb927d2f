package httpx

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// readinessTimeout bounds every dependency check on /readyz.
const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether one dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

type healthBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler is the liveness check: the process is serving HTTP.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, r, http.StatusOK, healthBody{Status: "ok"})
}

// readyHandler runs every check concurrently and answers 503 when any fails.
func readyHandler(checks map[string]ReadinessCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		results := make([]error, len(names))
		var wg sync.WaitGroup
		for i, name := range names {
			wg.Go(func() { results[i] = checks[name](ctx) })
		}
		wg.Wait()

		body := healthBody{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK
		for i, name := range names {
			if results[i] != nil {
				body.Checks[name] = results[i].Error()
				body.Status, status = "unavailable", http.StatusServiceUnavailable
				continue
			}
			body.Checks[name] = "ok"
		}
		writeHealth(w, r, status, body)
	}
}

func writeHealth(w http.ResponseWriter, r *http.Request, status int, body healthBody) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		return
	}
	WriteJSON(w, status, body)
}
