// Package health serves Kubernetes-style liveness and readiness probes.
//
// Checks run on demand when a probe endpoint is hit, each bounded by its own
// timeout. Results are cached for a short TTL so that aggressive kubelet
// polling cannot hammer the checked dependencies.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Check probes one component. A nil return means healthy.
type Check func(ctx context.Context) error

// probe wraps a Check with its timeout and cached last result.
type probe struct {
	name    string
	timeout time.Duration
	check   Check

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// status returns the probe result, re-running the check only when the cached
// result is older than ttl.
func (p *probe) status(ctx context.Context, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastRun.IsZero() && time.Since(p.lastRun) < ttl {
		return p.lastErr
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.lastErr = p.check(checkCtx)
	p.lastRun = time.Now()
	return p.lastErr
}

// Service aggregates liveness and readiness probes for one process.
type Service struct {
	ttl   time.Duration
	ready atomic.Bool

	mu        sync.RWMutex
	live      []*probe
	readiness []*probe
}

// New creates a Service caching probe results for ttl. The service starts
// not-ready; call SetReady(true) once initialization is complete.
func New(ttl time.Duration) *Service {
	return &Service{ttl: ttl}
}

// AddLivenessCheck registers a probe for /livez. Liveness failures signal the
// process itself is broken and should be restarted.
func (s *Service) AddLivenessCheck(name string, timeout time.Duration, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = append(s.live, &probe{name: name, timeout: timeout, check: check})
}

// AddReadinessCheck registers a probe for /readyz. Readiness failures signal
// the process should stop receiving traffic but keep running.
func (s *Service) AddReadinessCheck(name string, timeout time.Duration, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness = append(s.readiness, &probe{name: name, timeout: timeout, check: check})
}

// SetReady flips the manual readiness gate. Flip to false at the start of
// graceful shutdown to drain traffic before closing listeners.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// passes. Cached results are used within the TTL.
func (s *Service) IsReady() bool {
	if !s.ready.Load() {
		return false
	}
	s.mu.RLock()
	probes := s.readiness
	s.mu.RUnlock()

	for _, p := range probes {
		if p.status(context.Background(), s.ttl) != nil {
			return false
		}
	}
	return true
}

// LiveEndpoint handles /livez: 200 when all liveness probes pass, 503 with
// per-probe failure details otherwise.
func (s *Service) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	probes := s.live
	s.mu.RUnlock()

	writeStatus(w, s.evaluate(r.Context(), probes))
}

// ReadyEndpoint handles /readyz: 200 when the manual gate is open and all
// readiness probes pass, 503 with details otherwise.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	probes := s.readiness
	s.mu.RUnlock()

	failures := s.evaluate(r.Context(), probes)
	if !s.ready.Load() {
		failures["_gate"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func (s *Service) evaluate(ctx context.Context, probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if err := p.status(ctx, s.ttl); err != nil {
			failures[p.name] = err.Error()
		}
	}
	return failures
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
