package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
)

// ErrShuttingDown is reported by probes once shutdown started.
var ErrShuttingDown = errors.New("shutting down")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// ComponentChecker runs the dependency checks behind readiness.
type ComponentChecker interface {
	Check(ctx context.Context) map[string]string
}

// Probes implements HealthChecker over a component checker.
type Probes struct {
	log      *slog.Logger
	checker  ComponentChecker
	stopping atomic.Bool
}

// NewProbes creates a new Probes instance. checker may be nil.
func NewProbes(checker ComponentChecker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{log: log, checker: checker}
}

// MarkShuttingDown makes readiness fail from now on.
func (p *Probes) MarkShuttingDown() {
	p.stopping.Store(true)
}

// Liveness succeeds while the process serves requests.
func (p *Probes) Liveness(context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness fails during shutdown or when any component check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	if p.stopping.Load() {
		return ErrShuttingDown
	}
	if p.checker == nil {
		return nil
	}

	var failing []string
	for name, status := range p.checker.Check(ctx) {
		if status != "OK" {
			failing = append(failing, fmt.Sprintf("%s: %s", name, status))
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		return errors.New(strings.Join(failing, "; "))
	}
	return nil
}

// ProbeHandler serves a probe as an HTTP endpoint.
func ProbeHandler(probe func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := probe(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
