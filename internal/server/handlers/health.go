package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	fulerrors "github.com/fulmenhq/gofulmen/errors"
)

// Check states reported per component and in aggregate.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusStarting  = "starting"
)

// Probe names a health endpoint. Each probe has its own deadline.
type Probe string

const (
	ProbeAggregate Probe = "aggregate"
	ProbeLive      Probe = "live"
	ProbeReady     Probe = "ready"
	ProbeStartup   Probe = "startup"
)

var probeTimeouts = map[Probe]time.Duration{
	ProbeAggregate: 5 * time.Second,
	ProbeLive:      2 * time.Second,
	ProbeReady:     5 * time.Second,
	ProbeStartup:   3 * time.Second,
}

// HealthResponse is the body of a passing probe.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Probe     Probe                  `json:"probe"`
	Version   string                 `json:"version,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one registered checker.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckFunc adapts a plain function to HealthChecker.
type CheckFunc func(ctx context.Context) error

// CheckHealth calls f.
func (f CheckFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

type degradedError struct{ err error }

func (d degradedError) Error() string { return d.err.Error() }
func (d degradedError) Unwrap() error { return d.err }

// Degraded marks a checker error as non-fatal: the component works with
// reduced capability and the probe still passes.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return degradedError{err: err}
}

// HealthManager runs the registered checkers for each probe.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
	created  time.Time
	started  atomic.Bool
}

// NewHealthManager returns a manager with no checkers. The startup probe
// fails until MarkStarted is called.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
		created:  time.Now(),
	}
}

// RegisterChecker adds or replaces a named checker. nil is ignored.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	if checker == nil {
		return
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// MarkStarted flips the startup probe to passing.
func (hm *HealthManager) MarkStarted() {
	hm.started.Store(true)
}

// Check runs every checker concurrently under ctx.
func (hm *HealthManager) Check(ctx context.Context) map[string]CheckResult {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]HealthChecker, len(names))
	for i, name := range names {
		checkers[i] = hm.checkers[name]
	}
	hm.mu.RUnlock()

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i := range checkers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runCheck(ctx, checkers[i])
		}(i)
	}
	wg.Wait()

	out := make(map[string]CheckResult, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}

func runCheck(ctx context.Context, checker HealthChecker) CheckResult {
	start := time.Now()
	err := checker.CheckHealth(ctx)
	result := CheckResult{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}

	var degraded degradedError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		result.Status = StatusTimeout
		result.Error = ctx.Err().Error()
	case errors.As(err, &degraded):
		result.Status = StatusDegraded
		result.Error = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// overallStatus folds per-check results: any unhealthy check fails the
// probe, a timeout or degraded check degrades it.
func overallStatus(checks map[string]CheckResult) string {
	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			status = StatusDegraded
		}
	}
	return status
}

// Handler serves the given probe. Liveness never runs checkers: a process
// that can answer is alive.
func (hm *HealthManager) Handler(probe Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		response := HealthResponse{
			Status:    StatusHealthy,
			Probe:     probe,
			Timestamp: now.UTC().Format(time.RFC3339),
		}

		switch probe {
		case ProbeLive:
			writeJSON(w, http.StatusOK, response)
			return
		case ProbeStartup:
			if !hm.started.Load() {
				respondWithError(w, r, healthEnvelope(probe, StatusStarting, nil))
				return
			}
		case ProbeAggregate:
			response.Version = hm.version
			response.Uptime = now.Sub(hm.created).Truncate(time.Second).String()
		}

		ctx, cancel := context.WithTimeout(r.Context(), probeTimeouts[probe])
		defer cancel()

		response.Checks = hm.Check(ctx)
		response.Status = overallStatus(response.Checks)
		if response.Status == StatusUnhealthy {
			respondWithError(w, r, healthEnvelope(probe, response.Status, response.Checks))
			return
		}
		writeJSON(w, http.StatusOK, response)
	}
}

func healthEnvelope(probe Probe, status string, checks map[string]CheckResult) *fulerrors.ErrorEnvelope {
	envelope := fulerrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", string(probe)+" probe failed")

	details := map[string]interface{}{"probe": string(probe), "status": status}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	envelope = envelope.WithDetails(details)

	var failing []string
	for name, check := range checks {
		if check.Status != StatusHealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	contextData := map[string]interface{}{"probe": string(probe), "status": status}
	if len(failing) > 0 {
		contextData["failing_checks"] = failing
	}
	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager atomic.Pointer[HealthManager]

// InitHealthManager installs a fresh process-wide manager.
func InitHealthManager(version string) *HealthManager {
	hm := NewHealthManager(version)
	globalHealthManager.Store(hm)
	return hm
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	return globalHealthManager.Load()
}

// ProbeHandler serves probe through the process-wide manager.
func ProbeHandler(probe Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hm := GetHealthManager()
		if hm == nil {
			respondWithError(w, r, healthEnvelope(probe, "unknown", nil))
			return
		}
		hm.Handler(probe)(w, r)
	}
}
