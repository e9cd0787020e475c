// Package health manages liveness and readiness probes for the service.
// Checks run concurrently with a per-check timeout; a configurable failure
// threshold keeps a single slow round-trip from flapping the probe.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lewisedginton/memory_vault/pkg/logger"
)

// Check is a single health check.
type Check interface {
	// Name returns the human-readable name of this check
	Name() string

	// Check returns nil if healthy, error if unhealthy
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function into a Check.
type CheckFunc struct {
	name string
	fn   func(context.Context) error
}

// NewCheckFunc creates a CheckFunc with the given name and function.
func NewCheckFunc(name string, fn func(context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Name returns the name of this check.
func (c *CheckFunc) Name() string { return c.name }

// Check executes the check function.
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckResult is the outcome of one check execution.
type CheckResult struct {
	Name    string
	Healthy bool
	Error   string
	Latency time.Duration
}

// Status is the aggregated outcome of a probe.
type Status struct {
	Healthy bool
	Checks  []CheckResult
}

// Checker manages and executes liveness and readiness checks.
type Checker struct {
	livenessChecks   []Check
	readinessChecks  []Check
	timeout          time.Duration
	failureCount     map[string]int
	failureThreshold int
	logger           logger.Logger
	mu               sync.RWMutex
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout sets the per-check timeout. Default is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(h *Checker) {
		h.timeout = d
	}
}

// WithLogger sets the logger for check execution.
func WithLogger(l logger.Logger) Option {
	return func(h *Checker) {
		h.logger = l
	}
}

// WithFailureThreshold sets how many consecutive failures a check needs
// before it reports unhealthy. Default is 3.
func WithFailureThreshold(threshold int) Option {
	return func(h *Checker) {
		if threshold > 0 {
			h.failureThreshold = threshold
		}
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	h := &Checker{
		timeout:          5 * time.Second,
		failureThreshold: 3,
		failureCount:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted.
func (h *Checker) AddLivenessCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessChecks = append(h.livenessChecks, check)
}

// AddReadinessCheck registers a check that decides whether the service can
// take traffic.
func (h *Checker) AddReadinessCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, check)
}

// CheckLiveness executes all liveness checks.
func (h *Checker) CheckLiveness(ctx context.Context) (*Status, error) {
	h.mu.RLock()
	checks := h.livenessChecks
	h.mu.RUnlock()
	return h.executeChecks(ctx, checks)
}

// CheckReadiness executes all readiness checks.
func (h *Checker) CheckReadiness(ctx context.Context) (*Status, error) {
	h.mu.RLock()
	checks := h.readinessChecks
	h.mu.RUnlock()
	return h.executeChecks(ctx, checks)
}

func (h *Checker) executeChecks(ctx context.Context, checks []Check) (*Status, error) {
	if len(checks) == 0 {
		// No checks configured, assume healthy.
		return &Status{Healthy: true, Checks: []CheckResult{}}, nil
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(idx int, chk Check) {
			defer wg.Done()
			results[idx] = h.executeCheck(ctx, chk)
		}(i, check)
	}
	wg.Wait()

	status := &Status{Healthy: true, Checks: results}
	var failed []string
	for _, result := range results {
		if !result.Healthy {
			status.Healthy = false
			failed = append(failed, result.Name)
		}
	}
	if !status.Healthy {
		return status, fmt.Errorf("health checks failed: %v", failed)
	}
	return status, nil
}

func (h *Checker) executeCheck(parentCtx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(parentCtx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	result := CheckResult{Name: check.Name(), Latency: latency}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		h.failureCount[check.Name()] = 0
		result.Healthy = true
		return result
	}

	h.failureCount[check.Name()]++
	if h.failureCount[check.Name()] < h.failureThreshold {
		// Below the threshold the check still reports healthy.
		result.Healthy = true
		return result
	}

	result.Healthy = false
	result.Error = err.Error()
	if h.logger != nil {
		h.logger.Warn("Health check failed",
			logger.StringField("check", check.Name()),
			logger.ErrorField(err),
			logger.IntField("failures", h.failureCount[check.Name()]),
			logger.DurationField("latency", latency))
	}
	return result
}
