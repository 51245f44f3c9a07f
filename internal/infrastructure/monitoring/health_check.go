package monitoring

import (
	"context"
	"sync"
	"time"
)

// HealthChecker runs named dependency probes (redis, postgres, gateway) on
// their own intervals and serves the last known result.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	results map[string]string
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		results: make(map[string]string),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
	h.results[name] = "unknown"
}

// Status reports the aggregate of the most recent probe results.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.results)),
	}
	for name, result := range h.results {
		status.Checks[name] = result
		if result != "healthy" && result != "unknown" {
			status.Status = "unhealthy"
		}
	}
	return status
}

// CheckAll probes every dependency immediately and returns the outcome.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	for _, check := range checks {
		h.runCheck(ctx, check)
	}
	return h.Status()
}

func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	for _, check := range checks {
		go h.runCheckPeriodically(ctx, check)
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.runCheck(ctx, check)
		}
	}
}

func (h *HealthChecker) runCheck(ctx context.Context, check HealthCheck) {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	err := check.Check(checkCtx)
	cancel()

	result := "healthy"
	if err != nil {
		result = err.Error()
	}

	h.mu.Lock()
	h.results[check.Name] = result
	h.mu.Unlock()
}
