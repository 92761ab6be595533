package domain

import "time"

const (
	// HealthStatusOK indicates every dependency answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency failed but the process keeps serving.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency timed out or was cancelled.
	HealthStatusError = "error"
)

// DependencyStatus is the outcome of a single readiness probe.
type DependencyStatus struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport aggregates dependency probes for /readyz.
type ReadinessReport struct {
	Status      string
	Checks      map[string]DependencyStatus
	Version     string
	Uptime      time.Duration
	GeneratedAt time.Time
}
