package core

import "github.com/matteo/erphost/internal/model"

// HealthOutcome is the registry state a pool should move to after one probe.
type HealthOutcome struct {
	Status       string
	HealthStatus string
	Failures     int
}

// NextHealth applies one probe result to a pool's health state machine.
//
// Success resets the failure counter, marks healthy, and self-heals
// initializing or error back to active. Failure increments the counter;
// below the threshold the pool is only degraded, at or above it the pool is
// unhealthy and, if currently active, demoted to error. The hysteresis keeps
// a single flaky probe from excluding a pool while guaranteeing unhealthy
// pools leave the allocation set.
func NextHealth(srv *model.DBServer, probeOK bool) HealthOutcome {
	if probeOK {
		status := srv.Status
		if status == model.ServerStatusInitializing || status == model.ServerStatusError {
			status = model.ServerStatusActive
		}
		return HealthOutcome{
			Status:       status,
			HealthStatus: model.HealthHealthy,
			Failures:     0,
		}
	}

	failures := srv.HealthCheckFailures + 1
	if failures >= model.UnhealthyThreshold {
		status := srv.Status
		if status == model.ServerStatusActive {
			status = model.ServerStatusError
		}
		return HealthOutcome{
			Status:       status,
			HealthStatus: model.HealthUnhealthy,
			Failures:     failures,
		}
	}

	return HealthOutcome{
		Status:       srv.Status,
		HealthStatus: model.HealthDegraded,
		Failures:     failures,
	}
}
