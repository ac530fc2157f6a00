package core

import (
	"context"
	"fmt"
)

// Stats holds aggregate counts from the core database.
type Stats struct {
	DBServers          int             `json:"db_servers"`
	DBServersActive    int             `json:"db_servers_active"`
	DBServersFull      int             `json:"db_servers_full"`
	DBServersUnhealthy int             `json:"db_servers_unhealthy"`
	Instances          int             `json:"instances"`
	InstancesRunning   int             `json:"instances_running"`
	InstancesError     int             `json:"instances_error"`
	BackupsCompleted   int             `json:"backups_completed"`
	ServersByStatus    []StatusCount   `json:"servers_by_status"`
	InstancesByStatus  []StatusCount   `json:"instances_by_status"`
	PoolUtilization    []PoolCapacity  `json:"pool_utilization"`
}

// StatusCount holds a count grouped by status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// PoolCapacity holds per-pool slot usage.
type PoolCapacity struct {
	ServerID     string `json:"server_id"`
	ServerName   string `json:"server_name"`
	MaxInstances int    `json:"max_instances"`
	Current      int    `json:"current_instances"`
}

// StatsService queries aggregate stats from the core DB.
type StatsService struct {
	db DB
}

// NewStatsService creates a new StatsService.
func NewStatsService(db DB) *StatsService {
	return &StatsService{db: db}
}

// Stats returns aggregate counts using a single query with CTEs for
// efficiency, plus grouped breakdowns.
func (s *StatsService) Stats(ctx context.Context) (*Stats, error) {
	const countsQuery = `
		WITH server_count AS (
			SELECT count(*) AS c FROM db_servers
		), server_active AS (
			SELECT count(*) AS c FROM db_servers WHERE status = 'active'
		), server_full AS (
			SELECT count(*) AS c FROM db_servers WHERE status = 'full'
		), server_unhealthy AS (
			SELECT count(*) AS c FROM db_servers WHERE health_status = 'unhealthy'
		), instance_count AS (
			SELECT count(*) AS c FROM instances WHERE status != 'terminated'
		), instance_running AS (
			SELECT count(*) AS c FROM instances WHERE status = 'running'
		), instance_error AS (
			SELECT count(*) AS c FROM instances WHERE status = 'error'
		), backup_completed AS (
			SELECT count(*) AS c FROM backups WHERE status = 'completed'
		)
		SELECT
			(SELECT c FROM server_count),
			(SELECT c FROM server_active),
			(SELECT c FROM server_full),
			(SELECT c FROM server_unhealthy),
			(SELECT c FROM instance_count),
			(SELECT c FROM instance_running),
			(SELECT c FROM instance_error),
			(SELECT c FROM backup_completed)`

	stats := &Stats{}
	err := s.db.QueryRow(ctx, countsQuery).Scan(
		&stats.DBServers,
		&stats.DBServersActive,
		&stats.DBServersFull,
		&stats.DBServersUnhealthy,
		&stats.Instances,
		&stats.InstancesRunning,
		&stats.InstancesError,
		&stats.BackupsCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("stats counts: %w", err)
	}

	sbsRows, err := s.db.Query(ctx,
		`SELECT status, count(*) FROM db_servers GROUP BY status ORDER BY count(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("stats servers by status: %w", err)
	}
	defer sbsRows.Close()

	for sbsRows.Next() {
		var sc StatusCount
		if err := sbsRows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ServersByStatus = append(stats.ServersByStatus, sc)
	}
	if err := sbsRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	ibsRows, err := s.db.Query(ctx,
		`SELECT status, count(*) FROM instances GROUP BY status ORDER BY count(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("stats instances by status: %w", err)
	}
	defer ibsRows.Close()

	for ibsRows.Next() {
		var sc StatusCount
		if err := ibsRows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.InstancesByStatus = append(stats.InstancesByStatus, sc)
	}
	if err := ibsRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	utilRows, err := s.db.Query(ctx,
		`SELECT id, name, max_instances, current_instances
		 FROM db_servers WHERE server_type = 'shared'
		 ORDER BY current_instances DESC`)
	if err != nil {
		return nil, fmt.Errorf("stats pool utilization: %w", err)
	}
	defer utilRows.Close()

	for utilRows.Next() {
		var pc PoolCapacity
		if err := utilRows.Scan(&pc.ServerID, &pc.ServerName, &pc.MaxInstances, &pc.Current); err != nil {
			return nil, fmt.Errorf("scan pool capacity: %w", err)
		}
		stats.PoolUtilization = append(stats.PoolUtilization, pc)
	}
	if err := utilRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool capacities: %w", err)
	}

	return stats, nil
}
