// Package pooldb issues admin SQL against tenant database servers: creating
// tenant databases and owning roles during allocation, recreating roles
// during migration, and short-timeout connectivity probes for the health
// monitor. The control plane's own registry lives elsewhere (internal/db).
package pooldb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ProbeTimeout bounds health-probe connection attempts.
const ProbeTimeout = 5 * time.Second

// AdminConn identifies and authenticates an admin connection to one pool.
type AdminConn struct {
	Host     string
	Port     int
	User     string
	Password string
}

func (a AdminConn) url(database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", a.User, a.Password, a.Host, a.Port, database)
}

// Client performs admin operations against tenant pools. Methods open a
// short-lived connection per call; pools are many and operations rare, so
// holding connection pools per server is not worth it.
type Client struct{}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) connect(ctx context.Context, admin AdminConn, database string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, admin.url(database))
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d: %w", admin.Host, admin.Port, err)
	}
	return conn, nil
}

// Ping attempts a short-timeout connect+ping. Used by the health monitor.
func (c *Client) Ping(ctx context.Context, admin AdminConn) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	conn, err := c.connect(ctx, admin, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	return conn.Ping(ctx)
}

// CreateTenantDatabase creates a role and a database owned by it, and grants
// the role default privileges on future objects in its database. All three
// statements are safe to re-issue: duplicates are detected and tolerated so
// that an interrupted allocation can be retried.
func (c *Client) CreateTenantDatabase(ctx context.Context, admin AdminConn, dbName, roleName, rolePassword string) error {
	conn, err := c.connect(ctx, admin, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if err := createRole(ctx, conn, roleName, rolePassword); err != nil {
		return err
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %s OWNER %s`,
		pgx.Identifier{dbName}.Sanitize(), pgx.Identifier{roleName}.Sanitize()))
	if err != nil {
		if !isDuplicate(err) {
			return fmt.Errorf("create database %s: %w", dbName, err)
		}
	}

	// Default privileges must be set from within the target database.
	dbConn, err := c.connect(ctx, admin, dbName)
	if err != nil {
		return err
	}
	defer dbConn.Close(ctx)

	_, err = dbConn.Exec(ctx, fmt.Sprintf(
		`ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON TABLES TO %s`,
		pgx.Identifier{roleName}.Sanitize()))
	if err != nil {
		return fmt.Errorf("set default privileges for %s: %w", roleName, err)
	}

	return nil
}

// RecreateRole creates (or re-points) a role with the given password. Used
// during migration to carry the instance's existing credential onto the new
// server without regenerating it.
func (c *Client) RecreateRole(ctx context.Context, admin AdminConn, roleName, password string) error {
	conn, err := c.connect(ctx, admin, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	return createRole(ctx, conn, roleName, password)
}

// DropTenantDatabase removes a tenant database and its owning role. Used to
// undo DDL when the capacity reservation is lost to a concurrent allocation.
func (c *Client) DropTenantDatabase(ctx context.Context, admin AdminConn, dbName, roleName string) error {
	conn, err := c.connect(ctx, admin, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, pgx.Identifier{dbName}.Sanitize())); err != nil {
		return fmt.Errorf("drop database %s: %w", dbName, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(`DROP ROLE IF EXISTS %s`, pgx.Identifier{roleName}.Sanitize())); err != nil {
		return fmt.Errorf("drop role %s: %w", roleName, err)
	}
	return nil
}

func createRole(ctx context.Context, conn *pgx.Conn, roleName, password string) error {
	quoted, err := quoteLiteral(password)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, fmt.Sprintf(`CREATE ROLE %s LOGIN PASSWORD %s`,
		pgx.Identifier{roleName}.Sanitize(), quoted))
	if err != nil {
		if isDuplicate(err) {
			_, err = conn.Exec(ctx, fmt.Sprintf(`ALTER ROLE %s LOGIN PASSWORD %s`,
				pgx.Identifier{roleName}.Sanitize(), quoted))
			if err != nil {
				return fmt.Errorf("alter role %s: %w", roleName, err)
			}
			return nil
		}
		return fmt.Errorf("create role %s: %w", roleName, err)
	}
	return nil
}
