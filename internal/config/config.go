package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	ServiceName     string
	CoreDatabaseURL string
	TemporalAddress string
	HTTPListenAddr  string
	MetricsAddr     string
	LogLevel        string

	// Temporal mTLS. Empty cert/key means plaintext.
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	// Container platform (Docker API) endpoint running tenant deployments
	// and managed database clusters.
	OrchestratorHost string
	// PlatformNetwork is the container network deployments and clusters
	// attach to.
	PlatformNetwork string
	// SecretDir is where the platform secret store materializes secrets.
	SecretDir string
	// ConfigDir holds per-deployment application config files, one
	// subdirectory per deployment, mounted into the app containers.
	ConfigDir string
	// BackupDir is the host directory backup jobs write dumps and archives
	// into, mounted into the job containers.
	BackupDir string

	// Base hostname for instance external URLs.
	BaseHostname string

	// DefaultPoolCapacity is max_instances for newly provisioned shared pools.
	DefaultPoolCapacity int

	// NotifyURL receives fire-and-forget templated notifications. Empty
	// disables dispatch.
	NotifyURL string

	// Optional off-host backup storage.
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// AdminAPIKeyHash is the bcrypt hash admin requests must match.
	AdminAPIKeyHash string

	BackupRetentionDays int
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:           getEnv("SERVICE_NAME", ""),
		CoreDatabaseURL:       getEnv("CORE_DATABASE_URL", ""),
		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		HTTPListenAddr:        getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:           getEnv("METRICS_ADDR", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),
		OrchestratorHost:      getEnv("ORCHESTRATOR_HOST", "unix:///var/run/docker.sock"),
		PlatformNetwork:       getEnv("PLATFORM_NETWORK", "erphost"),
		SecretDir:             getEnv("SECRET_DIR", "/var/run/erphost/secrets"),
		ConfigDir:             getEnv("CONFIG_DIR", "/var/lib/erphost/config"),
		BackupDir:             getEnv("BACKUP_DIR", "/var/lib/erphost/backups"),
		BaseHostname:          getEnv("BASE_HOSTNAME", "erp.localhost"),
		DefaultPoolCapacity:   getEnvInt("DEFAULT_POOL_CAPACITY", 50),
		NotifyURL:             getEnv("NOTIFY_URL", ""),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		S3Region:              getEnv("S3_REGION", "us-east-1"),
		S3Bucket:              getEnv("S3_BUCKET", ""),
		S3AccessKeyID:         getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
		AdminAPIKeyHash:       getEnv("ADMIN_API_KEY_HASH", ""),
		BackupRetentionDays:   getEnvInt("BACKUP_RETENTION_DAYS", 30),
	}

	return cfg, nil
}

// Validate checks the fields required for the given role ("core-api" or
// "worker").
func (c *Config) Validate(role string) error {
	if c.CoreDatabaseURL == "" {
		return fmt.Errorf("CORE_DATABASE_URL is required")
	}
	if c.TemporalAddress == "" {
		return fmt.Errorf("TEMPORAL_ADDRESS is required")
	}
	switch role {
	case "core-api":
		if c.HTTPListenAddr == "" {
			return fmt.Errorf("HTTP_LISTEN_ADDR is required")
		}
	case "worker":
		if c.OrchestratorHost == "" {
			return fmt.Errorf("ORCHESTRATOR_HOST is required")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
