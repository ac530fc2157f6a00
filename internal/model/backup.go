package model

import "time"

// Backup is the metadata record for an instance backup: a database dump and
// a data-volume archive, stored as a file pair keyed by the backup name.
type Backup struct {
	ID               string     `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	InstanceID       string     `json:"instance_id" db:"instance_id"`
	DumpPath         string     `json:"dump_path" db:"dump_path"`
	ArchivePath      string     `json:"archive_path" db:"archive_path"`
	DumpSizeBytes    int64      `json:"dump_size_bytes" db:"dump_size_bytes"`
	ArchiveSizeBytes int64      `json:"archive_size_bytes" db:"archive_size_bytes"`
	Status           string     `json:"status" db:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}
