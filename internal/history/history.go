// Package history persists execution records using GORM.
// All GORM usage is confined to this package — domain types remain ORM-free.
// SQLite (pure Go, no CGO) is the default backend; PostgreSQL is available
// for shared deployments.
package history

import (
	"context"
	"time"
)

// Driver names for Store.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Record is one persisted execution outcome.
type Record struct {
	ID         string
	Backend    string
	Command    []string
	WorkingDir string
	Status     string
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	Reason     string
	Error      string
	Artifacts  []ArtifactRecord
	CreatedAt  time.Time
}

// ArtifactRecord describes one collected artifact within a Record.
type ArtifactRecord struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	Backend string
	Status  string
	Since   time.Time
	Limit   int // Default: 100.
}

// Store is the persistence interface for execution records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, f Filter) ([]*Record, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
	Driver() string
}
