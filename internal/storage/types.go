// Package storage implements the HDS secure storage engine: one encrypted
// container per entity, persisted through a byte-level Driver, with
// read-modify-write mutations serialized per entity.
//
// Two drivers exist (see subpackages fsstore and sqlitestore). Both are wrapped
// by the same Engine, so they share the record model, the container format
// and the backup format.
package storage

import (
	"context"
	"regexp"
	"time"
)

// BackendType tags the two interchangeable storage substrates.
type BackendType string

const (
	// BackendDirectFS stores one container file per entity in a user-granted directory.
	BackendDirectFS BackendType = "directfs"
	// BackendEmbeddedDB stores one container row per entity in a local SQLite file.
	BackendEmbeddedDB BackendType = "embeddeddb"
)

func (t BackendType) Valid() bool {
	return t == BackendDirectFS || t == BackendEmbeddedDB
}

// Strategy selects how imported records are combined with existing ones.
type Strategy string

const (
	// StrategyMerge upserts imported records by id and keeps the rest.
	StrategyMerge Strategy = "merge"
	// StrategyReplace discards existing records and keeps exactly the imported set.
	StrategyReplace Strategy = "replace"
)

// Meta is stored next to each container in clear. It never contains record data.
type Meta struct {
	RecordCount int       `json:"recordCount"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Blob is a container as read back from a driver.
type Blob struct {
	Data []byte
	Meta *Meta
	Size int64
}

// Driver persists opaque container bytes for named entities.
//
// Write must be atomic: after a failed Write the previous container and its
// Meta are still returned by Read. Read returns common.ErrorNotFound when no
// container exists for entity.
type Driver interface {
	Type() BackendType

	// Available is a capability probe. It must not block on user input and
	// must not panic.
	Available() bool

	// Open validates (or acquires) the capability handle and returns the
	// handle actually in use. Failures are *common.ConfigurationError.
	Open(ctx context.Context, handle string) (string, error)

	Handle() string
	Read(ctx context.Context, entity string) (*Blob, error)
	Write(ctx context.Context, entity string, data []byte, meta Meta) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// StorageInfo summarizes a backend without decrypting anything.
type StorageInfo struct {
	Type           BackendType    `json:"type"`
	Available      bool           `json:"available"`
	Configured     bool           `json:"configured"`
	Unlocked       bool           `json:"unlocked"`
	Handle         string         `json:"handle,omitempty"`
	PerEntityCount map[string]int `json:"perEntityCount"`
	TotalSizeBytes int64          `json:"totalSizeBytes"`
}

// Stats describes one entity container.
type Stats struct {
	Count        int       `json:"count"`
	SizeBytes    int64     `json:"sizeBytes"`
	LastModified time.Time `json:"lastModified"`
	IntegrityOK  bool      `json:"integrityOk"`
}

// IntegrityReport is the outcome of VerifyIntegrity.
type IntegrityReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ImportReport counts what an import changed in one entity.
type ImportReport struct {
	Added    int      `json:"added"`
	Updated  int      `json:"updated"`
	Total    int      `json:"total"`
	Warnings []string `json:"warnings,omitempty"`
}

var entityNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// ValidEntityName reports whether name is usable as an entity (and file) name.
func ValidEntityName(name string) bool {
	return entityNameRe.MatchString(name)
}
