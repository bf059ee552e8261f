// Package common defines shared sentinel errors and small helpers used across
// the OsteoKeeper HDS storage layers. Callers should use errors.Is / errors.As
// to match these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Configuration and lifecycle errors.
	ErrConfiguration      = errors.New("configuration error")
	ErrNotConfigured      = errors.New("secure storage not configured")
	ErrLocked             = errors.New("secure storage locked")
	ErrNoBackendAvailable = errors.New("no storage backend available")

	// Data errors.
	ErrIntegrity     = errors.New("integrity error")
	ErrUnknownFormat = errors.New("unknown export format")

	// Policy errors.
	ErrSecurityPolicyViolation = errors.New("security policy violation")
)

// Reasons carried by ConfigurationError. They are fit for display.
const (
	ReasonUnsupported      = "unsupported platform"
	ReasonPermissionDenied = "permission denied"
	ReasonWrongPassword    = "wrong password"
	ReasonHandleMissing    = "storage location not found"
	ReasonInvalidArgument  = "invalid argument"
)

// ConfigurationError reports why a backend could not be configured or opened.
// It matches ErrConfiguration with errors.Is.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError is a shorthand for &ConfigurationError{Reason: reason, Err: err}.
func NewConfigurationError(reason string, err error) error {
	return &ConfigurationError{Reason: reason, Err: err}
}

// IntegrityError lists structural anomalies detected in one entity's data.
// It matches ErrIntegrity with errors.Is.
type IntegrityError struct {
	Entity   string
	Problems []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error in %q: %s", e.Entity, strings.Join(e.Problems, "; "))
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
