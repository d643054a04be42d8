package types

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports input that violates a shape or limit constraint.
// It is always returned before any side effect.
type ValidationError struct {
	Field   string
	Message string
	// Fields holds every violation when several were found at once.
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 1 {
		parts := make([]string, 0, len(e.Fields))
		for f, m := range e.Fields {
			parts = append(parts, f+": "+m)
		}
		sort.Strings(parts)
		return "validation failed: " + strings.Join(parts, "; ")
	}
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a single-field ValidationError.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	msg := fmt.Sprintf(format, args...)
	return &ValidationError{Field: field, Message: msg, Fields: map[string]string{field: msg}}
}

// NotFoundError reports that a referenced id does not exist.
type NotFoundError struct {
	Kind string // "memory", "entity", "project", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NewNotFound builds a NotFoundError for a numeric id.
func NewNotFound(kind string, id int64) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprintf("%d", id)}
}

// ProviderErrorKind classifies embedding and rerank failures.
type ProviderErrorKind string

// Provider error kinds
const (
	ProviderRateLimited    ProviderErrorKind = "rate_limited"
	ProviderAuth           ProviderErrorKind = "auth"
	ProviderNetwork        ProviderErrorKind = "network"
	ProviderInvalidRequest ProviderErrorKind = "invalid_request"
)

// ProviderError reports a failed call to an embedding or rerank backend.
type ProviderError struct {
	Kind     ProviderErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same idempotent call may succeed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderRateLimited || e.Kind == ProviderNetwork
}

// StoreError reports a persistence failure. Operations that fail with a
// StoreError have not been partially committed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// MigrationPhase names one of the five re-embedding phases.
type MigrationPhase string

// Migration phases in execution order.
const (
	PhaseValidateConfig MigrationPhase = "validate_config"
	PhaseBackup         MigrationPhase = "backup"
	PhaseResize         MigrationPhase = "resize"
	PhaseReEmbed        MigrationPhase = "re_embed"
	PhaseValidate       MigrationPhase = "validate"
)

// MigrationFailure aggregates an error raised during the re-embedding
// pipeline together with the phase that failed and the restore outcome.
type MigrationFailure struct {
	Phase      MigrationPhase
	Err        error
	Restored   bool
	BackupPath string
	RestoreErr error
}

func (e *MigrationFailure) Error() string {
	msg := fmt.Sprintf("migration failed in phase %s: %v", e.Phase, e.Err)
	switch {
	case e.Restored:
		msg += " (restored from " + e.BackupPath + ")"
	case e.RestoreErr != nil:
		msg += fmt.Sprintf(" (restore failed: %v)", e.RestoreErr)
	}
	return msg
}

func (e *MigrationFailure) Unwrap() error { return e.Err }
