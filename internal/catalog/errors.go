package catalog

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching across the typed errors below.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrMigration          = errors.New("migration failed")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	if e.Err == nil {
		return e.Backend + " backend unavailable"
	}
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

// MigrationError reports an aborted migration. BackupPath names the
// pre-migration snapshot of the file backend, which is left untouched.
type MigrationError struct {
	Stage      string
	BackupPath string
	Err        error
}

func (e *MigrationError) Error() string {
	msg := fmt.Sprintf("migration failed during %s: %v", e.Stage, e.Err)
	if e.BackupPath != "" {
		msg += fmt.Sprintf(" (restore point %s)", e.BackupPath)
	}
	return msg
}

func (e *MigrationError) Unwrap() error { return e.Err }

func (e *MigrationError) Is(target error) bool { return target == ErrMigration }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func NotFound(kind string, key any) error {
	return &NotFoundError{Kind: kind, Key: fmt.Sprint(key)}
}

func Unavailable(backend string, err error) error {
	return &BackendUnavailableError{Backend: backend, Err: err}
}
