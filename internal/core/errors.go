package core

import (
	"errors"
	"fmt"
)

// Precondition failures. Raised before any database work.
var (
	ErrFileNotFound = errors.New("file could not be found")
	ErrBinaryFile   = errors.New("file appears to be binary")
	ErrSampleFailed = errors.New("could not sample file")
	ErrSniffFailed  = errors.New("failed to sniff file")
)

// Import failures. Each is carried as the Kind of an *ImportError.
var (
	ErrTargetExists    = errors.New("table already exists")
	ErrScanFailed      = errors.New("scan failed")
	ErrNoRows          = errors.New("file contains no rows")
	ErrTableCreation   = errors.New("could not create database table")
	ErrLoadFailed      = errors.New("bulk load failed")
	ErrAllRowsRejected = errors.New("all of the rows in your file failed to import")
	ErrConnect         = errors.New("could not connect to database")
)

// Service failures.
var (
	ErrImportNotFound = errors.New("import not found")
	ErrImportRunning  = errors.New("import still running")
)

// ImportError is the single terminal failure of an import run.
// errors.Is matches both Kind and the underlying cause.
type ImportError struct {
	Phase Phase  // state the machine was in when it failed
	Table string // quoted target identifier
	Kind  error  // one of the Err* sentinels above
	Err   error  // underlying cause, may be nil

	// RolledBack is true when the target table was dropped before returning.
	RolledBack bool
}

func (e *ImportError) Error() string {
	msg := "import failed: " + e.Kind.Error()
	if e.Table != "" {
		msg += " (" + e.Table + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ImportError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newImportError(phase Phase, table string, kind, cause error) *ImportError {
	return &ImportError{Phase: phase, Table: table, Kind: kind, Err: cause}
}

// PhaseOf returns the phase an import failed in, or "" for other errors.
func PhaseOf(err error) Phase {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Phase
	}
	return ""
}

func fileError(kind error, path string) error {
	return fmt.Errorf("%w: '%s'", kind, path)
}
