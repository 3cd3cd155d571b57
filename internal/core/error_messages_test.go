package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "target exists import error",
			err:         newImportError(PhaseCheckExists, `"sys"."t"`, ErrTargetExists, nil),
			wantCode:    "IMP001",
			wantMessage: "Table already exists",
		},
		{
			name:        "empty file wins over scan failure",
			err:         newImportError(PhaseScanning, `"sys"."t"`, ErrScanFailed, ErrNoRows),
			wantCode:    "FILE005",
			wantMessage: "The file is empty",
		},
		{
			name:        "cancelled scan is reported as cancelled",
			err:         newImportError(PhaseScanning, `"sys"."t"`, ErrScanFailed, context.Canceled),
			wantCode:    "REQ001",
			wantMessage: "Import was cancelled",
		},
		{
			name:        "all rows rejected",
			err:         newImportError(PhaseVerifying, `"sys"."t"`, ErrAllRowsRejected, nil),
			wantCode:    "IMP005",
			wantMessage: "All of the rows in your file failed to import",
		},
		{
			name:        "wrapped file not found",
			err:         fmt.Errorf("preflight: %w", fileError(ErrFileNotFound, "/tmp/x.csv")),
			wantCode:    "FILE001",
			wantMessage: "File could not be found",
		},
		{
			name:        "limiter saturation",
			err:         ErrTooManyImports,
			wantCode:    "IMP006",
			wantMessage: "System is busy processing other imports",
		},
		{
			name:        "connection refused pattern",
			err:         errors.New("dial tcp 127.0.0.1:50000: connection refused"),
			wantCode:    "DB001",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "timeout pattern",
			err:         errors.New("read: i/o timeout"),
			wantCode:    "DB004",
			wantMessage: "Database operation timed out",
		},
		{
			name:        "rate limit pattern",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DEADLOCK detected"),
			wantCode:    "DB003",
			wantMessage: "Database was busy with conflicting operations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := newImportError(PhaseCreatingTable, `"sys"."t"`, ErrTableCreation, errors.New("syntax error"))
	result := FormatUserError(err)

	expected := "Could not create database table (Code: IMP003). Check schema permissions and column names"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known sentinel is user facing",
			err:  ErrLoadFailed,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := newImportError(PhaseBulkLoading, `"sys"."t"`, ErrLoadFailed, errors.New("COPY failed"))
		userErr := NewUserError(techErr)

		if userErr.Error() != "Bulk load failed" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrLoadFailed) {
			t.Error("Unwrap() should reach the original error")
		}
	})
}
