// # Error Codes Reference
//
// User-facing failures carry a code that can be quoted to support staff.
// Codes are grouped by category:
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Import cancelled
//	         Action: Start a new import when ready
//	         Matches: context.Canceled
//
//	REQ002 - Request timed out
//	         Action: Try a smaller file or raise IMPORT_TIMEOUT
//	         Matches: context.DeadlineExceeded
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File not found
//	          Action: Check the path and that the server can read it
//	          Matches: ErrFileNotFound
//
//	FILE002 - Binary file
//	          Action: Upload a delimited text file
//	          Matches: ErrBinaryFile
//
//	FILE003 - Could not read the file
//	          Action: Check file permissions and try again
//	          Matches: ErrSampleFailed
//
//	FILE004 - Could not detect the file layout
//	          Action: Set the delimiter and quote explicitly
//	          Matches: ErrSniffFailed
//
//	FILE005 - Empty file
//	          Action: Upload a file with at least one row
//	          Matches: ErrNoRows, "empty file"
//
//	FILE006 - File too large
//	          Action: Split the file or raise IMPORT_MAX_FILE_SIZE
//	          Patterns: "file too large"
//
//	FILE007 - No file
//	          Action: Attach a file or give a server-side path
//	          Patterns: "no file provided"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Table already exists
//	         Action: Choose another table name or drop the existing table
//	         Matches: ErrTargetExists
//
//	IMP002 - File could not be scanned
//	         Action: Check the file is complete and uses one delimiter
//	         Matches: ErrScanFailed
//
//	IMP003 - Table could not be created
//	         Action: Check schema permissions and column names
//	         Matches: ErrTableCreation
//
//	IMP004 - Bulk load failed
//	         Action: Retry in best-effort mode to skip malformed rows
//	         Matches: ErrLoadFailed
//
//	IMP005 - Every row was rejected
//	         Action: Review the rejects and the detected column types
//	         Matches: ErrAllRowsRejected
//
//	IMP006 - Too many imports in progress
//	         Action: Wait a moment and try again
//	         Matches: ErrTooManyImports
//
//	IMP007 - Import not found
//	         Action: The import may have expired; start a new one
//	         Matches: ErrImportNotFound
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Unable to connect to database
//	        Action: Please try again in a few moments
//	        Matches: ErrConnect, "connection refused"
//
//	DB002 - Database connection was interrupted
//	        Action: Please try again
//	        Patterns: "connection reset", "broken pipe"
//
//	DB003 - Database was busy with conflicting operations
//	        Action: Please try again
//	        Patterns: "deadlock", "concurrency conflict"
//
//	DB004 - Database operation timed out
//	        Action: Try a smaller file or try again later
//	        Patterns: "timeout"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - An unexpected error occurred
//	         Action: Please try again or contact support
//
// Sentinels are checked with errors.Is before any pattern, in the order
// listed in errorKinds. Patterns are matched case-insensitively with
// strings.Contains; the first match wins.

package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorKind struct {
	target error
	msg    UserMessage
}

// errorKinds is checked in order. Cancellation comes first so a cancelled
// scan is reported as cancelled, and ErrNoRows precedes ErrScanFailed.
var errorKinds = []errorKind{
	{context.Canceled, UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "REQ001",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or raise IMPORT_TIMEOUT",
		Code:    "REQ002",
	}},
	{ErrFileNotFound, UserMessage{
		Message: "File could not be found",
		Action:  "Check the path and that the server can read it",
		Code:    "FILE001",
	}},
	{ErrBinaryFile, UserMessage{
		Message: "File appears to be binary",
		Action:  "Upload a delimited text file",
		Code:    "FILE002",
	}},
	{ErrSampleFailed, UserMessage{
		Message: "Could not read the file",
		Action:  "Check file permissions and try again",
		Code:    "FILE003",
	}},
	{ErrSniffFailed, UserMessage{
		Message: "Could not detect the file layout",
		Action:  "Set the delimiter and quote explicitly",
		Code:    "FILE004",
	}},
	{ErrNoRows, UserMessage{
		Message: "The file is empty",
		Action:  "Upload a file with at least one row",
		Code:    "FILE005",
	}},
	{ErrTargetExists, UserMessage{
		Message: "Table already exists",
		Action:  "Choose another table name or drop the existing table",
		Code:    "IMP001",
	}},
	{ErrScanFailed, UserMessage{
		Message: "File could not be scanned",
		Action:  "Check the file is complete and uses one delimiter",
		Code:    "IMP002",
	}},
	{ErrTableCreation, UserMessage{
		Message: "Could not create database table",
		Action:  "Check schema permissions and column names",
		Code:    "IMP003",
	}},
	{ErrLoadFailed, UserMessage{
		Message: "Bulk load failed",
		Action:  "Retry in best-effort mode to skip malformed rows",
		Code:    "IMP004",
	}},
	{ErrAllRowsRejected, UserMessage{
		Message: "All of the rows in your file failed to import",
		Action:  "Review the rejects and the detected column types",
		Code:    "IMP005",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Wait a moment and try again",
		Code:    "IMP006",
	}},
	{ErrImportNotFound, UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired; start a new one",
		Code:    "IMP007",
	}},
	{ErrConnect, UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB001",
	}},
}

// errorPattern matches errors that reach us as text only, mostly driver
// errors and request validation in the web layer.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"file too large", UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file or raise IMPORT_MAX_FILE_SIZE",
		Code:    "FILE006",
	}},
	{"no file provided", UserMessage{
		Message: "No file was provided",
		Action:  "Attach a file or give a server-side path",
		Code:    "FILE007",
	}},
	{"empty file", UserMessage{
		Message: "The file is empty",
		Action:  "Upload a file with at least one row",
		Code:    "FILE005",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB001",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB002",
	}},
	{"broken pipe", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB002",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"concurrency conflict", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"timeout", UserMessage{
		Message: "Database operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB004",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check the logs for the technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	_, err := imp.Import(ctx, nil)
//	msg := MapError(err)
//	// errors.Is(err, ErrTargetExists) gives msg.Code == "IMP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with the message
// shown to users.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
