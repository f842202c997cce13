package importer

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable
// guidance. The code is what users quote when they ask for help.
type UserMessage struct {
	Message string // what happened
	Action  string // what to do about it
	Code    string // reference code for support
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive contains)
// to user messages. The first matching pattern wins, so specific
// patterns come before general ones.
//
// Codes by category:
//
//	DB001-DB005   database constraints and connectivity
//	FILE001-FILE004  tape files and parsing
//	MAP001-MAP003 column mapping and the semantic mapper
//	PAR001-PAR002 seller and trade references
//	RUN001-RUN003 cancellation and timeouts
//	RATE001       request throttling
//	ERR000        fallback for anything unmatched
var errorPatterns = []errorPattern{
	// Database constraints.
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A loan with this number already exists in the trade",
			Action:  "Re-run with --update-existing to overwrite, or leave the default to skip",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A loan with this number already exists in the trade",
			Action:  "Re-run with --update-existing to overwrite, or leave the default to skip",
			Code:    "DB001",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "A referenced record does not exist",
			Action:  "Check that the seller and trade still exist and try again",
			Code:    "DB002",
		},
	},

	// Database connectivity.
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Check DATABASE_URL and that Postgres is running",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Re-run the import; committed batches are skipped automatically",
			Code:    "DB004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "The database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},

	// Tape files.
	{
		pattern: "unsupported tape format",
		msg: UserMessage{
			Message: "The file is not a readable tape format",
			Action:  "Provide a .csv or .xlsx file",
			Code:    "FILE001",
		},
	},
	{
		pattern: "sheet",
		msg: UserMessage{
			Message: "The requested worksheet was not found",
			Action:  "Check --sheet against the workbook's sheet names",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The tape has no data rows after the header",
			Action:  "Check that the file or sheet actually contains loans",
			Code:    "FILE003",
		},
	},
	{
		pattern: "mb limit",
		msg: UserMessage{
			Message: "The tape exceeds the file size limit",
			Action:  "Split the tape into smaller files",
			Code:    "FILE004",
		},
	},

	// Column mapping.
	{
		pattern: "no loan number column",
		msg: UserMessage{
			Message: "No column could be matched to the loan number",
			Action:  "Save a mapping config with --save-mapping, add loan_number, and re-run with --mapping",
			Code:    "MAP001",
		},
	},
	{
		pattern: "invalid column mapping",
		msg: UserMessage{
			Message: "The column mapping references fields or columns that do not exist",
			Action:  "Fix the mapping config to use tape columns and known field names",
			Code:    "MAP002",
		},
	},
	{
		pattern: "api key required",
		msg: UserMessage{
			Message: "Semantic mapping needs an Anthropic API key",
			Action:  "Set ANTHROPIC_API_KEY or pass --no-semantic",
			Code:    "MAP003",
		},
	},

	// Seller and trade references.
	{
		pattern: "no seller with",
		msg: UserMessage{
			Message: "The given seller ID does not exist",
			Action:  "Check the ID, or pass --seller with a name to resolve or create one",
			Code:    "PAR001",
		},
	},
	{
		pattern: "no trade with",
		msg: UserMessage{
			Message: "The given trade ID does not exist",
			Action:  "Check the ID, or drop --trade-id to resolve the trade by file name",
			Code:    "PAR002",
		},
	},

	// Cancellation and timeouts.
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The run was cancelled",
			Action:  "Re-run the import; committed batches are skipped automatically",
			Code:    "RUN001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The run timed out",
			Action:  "Try a smaller batch size or check your connection",
			Code:    "RUN002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "An operation timed out",
			Action:  "Please try again",
			Code:    "RUN003",
		},
	},

	// Throttling.
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "The semantic mapping service is throttling requests",
			Action:  "Wait a moment and re-run, or pass --no-semantic",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches. Check the logs
// for the original technical error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. It
// returns the first matching pattern, or the ERR000 fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display, in the
// form "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether the error matched a known pattern rather
// than the generic fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
