package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds participant display names and creator ids.
const MaxNameLength = 100

// MaxCodeBytes bounds the size of a session's code buffer.
const MaxCodeBytes = 1 << 20

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

func (fe *FieldError) Error() string {
	return fe.Field + ": " + fe.Message
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateName checks a participant display name.
func ValidateName(field, name string) *FieldError {
	name = strings.TrimSpace(name)
	if name == "" {
		return &FieldError{Field: field, Message: "is required"}
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return &FieldError{Field: field, Message: fmt.Sprintf("must be %d characters or fewer", MaxNameLength)}
	}
	return nil
}

// ValidateCode checks a code buffer.
func ValidateCode(code string) *FieldError {
	if len(code) > MaxCodeBytes {
		return &FieldError{Field: "code", Message: fmt.Sprintf("must be %d bytes or fewer, got %d", MaxCodeBytes, len(code))}
	}
	return nil
}

// ValidateNewSession checks the inputs of a create-session request.
// It returns a *ValidationError if any rules fail, or nil if they are valid.
func ValidateNewSession(creatorID, code string) error {
	var ve ValidationError
	if fe := ValidateName("creator_id", creatorID); fe != nil {
		ve.Errors = append(ve.Errors, *fe)
	}
	if fe := ValidateCode(code); fe != nil {
		ve.Errors = append(ve.Errors, *fe)
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
