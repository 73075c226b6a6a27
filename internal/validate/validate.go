// Package validate normalizes and validates the single fields collected by the
// conversation: required text, email addresses, phone numbers and free text.
//
// Every function is pure and never panics. Failures are returned as
// *ValidationError values whose Message is safe to show to the end user.
package validate

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Skip is the marker a user types to leave an optional field empty.
const Skip = "-"

var (
	// ErrEmpty is returned when a required field is empty or whitespace only.
	ErrEmpty = errors.New("validate: empty value")
	// ErrInvalidEmail is returned when an email address is rejected.
	ErrInvalidEmail = errors.New("validate: invalid email")
)

// ValidationError carries a user-facing message and the sentinel it wraps.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Required trims value and fails with ErrEmpty when nothing is left. label is
// the human name of the field used in the message.
func Required(value, label string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", &ValidationError{
			Field:   label,
			Message: "Le champ '" + label + "' est obligatoire.",
			Err:     ErrEmpty,
		}
	}
	return v, nil
}

// RequiredText is Required followed by SanitizeText. The skip marker does not
// count as a value for a required field.
func RequiredText(value, label string, maxLen int) (string, error) {
	v, err := Required(value, label)
	if err != nil {
		return "", err
	}
	v, ok := SanitizeText(v, maxLen)
	if !ok {
		return Required("", label)
	}
	return v, nil
}

// isSkipped reports whether raw means "no value".
func isSkipped(raw string) bool {
	v := strings.TrimSpace(raw)
	return v == "" || v == Skip
}

// SanitizeText trims raw and truncates it to maxLen runes (no limit when
// maxLen <= 0), trimming trailing whitespace left by the cut. The second
// return value is false when the result carries no value: empty input, the
// Skip marker, or nothing left after truncation.
func SanitizeText(raw string, maxLen int) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" || v == Skip {
		return "", false
	}
	if maxLen > 0 && utf8.RuneCountInString(v) > maxLen {
		v = strings.TrimRight(string([]rune(v)[:maxLen]), " \t\r\n")
	}
	if v == "" || v == Skip {
		return "", false
	}
	return v, true
}
