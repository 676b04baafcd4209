package api

import (
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
)

// maxAddressLen bounds dial strings and remote numbers.
const maxAddressLen = 128

// maxValueLen bounds setting values.
const maxValueLen = 1000

// validateStringLen checks that value is at most maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that value is set and at most maxLen
// characters.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	for _, r := range value {
		if r < 32 || r == 127 {
			return field + " contains invalid characters"
		}
	}
	return ""
}

// firstError returns the first non-empty message.
func firstError(msgs ...string) string {
	for _, m := range msgs {
		if m != "" {
			return m
		}
	}
	return ""
}

// phoneIDParam parses the {id} URL parameter as a slot number.
func phoneIDParam(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
