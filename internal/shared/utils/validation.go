package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String length limits
const (
	MaxComponentIDLength = 64
	MaxNameLength        = 256
	MaxReasonLength      = 256
)

// ComponentIDPattern allows alphanumeric, dots, hyphens and underscores.
// Component ids become part of export filenames.
var ComponentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateComponentID checks an id used to label traces and exports.
func ValidateComponentID(id string) error {
	if id == "" {
		return fmt.Errorf("component id is empty")
	}
	if len(id) > MaxComponentIDLength {
		return fmt.Errorf("component id too long: %d characters (max %d)", len(id), MaxComponentIDLength)
	}
	if !ComponentIDPattern.MatchString(id) || strings.Trim(id, ".") == "" {
		return fmt.Errorf("component id %q contains invalid characters", id)
	}
	return nil
}

// ValidateName checks a required free-form name such as an entity or a
// process instance.
func ValidateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return ValidateText(field, value, MaxNameLength)
}

// ValidateText checks optional free-form text: valid UTF-8, no control
// characters, at most maxLen runes.
func ValidateText(field, value string, maxLen int) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s contains invalid UTF-8", field)
	}
	if n := utf8.RuneCountInString(value); n > maxLen {
		return fmt.Errorf("%s too long: %d characters (max %d)", field, n, maxLen)
	}
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return fmt.Errorf("%s contains control characters", field)
	}
	return nil
}
