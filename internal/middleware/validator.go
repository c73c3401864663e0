package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

// IAM ids, ARNs-as-ids and upload uuids all fit this.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_+=,.@:/-]{1,255}$`)

// ValidateID checks a path or body identifier before it reaches a query.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s format", kind)
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateName checks display names such as an upload name.
func ValidateName(kind, name string) error {
	clean := SanitizeString(name)
	if clean == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if len(clean) > 255 {
		return fmt.Errorf("%s is too long (max 255 chars)", kind)
	}
	return nil
}
