package util

import (
	"strings"
	"unicode"
)

// suspiciousPatterns are markup and template fragments that never occur in
// an indexed event field.
var suspiciousPatterns = []string{"<", ">", "$", "{", "}", "javascript:", "onerror=", "onload="}

// SanitizeInput trims s and drops control characters.
func SanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s))
}

// ContainsSuspicious reports whether s carries markup or template syntax.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range suspiciousPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
