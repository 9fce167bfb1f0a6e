package chat

import "strings"

// NormalizeSpace collapses runs of whitespace into a single space and trims the result.
func NormalizeSpace(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(s), " ")
}
