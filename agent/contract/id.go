package contract

import (
	"regexp"
	"strings"
)

var nonAlphanumericRun = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateID derives an agent id from its display name: lowercase, runs of
// non-alphanumeric characters collapsed to one hyphen, no edge hyphens.
// "Tech Agent!!" becomes "tech-agent".
func GenerateID(name string) string {
	id := nonAlphanumericRun.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(id, "-")
}
