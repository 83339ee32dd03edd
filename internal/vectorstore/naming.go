package vectorstore

import (
	"fmt"
	"regexp"
	"strings"
)

// validSlug is the naming grammar shared by the bucket and index backends:
// lowercase alphanumerics and hyphens, starting with an alphanumeric.
var validSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Slug derives the storage identifier for a query engine name: lowercase,
// spaces and underscores become hyphens. The result is validated against
// the naming grammar so an unusable name fails before any creation attempt.
func Slug(name string) (string, error) {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	if !validSlug.MatchString(s) {
		return "", fmt.Errorf("engine name %q derives invalid storage identifier %q", name, s)
	}
	return s, nil
}
