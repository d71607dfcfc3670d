package block

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizeID strips dashes and lowercases a Notion id. The REST API and
// the shadow record map disagree on dashes, so every id comparison in the
// pipeline goes through this function.
func NormalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// SameID reports whether two ids name the same Notion object.
func SameID(a, b string) bool {
	return a != "" && NormalizeID(a) == NormalizeID(b)
}

// DashedID formats an id as a dashed UUID (8-4-4-4-12). Ids that are not
// UUIDs are returned unchanged.
func DashedID(id string) string {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return id
	}
	return u.String()
}
