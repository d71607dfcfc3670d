// Package slug derives the URL slugs under which synced items are stored.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that NFD does not decompose into a base letter and a mark.
var ligatures = strings.NewReplacer("ß", "ss", "æ", "ae", "œ", "oe", "ø", "o", "đ", "d", "ł", "l", "þ", "th")

// Kebab lowercases s, strips diacritics and collapses every run of
// characters outside [a-z0-9] into a single hyphen. Titles in scripts
// without a Latin transliteration come back empty.
func Kebab(s string) string {
	// transform.Chain is stateful, build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		plain = s
	}
	plain = ligatures.Replace(strings.ToLower(plain))

	var sb strings.Builder
	pendingHyphen := false
	for _, r := range plain {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			if pendingHyphen && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingHyphen = false
			sb.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return sb.String()
}

// Join appends child to parent with a single slash.
func Join(parent, child string) string {
	parent = strings.Trim(parent, "/")
	child = strings.Trim(child, "/")
	switch {
	case parent == "":
		return child
	case child == "":
		return parent
	}
	return parent + "/" + child
}

// Child returns the slug of an inline child page titled title.
func Child(parent, title string) string {
	k := Kebab(title)
	if k == "" {
		return ""
	}
	return Join(parent, k)
}

// ResolveRow turns the slug property of a database row into a store slug.
// A leading slash makes it absolute, a slug that already contains a path
// separator is used verbatim, anything else is relative to parent.
func ResolveRow(parent, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "" || raw == "/":
		return "", false
	case strings.HasPrefix(raw, "/"):
		return strings.Trim(raw, "/"), true
	case strings.Contains(raw, "/"):
		return raw, true
	}
	return Join(parent, raw), true
}
