package pattern

import (
	"regexp"
	"strings"
	"unicode"
)

// Separator delimits namespaces inside a document identifier.
const Separator = ":"

var (
	separatorRuns  = regexp.MustCompile(`[:._-]*:[:._-]*`)
	underscoreRuns = regexp.MustCompile(`_{2,}`)
	idReplacer     = strings.NewReplacer("/", ":", ";", ":", " ", "_")
)

// CleanID turns raw user input into the canonical identifier form used as primary key:
// lowercased, "/" and ";" treated as namespace separators, spaces as underscores,
// anything outside letters, digits and ":._-" dropped.
func CleanID(raw string) string {
	id := idReplacer.Replace(strings.ToLower(strings.TrimSpace(raw)))

	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(":._-", r) {
			b.WriteRune(r)
		}
	}

	id = separatorRuns.ReplaceAllString(b.String(), Separator)
	id = underscoreRuns.ReplaceAllString(id, "_")
	return strings.Trim(id, ":._-")
}

// Namespace returns the namespace part of a clean identifier, "" for top level documents.
func Namespace(id string) string {
	if i := strings.LastIndex(id, Separator); i >= 0 {
		return id[:i]
	}
	return ""
}

// wrap surrounds a namespace path with separators so prefix tests respect segment boundaries.
func wrap(ns string) string {
	return Separator + ns + Separator
}
