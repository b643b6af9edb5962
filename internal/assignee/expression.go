// Package assignee handles assignee expressions: comma separated lists of
// usernames and @group references.
package assignee

import "strings"

// GroupSigil marks a group reference inside an expression.
const GroupSigil = "@"

// Split returns the trimmed, non-empty, deduplicated entries of expr in first-seen order.
func Split(expr string) []string {
	parts := strings.Split(expr, ",")
	entries := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		entries = append(entries, entry)
	}
	return entries
}

// Normalize canonicalizes an expression for storage.
func Normalize(expr string) string {
	return strings.Join(Split(expr), ",")
}

// Union merges several expressions into one normalized expression.
func Union(exprs ...string) string {
	return Normalize(strings.Join(exprs, ","))
}

// IsGroup reports whether entry references a group and returns the group name.
func IsGroup(entry string) (string, bool) {
	if !strings.HasPrefix(entry, GroupSigil) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(entry, GroupSigil))
	return name, name != ""
}
