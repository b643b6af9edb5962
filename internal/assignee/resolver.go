package assignee

import (
	"context"
	"fmt"
	"strings"
)

// Resolver evaluates assignee expressions against a user and their groups.
type Resolver struct {
	// CaseSensitive compares usernames and group names byte for byte. Off by default.
	CaseSensitive bool
}

func (r Resolver) equal(a, b string) bool {
	return r.Key(a) == r.Key(b)
}

// Key folds a username or group name the way comparisons do.
func (r Resolver) Key(name string) string {
	name = strings.TrimSpace(name)
	if r.CaseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// IsMember reports whether user, directly or through one of groups, is named by expr.
// An empty expression names no one.
func (r Resolver) IsMember(expr, user string, groups []string) bool {
	user = strings.TrimSpace(user)
	if user == "" {
		return false
	}
	for _, entry := range Split(expr) {
		if group, ok := IsGroup(entry); ok {
			for _, g := range groups {
				if r.equal(group, strings.TrimSpace(g)) {
					return true
				}
			}
			continue
		}
		if r.equal(entry, user) {
			return true
		}
	}
	return false
}

// Directory lists the members of a group. Implementations may be slow.
type Directory interface {
	UsersInGroup(ctx context.Context, group string) ([]string, error)
}

// Expand turns expr into concrete usernames, comparing names byte for byte.
func Expand(ctx context.Context, dir Directory, expr string) ([]string, error) {
	return Resolver{CaseSensitive: true}.Expand(ctx, dir, expr)
}

// Expand turns expr into concrete usernames: literal entries pass through,
// group entries are expanded through dir. Names and group references are
// folded with Key, so the directory sees the same group name IsMember compares.
// Order follows expr, duplicates are dropped.
func (r Resolver) Expand(ctx context.Context, dir Directory, expr string) ([]string, error) {
	users := make([]string, 0)
	seen := map[string]struct{}{}
	add := func(name string) {
		name = r.Key(name)
		if _, ok := seen[name]; ok || name == "" {
			return
		}
		seen[name] = struct{}{}
		users = append(users, name)
	}

	for _, entry := range Split(expr) {
		group, ok := IsGroup(entry)
		if !ok {
			add(entry)
			continue
		}
		if dir == nil {
			continue
		}
		group = r.Key(group)
		members, err := dir.UsersInGroup(ctx, group)
		if err != nil {
			return nil, fmt.Errorf("expand group %s: %w", group, err)
		}
		for _, member := range members {
			add(member)
		}
	}
	return users, nil
}
