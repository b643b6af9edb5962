package assignee

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticDirectory is a user directory read from a YAML file of the form
//
//	users:
//	  max: [user, super]
//	  regular: [user]
type StaticDirectory struct {
	groups  map[string][]string
	members map[string][]string
	folded  bool
}

type directoryFile struct {
	Users map[string][]string `yaml:"users"`
}

func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	return ParseStaticDirectory(data)
}

func ParseStaticDirectory(data []byte) (*StaticDirectory, error) {
	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}
	return NewStaticDirectory(file.Users), nil
}

// NewStaticDirectory builds a directory from user -> groups.
func NewStaticDirectory(userGroups map[string][]string) *StaticDirectory {
	d := &StaticDirectory{
		groups:  make(map[string][]string, len(userGroups)),
		members: map[string][]string{},
	}
	users := make([]string, 0, len(userGroups))
	for user := range userGroups {
		users = append(users, user)
	}
	sort.Strings(users)

	for _, user := range users {
		groups := Split(strings.Join(userGroups[user], ","))
		d.groups[user] = groups
		for _, group := range groups {
			d.members[group] = append(d.members[group], user)
		}
	}
	return d
}

// FoldCase returns a copy with every username and group name lowercased,
// for use with a case-insensitive Resolver. Lookups on the copy fold their argument too.
func (d *StaticDirectory) FoldCase() *StaticDirectory {
	userGroups := make(map[string][]string, len(d.groups))
	for user, groups := range d.groups {
		key := strings.ToLower(user)
		for _, group := range groups {
			userGroups[key] = append(userGroups[key], strings.ToLower(group))
		}
		if _, ok := userGroups[key]; !ok {
			userGroups[key] = []string{}
		}
	}
	folded := NewStaticDirectory(userGroups)
	folded.folded = true
	return folded
}

func (d *StaticDirectory) lookupKey(name string) string {
	if d.folded {
		return strings.ToLower(strings.TrimSpace(name))
	}
	return name
}

func (d *StaticDirectory) UsersInGroup(_ context.Context, group string) ([]string, error) {
	return append([]string(nil), d.members[d.lookupKey(group)]...), nil
}

// GroupsOf returns the groups user belongs to, nil for unknown users.
func (d *StaticDirectory) GroupsOf(user string) []string {
	return append([]string(nil), d.groups[d.lookupKey(user)]...)
}

// Users returns every known username, sorted.
func (d *StaticDirectory) Users(_ context.Context) ([]string, error) {
	users := make([]string, 0, len(d.groups))
	for user := range d.groups {
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}
