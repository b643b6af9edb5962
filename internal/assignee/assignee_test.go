package assignee

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: " , ,", want: ""},
		{in: "alice, bob ,alice", want: "alice,bob"},
		{in: "@super,  regular ,@super,", want: "@super,regular"},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if got := Union("alice", "", "bob, alice"); got != "alice,bob" {
		t.Fatalf("Union = %q", got)
	}
}

func TestIsMember(t *testing.T) {
	tests := []struct {
		name   string
		r      Resolver
		expr   string
		user   string
		groups []string
		want   bool
	}{
		{name: "empty expression", expr: "", user: "max", groups: []string{"user"}, want: false},
		{name: "literal user", expr: "regular, @super", user: "regular", want: true},
		{name: "group member", expr: "regular, @super", user: "max", groups: []string{"user", "super"}, want: true},
		{name: "not a member", expr: "regular, @super", user: "other", groups: []string{"user"}, want: false},
		{name: "case insensitive by default", expr: "Max", user: "max", want: true},
		{name: "case sensitive", r: Resolver{CaseSensitive: true}, expr: "Max", user: "max", want: false},
		{name: "group name is not a user", expr: "@max", user: "max", want: false},
		{name: "empty user", expr: "max", user: " ", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.IsMember(tc.expr, tc.user, tc.groups); got != tc.want {
				t.Fatalf("IsMember(%q, %q, %v) = %v, want %v", tc.expr, tc.user, tc.groups, got, tc.want)
			}
		})
	}
}

const fixtureDirectory = `
users:
  max: [user, super]
  regular: [user]
`

func TestStaticDirectory(t *testing.T) {
	dir, err := ParseStaticDirectory([]byte(fixtureDirectory))
	if err != nil {
		t.Fatalf("parse directory: %v", err)
	}
	ctx := context.Background()

	members, _ := dir.UsersInGroup(ctx, "user")
	if !reflect.DeepEqual(members, []string{"max", "regular"}) {
		t.Fatalf("user group = %v", members)
	}
	if groups := dir.GroupsOf("max"); !reflect.DeepEqual(groups, []string{"user", "super"}) {
		t.Fatalf("GroupsOf(max) = %v", groups)
	}
	if groups := dir.GroupsOf("nobody"); len(groups) != 0 {
		t.Fatalf("GroupsOf(nobody) = %v", groups)
	}
	users, _ := dir.Users(ctx)
	if !reflect.DeepEqual(users, []string{"max", "regular"}) {
		t.Fatalf("Users = %v", users)
	}
}

func TestExpand(t *testing.T) {
	dir, err := ParseStaticDirectory([]byte(fixtureDirectory))
	if err != nil {
		t.Fatalf("parse directory: %v", err)
	}

	got, err := Expand(context.Background(), dir, "regular, @super")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"regular", "max"}) {
		t.Fatalf("Expand = %v, want [regular max]", got)
	}

	got, err = Expand(context.Background(), dir, "@user,max")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"max", "regular"}) {
		t.Fatalf("Expand dedupe = %v", got)
	}
}

type failingDirectory struct{}

func (failingDirectory) UsersInGroup(context.Context, string) ([]string, error) {
	return nil, errors.New("directory down")
}

func TestExpandPropagatesDirectoryError(t *testing.T) {
	if _, err := Expand(context.Background(), failingDirectory{}, "alice,@staff"); err == nil {
		t.Fatal("expected error from directory")
	}
	got, err := Expand(context.Background(), failingDirectory{}, "alice")
	if err != nil || !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("literal-only expand = %v, %v", got, err)
	}
}

func TestResolverExpandFoldsNames(t *testing.T) {
	dir := NewStaticDirectory(map[string][]string{
		"Max":     {"Super", "user"},
		"regular": {"user"},
	}).FoldCase()
	ctx := context.Background()

	tests := []struct {
		name string
		r    Resolver
		expr string
		want []string
	}{
		{name: "folded group reference", expr: "@SUPER", want: []string{"max"}},
		{name: "literal and member collapse", expr: "MAX, @super, Regular", want: []string{"max", "regular"}},
		{name: "case sensitive keeps spelling", r: Resolver{CaseSensitive: true}, expr: "Max, max", want: []string{"Max", "max"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.r.Expand(ctx, dir, tc.expr)
			if err != nil {
				t.Fatalf("expand: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Expand(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}

	if groups := dir.GroupsOf("MAX"); !reflect.DeepEqual(groups, []string{"super", "user"}) {
		t.Fatalf("GroupsOf = %v", groups)
	}
	if users, _ := dir.Users(ctx); !reflect.DeepEqual(users, []string{"max", "regular"}) {
		t.Fatalf("Users = %v", users)
	}
}
