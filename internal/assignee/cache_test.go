package assignee

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type countingDirectory struct {
	members map[string][]string
	calls   int
}

func (d *countingDirectory) UsersInGroup(_ context.Context, group string) ([]string, error) {
	d.calls++
	return d.members[group], nil
}

func setupTestCache(t *testing.T) (*CachedDirectory, *countingDirectory, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	next := &countingDirectory{members: map[string][]string{"super": {"max"}}}
	cache, err := NewCachedDirectory("redis://"+s.Addr(), next, time.Minute)
	if err != nil {
		t.Fatalf("failed to create cached directory: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, next, s
}

func TestCachedDirectoryServesFromCache(t *testing.T) {
	cache, next, _ := setupTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		members, err := cache.UsersInGroup(ctx, "super")
		if err != nil {
			t.Fatalf("UsersInGroup failed: %v", err)
		}
		if !reflect.DeepEqual(members, []string{"max"}) {
			t.Fatalf("members = %v", members)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 directory call, got %d", next.calls)
	}
}

func TestCachedDirectoryExpires(t *testing.T) {
	cache, next, s := setupTestCache(t)
	ctx := context.Background()

	if _, err := cache.UsersInGroup(ctx, "super"); err != nil {
		t.Fatalf("UsersInGroup failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := cache.UsersInGroup(ctx, "super"); err != nil {
		t.Fatalf("UsersInGroup failed: %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected cache miss after expiry, got %d directory calls", next.calls)
	}
}

func TestCachedDirectoryInvalidate(t *testing.T) {
	cache, _, s := setupTestCache(t)
	ctx := context.Background()

	if _, err := cache.UsersInGroup(ctx, "super"); err != nil {
		t.Fatalf("UsersInGroup failed: %v", err)
	}
	if !s.Exists("group:super") {
		t.Fatal("expected group:super to be cached")
	}
	if err := cache.Invalidate(ctx, "super"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if s.Exists("group:super") {
		t.Fatal("expected group:super to be removed")
	}
}

func TestCachedDirectoryFallsThroughWhenRedisDown(t *testing.T) {
	cache, next, s := setupTestCache(t)
	s.Close()

	members, err := cache.UsersInGroup(context.Background(), "super")
	if err != nil {
		t.Fatalf("UsersInGroup failed: %v", err)
	}
	if !reflect.DeepEqual(members, []string{"max"}) || next.calls != 1 {
		t.Fatalf("members = %v, calls = %d", members, next.calls)
	}
}

func TestCachedDirectoryUsedByExpand(t *testing.T) {
	cache, _, _ := setupTestCache(t)

	users, err := Expand(context.Background(), cache, "regular,@super")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !reflect.DeepEqual(users, []string{"regular", "max"}) {
		t.Fatalf("Expand = %v", users)
	}
}
