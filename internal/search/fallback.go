package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"signoff/internal/store"
)

const reindexLimit = 1<<31 - 1

// UserLister lists every known username, typically the group directory.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

// Fallback implements Searcher with substring matching against the
// acknowledgement store and the user directory.
type Fallback struct {
	store *store.SQLStore
	users UserLister
}

// NewFallback creates a store-backed searcher. users may be nil.
func NewFallback(st *store.SQLStore, users UserLister) *Fallback {
	return &Fallback{store: st, users: users}
}

// Healthy always returns true: without storage there is nothing to look up anyway.
func (f *Fallback) Healthy() bool {
	return true
}

func (f *Fallback) Search(q Query) ([]Result, error) {
	return f.SearchContext(context.Background(), q)
}

// SearchContext looks up document ids and usernames containing q.Text.
func (f *Fallback) SearchContext(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	results := make([]Result, 0)
	if q.FilterType == "" || q.FilterType == ResultDocument {
		if f.store != nil {
			docs, err := f.store.SearchDocuments(ctx, q.Text, limit)
			if err != nil {
				return nil, fmt.Errorf("search documents: %w", err)
			}
			for _, doc := range docs {
				rec := NewDocumentRecord(doc)
				results = append(results, Result{Type: ResultDocument, ID: rec.ID, Snippet: rec.Namespace})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultUser {
		users, err := f.lookupUsers(ctx, q.Text, limit)
		if err != nil {
			return nil, err
		}
		for _, user := range users {
			results = append(results, Result{Type: ResultUser, ID: user})
		}
	}
	return results, nil
}

// lookupUsers merges directory users with everyone who ever acknowledged something.
func (f *Fallback) lookupUsers(ctx context.Context, text string, limit int) ([]string, error) {
	seen := make(map[string]struct{})
	users := make([]string, 0)
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		users = append(users, name)
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	if f.users != nil {
		all, err := f.users.Users(ctx)
		if err != nil {
			return nil, fmt.Errorf("list directory users: %w", err)
		}
		for _, name := range all {
			if strings.Contains(strings.ToLower(name), needle) {
				add(name)
			}
		}
	}
	if f.store != nil {
		found, err := f.store.SearchUsers(ctx, text, limit)
		if err != nil {
			return nil, fmt.Errorf("search users: %w", err)
		}
		for _, name := range found {
			add(name)
		}
	}

	sort.Strings(users)
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// LoadAllRecords reads every document and known user for a full reindex.
func (f *Fallback) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []UserRecord, error) {
	documents := make([]DocumentRecord, 0)
	if f.store != nil {
		docs, err := f.store.ListDocuments(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load documents: %w", err)
		}
		for _, doc := range docs {
			documents = append(documents, NewDocumentRecord(doc))
		}
	}

	names, err := f.lookupUsers(ctx, "", reindexLimit)
	if err != nil {
		return nil, nil, err
	}
	users := make([]UserRecord, 0, len(names))
	for _, name := range names {
		users = append(users, NewUserRecord(name))
	}
	return documents, users, nil
}
