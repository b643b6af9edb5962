package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite3:"+filepath.Join(t.TempDir(), "store.sqlite3"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewSQLStore(db)
}

func TestDocumentUpsertAndInsertIfMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertDocument(ctx, Document{ID: "ns:page", LastMod: 100}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertDocument(ctx, Document{ID: "ns:page", LastMod: 200}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	doc, err := s.GetDocument(ctx, "ns:page")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.LastMod != 200 {
		t.Fatalf("lastmod = %d, want 200", doc.LastMod)
	}

	inserted, err := s.InsertDocumentIfMissing(ctx, Document{ID: "ns:page", LastMod: 300})
	if err != nil {
		t.Fatalf("insert if missing: %v", err)
	}
	if inserted {
		t.Fatal("expected existing document to be left alone")
	}
	inserted, err = s.InsertDocumentIfMissing(ctx, Document{ID: "ns:other", LastMod: 300})
	if err != nil || !inserted {
		t.Fatalf("insert new document = %v, %v", inserted, err)
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []Document{{ID: "ns:other", LastMod: 300}, {ID: "ns:page", LastMod: 200}}
	if !reflect.DeepEqual(docs, want) {
		t.Fatalf("documents = %+v", docs)
	}

	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"wiki:start", "wiki:syntax", "team:start", "a_b"} {
		if err := s.UpsertDocument(ctx, Document{ID: id, LastMod: 1}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	docs, err := s.SearchDocuments(ctx, "START", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "team:start" || docs[1].ID != "wiki:start" {
		t.Fatalf("search results = %+v", docs)
	}

	docs, err = s.SearchDocuments(ctx, "_", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "a_b" {
		t.Fatalf("underscore must match literally, got %+v", docs)
	}
}

func TestAssignmentFieldsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetPatternAssignees(ctx, "ns:page", "@team"); err != nil {
		t.Fatalf("set pattern: %v", err)
	}
	if err := s.SetManualAssignees(ctx, "ns:page", "alice"); err != nil {
		t.Fatalf("set manual: %v", err)
	}
	got, err := s.GetAssignment(ctx, "ns:page")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ManualAssignees != "alice" || got.PatternAssignees != "@team" {
		t.Fatalf("assignment = %+v", got)
	}

	if err := s.ClearManualAssignees(ctx, "ns:page"); err != nil {
		t.Fatalf("clear manual: %v", err)
	}
	got, _ = s.GetAssignment(ctx, "ns:page")
	if got.ManualAssignees != "" || got.PatternAssignees != "@team" {
		t.Fatalf("after clear manual = %+v", got)
	}

	if err := s.ClearPatternAssignees(ctx); err != nil {
		t.Fatalf("clear pattern: %v", err)
	}
	got, err = s.GetAssignment(ctx, "ns:page")
	if err != nil {
		t.Fatalf("row must survive clearing both fields: %v", err)
	}
	if got.ManualAssignees != "" || got.PatternAssignees != "" {
		t.Fatalf("after clear pattern = %+v", got)
	}

	if _, err := s.GetAssignment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAssignmentsCarriesLatestAck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsert(t, s, Document{ID: "p1", LastMod: 100})
	mustUpsert(t, s, Document{ID: "p2", LastMod: 100})
	if err := s.SetManualAssignees(ctx, "p1", "max"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetManualAssignees(ctx, "p2", "max"); err != nil {
		t.Fatal(err)
	}
	// assignment for a document missing from the index is not listed
	if err := s.SetManualAssignees(ctx, "ghost", "max"); err != nil {
		t.Fatal(err)
	}
	for _, ts := range []int64{150, 90, 120} {
		mustAck(t, s, Acknowledgement{DocumentID: "p1", User: "max", Ack: ts})
	}
	mustAck(t, s, Acknowledgement{DocumentID: "p2", User: "other", Ack: 500})

	items, err := s.ListAssignments(ctx, "max", MatchExact)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 assignments, got %+v", items)
	}
	if items[0].DocumentID != "p1" || items[0].Ack == nil || *items[0].Ack != 150 || items[0].LastMod != 100 {
		t.Fatalf("p1 = %+v", items[0])
	}
	if items[1].DocumentID != "p2" || items[1].Ack != nil {
		t.Fatalf("p2 = %+v", items[1])
	}
}

func TestUserMatchFoldsStoredNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsert(t, s, Document{ID: "p1", LastMod: 100})
	if err := s.SetManualAssignees(ctx, "p1", "max"); err != nil {
		t.Fatal(err)
	}
	mustAck(t, s, Acknowledgement{DocumentID: "p1", User: "Max", Ack: 120})
	mustAck(t, s, Acknowledgement{DocumentID: "p1", User: "max", Ack: 110})

	tests := []struct {
		name  string
		match UserMatch
		want  int64
	}{
		{name: "exact", match: MatchExact, want: 110},
		{name: "fold", match: MatchFold, want: 120},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			latest, err := s.LatestAcknowledgement(ctx, "p1", "max", tc.match)
			if err != nil || latest == nil || *latest != tc.want {
				t.Fatalf("latest = %v, %v, want %d", latest, err, tc.want)
			}
			items, err := s.ListAssignments(ctx, "max", tc.match)
			if err != nil || len(items) != 1 || items[0].Ack == nil || *items[0].Ack != tc.want {
				t.Fatalf("assignments = %+v, %v", items, err)
			}
		})
	}
}

func TestRulesReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, r := range []Rule{{Pattern: "ns:**", Assignees: "alice"}, {Pattern: "**", Assignees: "@all"}} {
		if err := s.InsertRule(ctx, r); err != nil {
			t.Fatalf("insert rule: %v", err)
		}
	}
	if err := s.InsertRule(ctx, Rule{Pattern: "**", Assignees: "dup"}); err == nil {
		t.Fatal("expected duplicate pattern to fail")
	}

	rules, err := s.ListRules(ctx)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	want := []Rule{{Pattern: "**", Assignees: "@all"}, {Pattern: "ns:**", Assignees: "alice"}}
	if !reflect.DeepEqual(rules, want) {
		t.Fatalf("rules = %+v", rules)
	}

	if err := s.DeleteRules(ctx); err != nil {
		t.Fatalf("delete rules: %v", err)
	}
	rules, _ = s.ListRules(ctx)
	if len(rules) != 0 {
		t.Fatalf("expected no rules, got %+v", rules)
	}
}

func TestLatestAcknowledgements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestAcknowledgement(ctx, "p1", "max", MatchExact)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil, got %d", *latest)
	}

	for _, ts := range []int64{30, 10, 20} {
		mustAck(t, s, Acknowledgement{DocumentID: "p1", User: "max", Ack: ts})
	}
	mustAck(t, s, Acknowledgement{DocumentID: "p1", User: "regular", Ack: 5})

	latest, err = s.LatestAcknowledgement(ctx, "p1", "max", MatchExact)
	if err != nil || latest == nil || *latest != 30 {
		t.Fatalf("latest = %v, %v", latest, err)
	}

	byUser, err := s.LatestAcknowledgementsByUser(ctx, "p1")
	if err != nil {
		t.Fatalf("by user: %v", err)
	}
	if !reflect.DeepEqual(byUser, map[string]int64{"max": 30, "regular": 5}) {
		t.Fatalf("by user = %v", byUser)
	}
}

func TestRecentAcknowledgements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsert(t, s, Document{ID: "p1", LastMod: 100})
	mustUpsert(t, s, Document{ID: "p3", LastMod: 100})
	mustAck(t, s, Acknowledgement{DocumentID: "p3", User: "regular", Ack: 10})
	mustAck(t, s, Acknowledgement{DocumentID: "p3", User: "regular", Ack: 200})
	mustAck(t, s, Acknowledgement{DocumentID: "p1", User: "max", Ack: 20})
	mustAck(t, s, Acknowledgement{DocumentID: "p1", User: "max", Ack: 300})
	mustAck(t, s, Acknowledgement{DocumentID: "p3", User: "max", Ack: 50})

	recent, err := s.RecentAcknowledgements(ctx, 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	got := make([]string, 0, len(recent))
	for _, r := range recent {
		got = append(got, r.DocumentID+"/"+r.User)
	}
	if !reflect.DeepEqual(got, []string{"p1/max", "p3/regular", "p3/max"}) {
		t.Fatalf("recent order = %v", got)
	}
	if *recent[0].Ack != 300 || recent[0].LastMod != 100 {
		t.Fatalf("first record = %+v", recent[0])
	}

	recent, err = s.RecentAcknowledgements(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("limited recent = %v, %v", recent, err)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsert(t, s, Document{ID: "p1", LastMod: 100})
	if err := s.SetManualAssignees(ctx, "p1", "max"); err != nil {
		t.Fatal(err)
	}
	mustAck(t, s, Acknowledgement{DocumentID: "p1", User: "max", Ack: 120})

	if err := s.DeleteDocument(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetDocument(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("document still present: %v", err)
	}
	if _, err := s.GetAssignment(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assignment still present: %v", err)
	}
	latest, _ := s.LatestAcknowledgement(ctx, "p1", "max", MatchExact)
	if latest != nil {
		t.Fatalf("acknowledgement still present: %d", *latest)
	}
}

func TestExecTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.InsertRule(ctx, Rule{Pattern: "ns:**", Assignees: "alice"}); err != nil {
			return err
		}
		// nested calls join the outer transaction
		if err := s.ExecTx(ctx, func(ctx context.Context) error {
			return s.SetPatternAssignees(ctx, "ns:page", "alice")
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	rules, _ := s.ListRules(ctx)
	if len(rules) != 0 {
		t.Fatalf("rule survived rollback: %+v", rules)
	}
	if _, err := s.GetAssignment(ctx, "ns:page"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assignment survived rollback: %v", err)
	}
}

func mustUpsert(t *testing.T, s *SQLStore, doc Document) {
	t.Helper()
	if err := s.UpsertDocument(context.Background(), doc); err != nil {
		t.Fatalf("upsert %s: %v", doc.ID, err)
	}
}

func mustAck(t *testing.T, s *SQLStore, ack Acknowledgement) {
	t.Helper()
	if err := s.InsertAcknowledgement(context.Background(), ack); err != nil {
		t.Fatalf("ack %s/%s: %v", ack.DocumentID, ack.User, err)
	}
}
