package search

import (
	"context"
	"log/slog"

	"signoff/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the store.
type Service struct {
	meili    *Meili
	fallback *Fallback
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *Fallback, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

// Lookup tries Meilisearch if healthy, otherwise falls back to the store.
func (s *Service) Lookup(ctx context.Context, q Query) []Result {
	if s.meili != nil && s.meili.Healthy() {
		results, err := s.meili.Search(q)
		if err == nil {
			return nonNil(results)
		}
		s.logger.Warn("meilisearch error, falling back to store", "error", err)
	}
	if s.fallback == nil {
		return []Result{}
	}

	results, err := s.fallback.SearchContext(ctx, q)
	if err != nil {
		s.logger.Error("fallback search", "query", q.Text, "error", err)
		return []Result{}
	}
	return nonNil(results)
}

// LookupDocuments returns document ids matching text.
func (s *Service) LookupDocuments(ctx context.Context, text string, limit int) []Result {
	return s.Lookup(ctx, Query{Text: text, FilterType: ResultDocument, Limit: limit})
}

// LookupUsers returns usernames matching text.
func (s *Service) LookupUsers(ctx context.Context, text string, limit int) []Result {
	return s.Lookup(ctx, Query{Text: text, FilterType: ResultUser, Limit: limit})
}

// IndexDocument pushes a document into Meilisearch. It is a no-op when
// Meilisearch is absent or unhealthy; a later reindex catches up.
func (s *Service) IndexDocument(_ context.Context, doc store.Document) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	if err := s.meili.IndexDocument(NewDocumentRecord(doc)); err != nil {
		s.logger.Warn("index document", "document", doc.ID, "error", err)
	}
	return nil
}

// RemoveDocument removes a document from Meilisearch.
func (s *Service) RemoveDocument(_ context.Context, id string) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	if err := s.meili.DeleteDocument(id); err != nil {
		s.logger.Warn("delete document", "document", id, "error", err)
	}
	return nil
}

// ReindexAll reads all documents and users from the store and pushes them to Meilisearch.
// It returns the number of documents and users sent.
func (s *Service) ReindexAll(ctx context.Context) (int, int, error) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return 0, 0, nil
	}
	documents, users, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		return 0, 0, err
	}
	if err := s.meili.IndexDocuments(documents); err != nil {
		return 0, 0, err
	}
	if err := s.meili.IndexUsers(users); err != nil {
		return len(documents), 0, err
	}
	return len(documents), len(users), nil
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
