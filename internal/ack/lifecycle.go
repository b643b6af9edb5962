package ack

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"signoff/internal/store"
)

// SaveEvent describes a document save reported by the host.
type SaveEvent struct {
	ID      string
	LastMod int64
	// Substantive is false for minor edits and saves that only touched line breaks.
	Substantive bool
	// Created marks the first save of a new document.
	Created bool
}

func (e *SaveEvent) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.LastMod, validation.Required, validation.Min(int64(1))),
	)
}

// OnDocumentSaved updates the revision index and assignments after a save.
// Only substantive changes advance the revision timestamp, so minor edits keep
// existing acknowledgements current. Manual assignees are always cleared: the
// markup may be gone, and ApplyMarkup puts it back if it is still there. New
// documents pick up the assignees of matching pattern rules.
func (s *Service) OnDocumentSaved(ctx context.Context, ev SaveEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	if !s.ready() {
		return ErrStorageUnavailable
	}

	doc := store.Document{ID: ev.ID, LastMod: ev.LastMod}
	err := s.store.ExecTx(ctx, func(ctx context.Context) error {
		if ev.Substantive {
			if err := s.store.UpsertDocument(ctx, doc); err != nil {
				return err
			}
		}
		if err := s.store.ClearManualAssignees(ctx, ev.ID); err != nil {
			return err
		}
		if !ev.Created {
			return nil
		}
		rules, err := s.store.ListRules(ctx)
		if err != nil {
			return err
		}
		return s.RecomputePatternAssignees(ctx, ev.ID, rules)
	})
	if err != nil {
		return fmt.Errorf("document saved %s: %w", ev.ID, err)
	}

	if ev.Substantive && s.index != nil {
		if err := s.index.IndexDocument(ctx, doc); err != nil {
			s.logger.Warn("index document", "document", ev.ID, "error", err)
		}
	}
	return nil
}

// OnDocumentDeleted drops the document together with its assignment and acknowledgements.
func (s *Service) OnDocumentDeleted(ctx context.Context, documentID string) error {
	if !s.ready() {
		return ErrStorageUnavailable
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("document deleted %s: %w", documentID, err)
	}
	if s.index != nil {
		if err := s.index.RemoveDocument(ctx, documentID); err != nil {
			s.logger.Warn("remove document from index", "document", documentID, "error", err)
		}
	}
	return nil
}

// ApplyMarkup sets the manual assignees declared in content with ~~ACK:expr~~.
// It reports whether a declaration was found.
func (s *Service) ApplyMarkup(ctx context.Context, documentID, content string) (bool, error) {
	expr, ok := ParseAssignMarkup(content)
	if !ok {
		return false, nil
	}
	if err := s.SetManualAssignees(ctx, documentID, expr); err != nil {
		return true, err
	}
	return true, nil
}

// IndexDocuments adds documents the revision index does not know yet, leaving
// known ones untouched, and returns how many were added. New documents get
// their pattern-derived assignees.
func (s *Service) IndexDocuments(ctx context.Context, docs []store.Document) (int, error) {
	if !s.ready() {
		return 0, ErrStorageUnavailable
	}

	added := make([]store.Document, 0)
	err := s.store.ExecTx(ctx, func(ctx context.Context) error {
		added = added[:0]
		rules, err := s.store.ListRules(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			inserted, err := s.store.InsertDocumentIfMissing(ctx, doc)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			if len(rules) > 0 {
				if err := s.RecomputePatternAssignees(ctx, doc.ID, rules); err != nil {
					return err
				}
			}
			added = append(added, doc)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("index documents: %w", err)
	}

	if s.index != nil {
		for _, doc := range added {
			if err := s.index.IndexDocument(ctx, doc); err != nil {
				s.logger.Warn("index document", "document", doc.ID, "error", err)
			}
		}
	}
	s.logger.Info("documents indexed", "added", len(added), "seen", len(docs))
	return len(added), nil
}
