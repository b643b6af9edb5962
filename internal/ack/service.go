// Package ack is the acknowledgement engine: it keeps track of who has to
// sign off on which document and whether their latest sign-off still covers
// the document's last substantive change.
package ack

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"signoff/internal/assignee"
	"signoff/internal/config"
	"signoff/internal/store"
)

type dataStore interface {
	ExecTx(context.Context, store.TxFn) error
	UpsertDocument(context.Context, store.Document) error
	InsertDocumentIfMissing(context.Context, store.Document) (bool, error)
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context) ([]store.Document, error)
	DeleteDocument(context.Context, string) error
	GetAssignment(context.Context, string) (store.Assignment, error)
	SetManualAssignees(context.Context, string, string) error
	ClearManualAssignees(context.Context, string) error
	SetPatternAssignees(context.Context, string, string) error
	ClearPatternAssignees(context.Context) error
	ListAssignments(context.Context, string, store.UserMatch) ([]store.AssignedDocument, error)
	ListRules(context.Context) ([]store.Rule, error)
	DeleteRules(context.Context) error
	InsertRule(context.Context, store.Rule) error
	InsertAcknowledgement(context.Context, store.Acknowledgement) error
	LatestAcknowledgement(context.Context, string, string, store.UserMatch) (*int64, error)
	LatestAcknowledgementsByUser(context.Context, string) (map[string]int64, error)
	RecentAcknowledgements(context.Context, int) ([]store.AckRecord, error)
}

// Indexer is told about documents entering and leaving the revision index.
type Indexer interface {
	IndexDocument(context.Context, store.Document) error
	RemoveDocument(context.Context, string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	dir      assignee.Directory
	resolver assignee.Resolver
	index    Indexer
	logger   *slog.Logger
	now      func() time.Time

	unavailableOnce sync.Once
}

// New builds the engine. A nil dataStore puts the service in degraded mode:
// queries return empty results and writes return ErrStorageUnavailable.
func New(cfg config.Config, dataStore *store.SQLStore, dir assignee.Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		dir:      dir,
		resolver: assignee.Resolver{CaseSensitive: cfg.CaseSensitiveUsers},
		logger:   logger,
		now:      time.Now,
	}
	if dataStore != nil {
		s.store = dataStore
	}
	return s
}

// SetIndexer registers a search index to keep in sync with saves and deletes.
func (s *Service) SetIndexer(index Indexer) {
	s.index = index
}

func (s *Service) Available() bool {
	return s.store != nil
}

// ready reports whether storage can be used, logging its absence once per service.
func (s *Service) ready() bool {
	if s.store != nil {
		return true
	}
	s.unavailableOnce.Do(func() {
		s.logger.Error("acknowledgement storage unavailable, running in degraded mode")
	})
	return false
}

// SetManualAssignees stores the assignee expression declared by the document itself.
func (s *Service) SetManualAssignees(ctx context.Context, documentID, expr string) error {
	if !s.ready() {
		return ErrStorageUnavailable
	}
	return s.store.SetManualAssignees(ctx, documentID, assignee.Normalize(expr))
}

// ClearManualAssignees empties the manual expression but keeps the row and its pattern assignees.
func (s *Service) ClearManualAssignees(ctx context.Context, documentID string) error {
	if !s.ready() {
		return ErrStorageUnavailable
	}
	return s.store.ClearManualAssignees(ctx, documentID)
}

// RecomputePatternAssignees sets the pattern-derived assignees of one document from rules.
func (s *Service) RecomputePatternAssignees(ctx context.Context, documentID string, rules []store.Rule) error {
	if !s.ready() {
		return ErrStorageUnavailable
	}
	compiled, _ := compileRules(rules)
	exprs := make([]string, 0)
	for _, rule := range compiled {
		if rule.pattern.Matches(documentID) {
			exprs = append(exprs, rule.Assignees)
		}
	}
	return s.store.SetPatternAssignees(ctx, documentID, assignee.Union(exprs...))
}

// IsAssigned reports whether user, directly or through groups, has to acknowledge documentID.
// Unknown documents and documents without assignment have no assignees.
func (s *Service) IsAssigned(ctx context.Context, documentID, user string, groups []string) bool {
	if !s.ready() {
		return false
	}
	assigned, err := s.isAssigned(ctx, documentID, user, groups)
	if err != nil {
		s.logger.Error("check assignment", "document", documentID, "user", user, "error", err)
		return false
	}
	return assigned
}

func (s *Service) isAssigned(ctx context.Context, documentID, user string, groups []string) (bool, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	a, err := s.store.GetAssignment(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.resolver.IsMember(effective(a), user, groups), nil
}

// ResolveAssigneeNames expands the effective assignees of documentID into usernames.
// Group expansion goes through the directory and may be slow.
func (s *Service) ResolveAssigneeNames(ctx context.Context, documentID string) ([]string, error) {
	if !s.ready() {
		return []string{}, nil
	}
	a, err := s.store.GetAssignment(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.resolver.Expand(ctx, s.dir, effective(a))
}

// Acknowledge records that user signed off on documentID now and returns the timestamp.
func (s *Service) Acknowledge(ctx context.Context, documentID, user string, groups []string) (int64, error) {
	if !s.ready() {
		return 0, ErrStorageUnavailable
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownDocument
		}
		return 0, err
	}
	assigned, err := s.isAssigned(ctx, documentID, user, groups)
	if err != nil {
		return 0, err
	}
	if !assigned {
		return 0, ErrNotAssigned
	}

	at := s.now().Unix()
	if err := s.RecordAcknowledgement(ctx, documentID, user, at); err != nil {
		return 0, err
	}
	s.logger.Info("document acknowledged", "document", documentID, "user", user, "at", at)
	return at, nil
}

// RecordAcknowledgement appends an acknowledgement event without any checks.
// Earlier events are kept; queries only look at the latest one. The username
// is stored folded unless usernames are case sensitive.
func (s *Service) RecordAcknowledgement(ctx context.Context, documentID, user string, at int64) error {
	if !s.ready() {
		return ErrStorageUnavailable
	}
	return s.store.InsertAcknowledgement(ctx, store.Acknowledgement{DocumentID: documentID, User: s.userKey(user), Ack: at})
}

// LatestFor returns the newest acknowledgement timestamp of documentID by user, nil if none.
func (s *Service) LatestFor(ctx context.Context, documentID, user string) (*int64, error) {
	if !s.ready() {
		return nil, nil
	}
	return s.store.LatestAcknowledgement(ctx, documentID, s.userKey(user), s.userMatch())
}

// IsCurrent reports whether user's latest acknowledgement covers the document's last change.
func (s *Service) IsCurrent(ctx context.Context, documentID, user string) bool {
	if !s.ready() {
		return false
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("load document", "document", documentID, "error", err)
		}
		return false
	}
	latest, err := s.store.LatestAcknowledgement(ctx, documentID, s.userKey(user), s.userMatch())
	if err != nil {
		s.logger.Error("load acknowledgement", "document", documentID, "user", user, "error", err)
		return false
	}
	return StatusCurrent.Accepts(doc.LastMod, latest)
}

// State is what a document view needs to render the acknowledgement box.
type State struct {
	Assigned bool
	LastMod  int64
	// Latest is the newest acknowledgement, possibly older than LastMod.
	Latest  *int64
	Current bool
}

func (s *Service) AcknowledgementState(ctx context.Context, documentID, user string, groups []string) (State, error) {
	if !s.ready() {
		return State{}, nil
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	assigned, err := s.isAssigned(ctx, documentID, user, groups)
	if err != nil {
		return State{}, err
	}
	if !assigned {
		return State{LastMod: doc.LastMod}, nil
	}
	latest, err := s.store.LatestAcknowledgement(ctx, documentID, s.userKey(user), s.userMatch())
	if err != nil {
		return State{}, err
	}
	return State{
		Assigned: true,
		LastMod:  doc.LastMod,
		Latest:   latest,
		Current:  StatusCurrent.Accepts(doc.LastMod, latest),
	}, nil
}

func effective(a store.Assignment) string {
	return assignee.Union(a.ManualAssignees, a.PatternAssignees)
}

// userKey folds usernames the same way membership checks do.
func (s *Service) userKey(user string) string {
	return s.resolver.Key(user)
}

// userMatch tells the store how to compare acknowledgement usernames with a userKey.
func (s *Service) userMatch() store.UserMatch {
	if s.resolver.CaseSensitive {
		return store.MatchExact
	}
	return store.MatchFold
}

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].User != records[j].User {
			return records[i].User < records[j].User
		}
		return records[i].DocumentID < records[j].DocumentID
	})
}
