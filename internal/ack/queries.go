package ack

import (
	"context"
	"errors"
	"fmt"

	"signoff/internal/pattern"
	"signoff/internal/store"
)

// assignedTo returns the known documents user is an effective assignee of, each
// carrying user's latest acknowledgement.
func (s *Service) assignedTo(ctx context.Context, user string, groups []string) ([]store.AssignedDocument, error) {
	items, err := s.store.ListAssignments(ctx, s.userKey(user), s.userMatch())
	if err != nil {
		return nil, err
	}
	out := make([]store.AssignedDocument, 0, len(items))
	for _, item := range items {
		if s.resolver.IsMember(effective(item.Assignment), user, groups) {
			out = append(out, item)
		}
	}
	return out, nil
}

// PendingForUser lists documents user still has to acknowledge: never
// acknowledged, or acknowledged before the last substantive change.
func (s *Service) PendingForUser(ctx context.Context, user string, groups []string) ([]store.AssignedDocument, error) {
	if !s.ready() {
		return []store.AssignedDocument{}, nil
	}
	items, err := s.assignedTo(ctx, user, groups)
	if err != nil {
		return nil, fmt.Errorf("pending for %s: %w", user, err)
	}
	pending := make([]store.AssignedDocument, 0, len(items))
	for _, item := range items {
		if StatusDue.Accepts(item.LastMod, item.Ack) {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// HistoryForUser returns one row per document assigned to user, filtered by status.
func (s *Service) HistoryForUser(ctx context.Context, user string, groups []string, status Status) ([]Record, error) {
	if !s.ready() {
		return []Record{}, nil
	}
	items, err := s.assignedTo(ctx, user, groups)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", user, err)
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if !status.Accepts(item.LastMod, item.Ack) {
			continue
		}
		records = append(records, Record{
			DocumentID: item.DocumentID,
			User:       s.userKey(user),
			LastMod:    item.LastMod,
			Ack:        item.Ack,
		})
	}
	return records, nil
}

// AssignmentsForUser backs the in-document listing: pending documents, or
// the whole history when includeDone is set.
func (s *Service) AssignmentsForUser(ctx context.Context, user string, groups []string, includeDone bool) ([]Record, error) {
	if includeDone {
		return s.HistoryForUser(ctx, user, groups, StatusAll)
	}
	return s.HistoryForUser(ctx, user, groups, StatusDue)
}

// StatusForDocument returns one row per assignee of documentID with their latest
// acknowledgement. Assignees who never acknowledged get a row with a nil Ack.
// A non-empty user restricts the result to that user, provided they are assigned.
// Rows are sorted by user; limit <= 0 means no limit.
func (s *Service) StatusForDocument(ctx context.Context, documentID, user string, status Status, limit int) ([]Record, error) {
	if !s.ready() {
		return []Record{}, nil
	}
	records, err := s.statusForDocument(ctx, documentID, user, status)
	if err != nil {
		return nil, fmt.Errorf("status for %s: %w", documentID, err)
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Service) statusForDocument(ctx context.Context, documentID, user string, status Status) ([]Record, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAssignment(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	names, err := s.resolver.Expand(ctx, s.dir, effective(a))
	if err != nil {
		return nil, err
	}
	if user != "" {
		restricted := make([]string, 0, 1)
		for _, name := range names {
			if s.userKey(name) == s.userKey(user) {
				restricted = append(restricted, name)
				break
			}
		}
		names = restricted
	}
	if len(names) == 0 {
		return []Record{}, nil
	}

	acks, err := s.store.LatestAcknowledgementsByUser(ctx, documentID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]int64, len(acks))
	for name, at := range acks {
		key := s.userKey(name)
		if prev, ok := latest[key]; !ok || at > prev {
			latest[key] = at
		}
	}

	records := make([]Record, 0, len(names))
	for _, name := range names {
		rec := Record{DocumentID: documentID, User: name, LastMod: doc.LastMod}
		if at, ok := latest[s.userKey(name)]; ok {
			rec.Ack = &at
		}
		// filter after the nil rows exist so never-acknowledged assignees count as due
		if status.Accepts(rec.LastMod, rec.Ack) {
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

// RecentAcknowledgements lists the latest acknowledgement per (document, user)
// across the log, newest first. limit <= 0 uses the configured default.
func (s *Service) RecentAcknowledgements(ctx context.Context, limit int) ([]Record, error) {
	if !s.ready() {
		return []Record{}, nil
	}
	if limit <= 0 {
		limit = s.cfg.RecentLimit
	}
	if limit <= 0 {
		limit = 100
	}
	items, err := s.store.RecentAcknowledgements(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent acknowledgements: %w", err)
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, Record(item))
	}
	return records, nil
}

// PatternReport is the concatenated status of every document matching a pattern.
type PatternReport struct {
	Records []Record
	// Truncated is set when more rows existed than the cap allowed.
	Truncated bool
}

// StatusForPattern runs StatusForDocument for every known document matching raw.
// max <= 0 uses the configured report cap.
func (s *Service) StatusForPattern(ctx context.Context, raw, user string, status Status, max int) (PatternReport, error) {
	report := PatternReport{Records: []Record{}}
	if !s.ready() {
		return report, nil
	}
	p, err := pattern.Compile(raw)
	if err != nil {
		return report, RuleWarning{Pattern: raw, Message: err.Error()}
	}
	if max <= 0 {
		max = s.cfg.PatternReportCap
	}
	if max <= 0 {
		max = 1000
	}

	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return report, fmt.Errorf("status for pattern %s: %w", raw, err)
	}
	for _, doc := range docs {
		if !p.Matches(doc.ID) {
			continue
		}
		records, err := s.statusForDocument(ctx, doc.ID, user, status)
		if err != nil {
			return report, fmt.Errorf("status for pattern %s: %w", raw, err)
		}
		report.Records = append(report.Records, records...)
		if len(report.Records) > max {
			report.Records = report.Records[:max]
			report.Truncated = true
			break
		}
	}
	return report, nil
}
