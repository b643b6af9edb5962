package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("not found")

// SQLStore persists the revision index, assignments, pattern rules and the
// acknowledgement log. Queries are portable between Postgres and SQLite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.executor(ctx).ExecContext(ctx, `
		INSERT INTO documents (id, lastmod)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET lastmod = excluded.lastmod
	`, doc.ID, doc.LastMod)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// InsertDocumentIfMissing adds doc unless a row for it exists and reports whether it inserted.
func (s *SQLStore) InsertDocumentIfMissing(ctx context.Context, doc Document) (bool, error) {
	res, err := s.executor(ctx).ExecContext(ctx, `
		INSERT INTO documents (id, lastmod)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, doc.ID, doc.LastMod)
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.executor(ctx).QueryRowContext(ctx, `SELECT id, lastmod FROM documents WHERE id=$1`, id).Scan(&doc.ID, &doc.LastMod)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *SQLStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, `SELECT id, lastmod FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.LastMod); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// SearchDocuments returns documents whose id contains query, case-insensitively.
func (s *SQLStore) SearchDocuments(ctx context.Context, query string, limit int) ([]Document, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, `
		SELECT id, lastmod
		FROM documents
		WHERE LOWER(id) LIKE $1 ESCAPE '\'
		ORDER BY id
		LIMIT $2
	`, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.LastMod); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// DeleteDocument removes the document, its assignment and its acknowledgements.
func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	return s.ExecTx(ctx, func(ctx context.Context) error {
		exec := s.executor(ctx)
		if _, err := exec.ExecContext(ctx, `DELETE FROM acknowledgements WHERE document_id=$1`, id); err != nil {
			return fmt.Errorf("delete acknowledgements: %w", err)
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM assignments WHERE document_id=$1`, id); err != nil {
			return fmt.Errorf("delete assignment: %w", err)
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) GetAssignment(ctx context.Context, documentID string) (Assignment, error) {
	var item Assignment
	err := s.executor(ctx).QueryRowContext(ctx, `
		SELECT document_id, manual_assignees, pattern_assignees
		FROM assignments
		WHERE document_id=$1
	`, documentID).Scan(&item.DocumentID, &item.ManualAssignees, &item.PatternAssignees)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("get assignment: %w", err)
	}
	return item, nil
}

// SetManualAssignees writes the manual expression, leaving the pattern-derived one alone.
func (s *SQLStore) SetManualAssignees(ctx context.Context, documentID, expr string) error {
	_, err := s.executor(ctx).ExecContext(ctx, `
		INSERT INTO assignments (document_id, manual_assignees)
		VALUES ($1, $2)
		ON CONFLICT (document_id) DO UPDATE SET manual_assignees = excluded.manual_assignees
	`, documentID, expr)
	if err != nil {
		return fmt.Errorf("set manual assignees: %w", err)
	}
	return nil
}

func (s *SQLStore) ClearManualAssignees(ctx context.Context, documentID string) error {
	_, err := s.executor(ctx).ExecContext(ctx, `UPDATE assignments SET manual_assignees = '' WHERE document_id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("clear manual assignees: %w", err)
	}
	return nil
}

// SetPatternAssignees writes the pattern-derived expression, leaving the manual one alone.
func (s *SQLStore) SetPatternAssignees(ctx context.Context, documentID, expr string) error {
	_, err := s.executor(ctx).ExecContext(ctx, `
		INSERT INTO assignments (document_id, pattern_assignees)
		VALUES ($1, $2)
		ON CONFLICT (document_id) DO UPDATE SET pattern_assignees = excluded.pattern_assignees
	`, documentID, expr)
	if err != nil {
		return fmt.Errorf("set pattern assignees: %w", err)
	}
	return nil
}

// ClearPatternAssignees empties the pattern-derived expression of every assignment.
func (s *SQLStore) ClearPatternAssignees(ctx context.Context) error {
	if _, err := s.executor(ctx).ExecContext(ctx, `UPDATE assignments SET pattern_assignees = ''`); err != nil {
		return fmt.Errorf("clear pattern assignees: %w", err)
	}
	return nil
}

// UserMatch selects how stored usernames are compared with a queried one.
type UserMatch int

const (
	MatchExact UserMatch = iota
	// MatchFold compares lowercased usernames; the caller passes the username already lowercased.
	MatchFold
)

func (m UserMatch) column() string {
	if m == MatchFold {
		return "LOWER(username)"
	}
	return "username"
}

// ListAssignments returns every assignment of a known document together with
// user's latest acknowledgement of it. Membership is decided by the caller.
func (s *SQLStore) ListAssignments(ctx context.Context, user string, match UserMatch) ([]AssignedDocument, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, `
		SELECT a.document_id, a.manual_assignees, a.pattern_assignees, d.lastmod, l.ack
		FROM assignments a
		JOIN documents d ON d.id = a.document_id
		LEFT JOIN (
			SELECT document_id, MAX(ack) AS ack
			FROM acknowledgements
			WHERE `+match.column()+` = $1
			GROUP BY document_id
		) l ON l.document_id = a.document_id
		ORDER BY a.document_id
	`, user)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	items := make([]AssignedDocument, 0)
	for rows.Next() {
		var item AssignedDocument
		var ack sql.NullInt64
		if err := rows.Scan(&item.DocumentID, &item.ManualAssignees, &item.PatternAssignees, &item.LastMod, &ack); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		item.Ack = nullableInt(ack)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return items, nil
}

func (s *SQLStore) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, `SELECT pattern, assignees FROM assignment_patterns ORDER BY pattern`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	items := make([]Rule, 0)
	for rows.Next() {
		var item Rule
		if err := rows.Scan(&item.Pattern, &item.Assignees); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return items, nil
}

func (s *SQLStore) DeleteRules(ctx context.Context) error {
	if _, err := s.executor(ctx).ExecContext(ctx, `DELETE FROM assignment_patterns`); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertRule(ctx context.Context, rule Rule) error {
	_, err := s.executor(ctx).ExecContext(ctx, `INSERT INTO assignment_patterns (pattern, assignees) VALUES ($1, $2)`, rule.Pattern, rule.Assignees)
	if err != nil {
		return fmt.Errorf("insert rule %s: %w", rule.Pattern, err)
	}
	return nil
}

func (s *SQLStore) InsertAcknowledgement(ctx context.Context, ack Acknowledgement) error {
	_, err := s.executor(ctx).ExecContext(ctx, `
		INSERT INTO acknowledgements (document_id, username, ack)
		VALUES ($1, $2, $3)
	`, ack.DocumentID, ack.User, ack.Ack)
	if err != nil {
		return fmt.Errorf("insert acknowledgement: %w", err)
	}
	return nil
}

// LatestAcknowledgement returns the newest acknowledgement of documentID by user, nil if none.
func (s *SQLStore) LatestAcknowledgement(ctx context.Context, documentID, user string, match UserMatch) (*int64, error) {
	var ack sql.NullInt64
	err := s.executor(ctx).QueryRowContext(ctx, `
		SELECT MAX(ack)
		FROM acknowledgements
		WHERE document_id=$1 AND `+match.column()+`=$2
	`, documentID, user).Scan(&ack)
	if err != nil {
		return nil, fmt.Errorf("latest acknowledgement: %w", err)
	}
	return nullableInt(ack), nil
}

// LatestAcknowledgementsByUser maps each user who acknowledged documentID to their newest timestamp.
func (s *SQLStore) LatestAcknowledgementsByUser(ctx context.Context, documentID string) (map[string]int64, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, `
		SELECT username, MAX(ack)
		FROM acknowledgements
		WHERE document_id=$1
		GROUP BY username
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list acknowledgements: %w", err)
	}
	defer rows.Close()

	latest := map[string]int64{}
	for rows.Next() {
		var user string
		var ack int64
		if err := rows.Scan(&user, &ack); err != nil {
			return nil, fmt.Errorf("scan acknowledgement: %w", err)
		}
		latest[user] = ack
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acknowledgements: %w", err)
	}
	return latest, nil
}

// RecentAcknowledgements returns the newest acknowledgement per (document, user), newest first.
func (s *SQLStore) RecentAcknowledgements(ctx context.Context, limit int) ([]AckRecord, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, `
		SELECT a.document_id, a.username, d.lastmod, MAX(a.ack) AS latest
		FROM acknowledgements a
		JOIN documents d ON d.id = a.document_id
		GROUP BY a.document_id, a.username, d.lastmod
		ORDER BY latest DESC, a.document_id, a.username
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent acknowledgements: %w", err)
	}
	defer rows.Close()

	items := make([]AckRecord, 0)
	for rows.Next() {
		var item AckRecord
		var ack int64
		if err := rows.Scan(&item.DocumentID, &item.User, &item.LastMod, &ack); err != nil {
			return nil, fmt.Errorf("scan acknowledgement: %w", err)
		}
		item.Ack = &ack
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acknowledgements: %w", err)
	}
	return items, nil
}

// SearchUsers returns usernames from the acknowledgement log containing query.
func (s *SQLStore) SearchUsers(ctx context.Context, query string, limit int) ([]string, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, `
		SELECT DISTINCT username
		FROM acknowledgements
		WHERE LOWER(username) LIKE $1 ESCAPE '\'
		ORDER BY username
		LIMIT $2
	`, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(query string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
