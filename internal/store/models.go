package store

// Document is one row of the revision index: the last substantive modification of a document.
type Document struct {
	ID      string
	LastMod int64
}

// Assignment holds the two assignee expressions of a document.
type Assignment struct {
	DocumentID       string
	ManualAssignees  string
	PatternAssignees string
}

// Rule maps a document pattern to an assignee expression
type Rule struct {
	Pattern   string
	Assignees string
}

type Acknowledgement struct {
	DocumentID string
	User       string
	Ack        int64
}

// AssignedDocument is an assignment joined with its document and, when
// queried for a user, that user's latest acknowledgement.
type AssignedDocument struct {
	Assignment
	LastMod int64
	Ack     *int64
}

// AckRecord is a (document, user) pair with the user's latest acknowledgement, nil if none.
type AckRecord struct {
	DocumentID string
	User       string
	LastMod    int64
	Ack        *int64
}
