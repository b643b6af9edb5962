package search

import (
	"encoding/base64"

	"signoff/internal/pattern"
	"signoff/internal/store"
)

// ResultType identifies the kind of entity in a lookup result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultUser     ResultType = "user"
)

// Result is a single lookup hit, used for report autocompletion.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Snippet string     `json:"snippet,omitempty"`
}

// Query describes a lookup request.
type Query struct {
	Text       string
	FilterType ResultType
	Limit      int
}

// Searcher can execute a lookup.
type Searcher interface {
	Search(q Query) ([]Result, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	Key       string `json:"key"`
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	LastMod   int64  `json:"lastmod"`
}

// UserRecord is the data we index for a user.
type UserRecord struct {
	Key      string `json:"key"`
	Username string `json:"username"`
}

// recordKey encodes an identifier into the character set Meilisearch allows for primary keys.
func recordKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func NewDocumentRecord(doc store.Document) DocumentRecord {
	return DocumentRecord{
		Key:       recordKey(doc.ID),
		ID:        doc.ID,
		Namespace: pattern.Namespace(doc.ID),
		LastMod:   doc.LastMod,
	}
}

func NewUserRecord(username string) UserRecord {
	return UserRecord{Key: recordKey(username), Username: username}
}
