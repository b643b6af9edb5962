package ack

import (
	"regexp"
	"strings"
)

var (
	assignMarkup  = regexp.MustCompile(`~~ACK:(.*?)~~`)
	listingMarkup = regexp.MustCompile(`~~ACKNOWLEDGE(.*?)~~`)
	newlines      = strings.NewReplacer("\r", "", "\n", "")
)

// ParseAssignMarkup extracts the assignee expression declared with ~~ACK:expr~~.
// The last declaration wins.
func ParseAssignMarkup(content string) (string, bool) {
	matches := assignMarkup.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1][1]), true
}

// ParseListingMarkup finds ~~ACKNOWLEDGE~~ or ~~ACKNOWLEDGE all~~ and
// reports whether already acknowledged documents should be listed too.
func ParseListingMarkup(content string) (found, includeDone bool) {
	m := listingMarkup.FindStringSubmatch(content)
	if m == nil {
		return false, false
	}
	return true, strings.EqualFold(strings.TrimSpace(m[1]), "all")
}

// IsSubstantiveChange reports whether a save should advance the document's
// revision timestamp. Minor edits never do; otherwise the content has to
// differ by more than line breaks.
func IsSubstantiveChange(minor bool, oldContent, newContent string) bool {
	if minor {
		return false
	}
	return newlines.Replace(oldContent) != newlines.Replace(newContent)
}
