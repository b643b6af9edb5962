package ack

import (
	"fmt"
	"strings"
)

// Status selects rows by the state of the latest acknowledgement.
type Status string

const (
	StatusAll      Status = "all"
	StatusCurrent  Status = "current"
	StatusDue      Status = "due"
	StatusOutdated Status = "outdated"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusCurrent:
		return StatusCurrent, nil
	case StatusDue:
		return StatusDue, nil
	case StatusOutdated:
		return StatusOutdated, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// Accepts reports whether a row with the given document lastmod and latest ack passes the filter.
//
//	current:  ack exists and ack >= lastmod
//	due:      no ack, or ack < lastmod
//	outdated: ack exists and ack < lastmod
func (s Status) Accepts(lastMod int64, ack *int64) bool {
	switch s {
	case StatusCurrent:
		return ack != nil && *ack >= lastMod
	case StatusDue:
		return ack == nil || *ack < lastMod
	case StatusOutdated:
		return ack != nil && *ack < lastMod
	default:
		return true
	}
}

// Record is one (document, user) pair with the user's latest acknowledgement, nil if none.
type Record struct {
	DocumentID string
	User       string
	LastMod    int64
	Ack        *int64
}

func (r Record) Current() bool {
	return StatusCurrent.Accepts(r.LastMod, r.Ack)
}

func (r Record) Outdated() bool {
	return StatusOutdated.Accepts(r.LastMod, r.Ack)
}

// Summary counts how many of a user's assigned documents are acknowledged.
type Summary struct {
	Current int
	Total   int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d of %d acknowledged", s.Current, s.Total)
}

func Summarize(rows []Record) Summary {
	sum := Summary{Total: len(rows)}
	for _, row := range rows {
		if row.Current() {
			sum.Current++
		}
	}
	return sum
}
