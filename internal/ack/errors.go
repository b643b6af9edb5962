package ack

import (
	"errors"
	"fmt"
)

var (
	ErrStorageUnavailable = errors.New("acknowledgement storage unavailable")
	ErrNotAssigned        = errors.New("user is not assigned to this document")
	ErrUnknownDocument    = errors.New("unknown document")
)

// RuleWarning reports a pattern rule that was stored but matches no documents.
type RuleWarning struct {
	Pattern string
	Message string
}

func (w RuleWarning) Error() string {
	return fmt.Sprintf("rule %q: %s", w.Pattern, w.Message)
}
