// Package util holds small helpers shared by the CLI and the report exporter.
package util

import "github.com/google/uuid"

// NewID returns a random UUID, joined to prefix with a hyphen when prefix is set.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
