package util

import (
	"regexp"
	"testing"
)

func TestNewID(t *testing.T) {
	tests := []struct {
		prefix string
		want   *regexp.Regexp
	}{
		{prefix: "", want: regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)},
		{prefix: "pending", want: regexp.MustCompile(`^pending-[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			id := NewID(tt.prefix)
			if !tt.want.MatchString(id) {
				t.Errorf("NewID(%q) = %q", tt.prefix, id)
			}
		})
	}

	if NewID("x") == NewID("x") {
		t.Error("expected distinct ids")
	}
}
