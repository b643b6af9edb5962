// Package export renders acknowledgement reports as CSV and optionally stores
// them in S3-compatible object storage.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"signoff/internal/ack"
)

// Header is the first CSV row of every report.
var Header = []string{"document", "user", "lastmod", "ack", "status"}

// Result contains a rendered report.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// WriteCSV writes one line per record. Timestamps are RFC 3339 in UTC, a
// missing acknowledgement is an empty cell.
func WriteCSV(w io.Writer, rows []ack.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		ackCell := ""
		if row.Ack != nil {
			ackCell = formatTime(*row.Ack)
		}
		if err := cw.Write([]string{
			row.DocumentID,
			row.User,
			formatTime(row.LastMod),
			ackCell,
			statusOf(row),
		}); err != nil {
			return fmt.Errorf("write row %s/%s: %w", row.DocumentID, row.User, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Render builds an in-memory CSV report named after kind.
func Render(kind string, rows []ack.Record) (*Result, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return nil, err
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(kind) + ".csv",
		MimeType: "text/csv",
	}, nil
}

func statusOf(r ack.Record) string {
	switch {
	case r.Current():
		return string(ack.StatusCurrent)
	case r.Outdated():
		return string(ack.StatusOutdated)
	default:
		return string(ack.StatusDue)
	}
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// sanitizeFilename keeps letters, digits, hyphens and underscores.
func sanitizeFilename(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			result = append(result, c)
		case c == ' ' || c == ':':
			result = append(result, '-')
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if len(result) == 0 {
		return "report"
	}
	return string(result)
}
