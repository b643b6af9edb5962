package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"signoff/internal/ack"
)

func ts(v int64) *int64 { return &v }

var sampleRows = []ack.Record{
	{DocumentID: "dokuwiki:acktest1", User: "max", LastMod: 1560805365, Ack: ts(1560805770)},
	{DocumentID: "dokuwiki:acktest3", User: "regular", LastMod: 1560805365, Ack: ts(1550801270)},
	{DocumentID: "dokuwiki:acktest2", User: "max", LastMod: 1560805365},
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRows); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := strings.Join([]string{
		"document,user,lastmod,ack,status",
		"dokuwiki:acktest1,max,2019-06-17T21:02:45Z,2019-06-17T21:09:30Z,current",
		"dokuwiki:acktest3,regular,2019-06-17T21:02:45Z,2019-02-22T02:07:50Z,outdated",
		"dokuwiki:acktest2,max,2019-06-17T21:02:45Z,,due",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Errorf("csv =\n%s\nwant\n%s", got, want)
	}
}

func TestWriteCSVQuotesFields(t *testing.T) {
	var buf bytes.Buffer
	rows := []ack.Record{{DocumentID: "ns:odd,id", User: `say "hi"`, LastMod: 0}}
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), `"ns:odd,id","say ""hi"""`) {
		t.Errorf("fields not quoted: %s", buf.String())
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"pending", "pending"},
		{"pattern wiki:**", "pattern-wiki-"},
		{"", "report"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

type fakeObjectStore struct {
	exists     bool
	existsErr  error
	madeBucket string
	putBucket  string
	putKey     string
	putType    string
	body       []byte
}

func (f *fakeObjectStore) BucketExists(context.Context, string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeObjectStore) MakeBucket(_ context.Context, name string, _ minio.MakeBucketOptions) error {
	f.madeBucket = name
	return nil
}

func (f *fakeObjectStore) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.putBucket, f.putKey, f.putType, f.body = bucket, key, opts.ContentType, data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestUploaderUpload(t *testing.T) {
	fake := &fakeObjectStore{}
	u := NewUploaderWithClient(fake, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	u.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	key, err := u.Upload(context.Background(), "pending", sampleRows)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if fake.madeBucket != "signoff-reports" || fake.putBucket != "signoff-reports" {
		t.Errorf("bucket made=%q put=%q", fake.madeBucket, fake.putBucket)
	}
	if !strings.HasPrefix(key, "reports/2024-03-09/pending-") || !strings.HasSuffix(key, ".csv") || key != fake.putKey {
		t.Errorf("key = %q (put %q)", key, fake.putKey)
	}
	if fake.putType != "text/csv" {
		t.Errorf("content type = %q", fake.putType)
	}
	if !bytes.HasPrefix(fake.body, []byte("document,user,lastmod,ack,status\n")) {
		t.Errorf("body = %q", fake.body)
	}
}

func TestUploaderBucketError(t *testing.T) {
	boom := errors.New("access denied")
	fake := &fakeObjectStore{existsErr: boom}
	u := NewUploaderWithClient(fake, "reports", nil)
	if _, err := u.Upload(context.Background(), "recent", nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if fake.putKey != "" {
		t.Error("nothing should be uploaded")
	}
}
