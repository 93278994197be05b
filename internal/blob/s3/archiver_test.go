package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemWriter() *memWriter { return &memWriter{objects: map[string][]byte{}} }

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.putErr != nil {
		return w.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.objects[path]
	return ok, nil
}

type sliceSource struct {
	recs    []domain.TradeRecord
	deleted time.Time
}

func (s *sliceSource) ListBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, r := range s.recs {
		if r.Timestamp.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *sliceSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deleted = before
	return 2, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiveCutoff(t *testing.T) {
	now := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), ArchiveCutoff(now, 90*24*time.Hour))
}

func TestArchiver_WritesOneFilePerMonth(t *testing.T) {
	src := &sliceSource{recs: []domain.TradeRecord{
		{ID: "1", Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Symbol: "WIF", Outcome: domain.OutcomeExecuted},
		{ID: "2", Timestamp: time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC), Symbol: "BONK", Outcome: domain.OutcomeFailed},
		{ID: "3", Timestamp: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), Symbol: "WIF", Outcome: domain.OutcomeExecuted},
		{ID: "4", Timestamp: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Symbol: "WIF", Outcome: domain.OutcomeExecuted},
	}}
	w := newMemWriter()
	audit := &memAudit{}
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	n, err := NewArchiver(w, src, audit, discardLogger()).ArchiveTradeRecords(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.Contains(t, w.objects, "archive/trade_records/2026-01.jsonl")
	require.Contains(t, w.objects, "archive/trade_records/2026-02.jsonl")
	assert.Len(t, w.objects, 2)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(w.objects["archive/trade_records/2026-01.jsonl"]))
	for sc.Scan() {
		var r domain.TradeRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"1", "2"}, ids)

	assert.Equal(t, cutoff, src.deleted)
	assert.Equal(t, []string{"archive.trade_records"}, audit.events)
}

func TestArchiver_NothingToDo(t *testing.T) {
	w := newMemWriter()
	n, err := NewArchiver(w, &sliceSource{}, nil, discardLogger()).ArchiveTradeRecords(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiver_UploadFailureSkipsPrune(t *testing.T) {
	src := &sliceSource{recs: []domain.TradeRecord{{ID: "1", Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)}}}
	w := newMemWriter()
	w.putErr = errors.New("bucket gone")

	_, err := NewArchiver(w, src, nil, discardLogger()).ArchiveTradeRecords(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, src.deleted.IsZero())
}

// fakeS3 answers path-style PUT and HEAD requests for one bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	key := strings.TrimPrefix(r.URL.Path, "/archive-bucket/")
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		f.objects[key] = true
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if !f.objects[key] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestWriter_AgainstS3Endpoint(t *testing.T) {
	fake := &fakeS3{objects: map[string]bool{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	client, err := New(ctx, ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive-bucket",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	w := NewWriter(client)

	ok, err := w.Exists(ctx, "archive/trade_records/2026-01.jsonl")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, w.Put(ctx, "archive/trade_records/2026-01.jsonl", strings.NewReader("{}\n"), "application/x-ndjson"))

	ok, err = w.Exists(ctx, "archive/trade_records/2026-01.jsonl")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "", withScheme("", true))
	assert.Equal(t, "https://e2.example.com", withScheme("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "http://minio:9000", withScheme("http://minio:9000", true))
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}
