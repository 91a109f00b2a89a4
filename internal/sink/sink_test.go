package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewlettpackard/woodchipper/internal/model"
	"github.com/hewlettpackard/woodchipper/internal/pipeline"
)

var testTarget = model.Target{Namespace: "default", Pod: "web-1", Container: "app", UID: "uid-1"}

func testRecord(line string) model.Record {
	return model.Record{
		Target: testTarget,
		Time:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Line:   line,
	}
}

// recordingSink fails the first `failures` writes, or any record whose line
// is "poison", and remembers what it accepted.
type recordingSink struct {
	mu       sync.Mutex
	writes   []model.Record
	failures int
	closed   bool
}

func (s *recordingSink) Write(_ context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("destination unavailable")
	}
	if rec.Line == "poison" {
		return errors.New("destination unavailable")
	}
	s.writes = append(s.writes, rec)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, rec := range s.writes {
		out = append(out, rec.Line)
	}
	return out
}

func runWriter(t *testing.T, w *Writer, records ...model.Record) {
	t.Helper()
	ch := make(chan model.Record, len(records))
	for _, rec := range records {
		ch <- rec
	}
	close(ch)
	w.Run(context.Background(), ch)
}

func TestWriterRetriesTransientFailure(t *testing.T) {
	snk := &recordingSink{failures: 2}
	diag := pipeline.NewDiagnostics()
	w := NewWriter(snk, diag, 3, time.Millisecond)

	runWriter(t, w, testRecord("hello"))

	assert.Equal(t, []string{"hello"}, snk.lines())
	assert.True(t, snk.closed)

	snap := diag.Snapshot()
	assert.Equal(t, uint64(2), snap.SinkRetries)
	assert.Equal(t, uint64(1), snap.RecordsWritten)
	assert.Zero(t, snap.RecordsDropped)
}

func TestWriterDropsAfterRetryBudgetAndKeepsGoing(t *testing.T) {
	snk := &recordingSink{}
	diag := pipeline.NewDiagnostics()
	w := NewWriter(snk, diag, 2, time.Millisecond)

	runWriter(t, w, testRecord("poison"), testRecord("after"))

	assert.Equal(t, []string{"after"}, snk.lines())

	snap := diag.Snapshot()
	assert.Equal(t, uint64(1), snap.RecordsDropped)
	assert.Equal(t, uint64(1), snap.RecordsWritten)
	// Two retries follow the initial attempt for the poisoned record.
	assert.Equal(t, uint64(2), snap.SinkRetries)
}

func TestTextFormatter(t *testing.T) {
	out, err := TextFormatter{}.Format(testRecord("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T10:00:00Z default/web-1/app hello world", string(out))
}

func TestJSONFormatter(t *testing.T) {
	out, err := JSONFormatter{}.Format(testRecord("hello"))
	require.NoError(t, err)

	var decoded jsonRecord
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "default", decoded.Namespace)
	assert.Equal(t, "web-1", decoded.Pod)
	assert.Equal(t, "app", decoded.Container)
	assert.Equal(t, "hello", decoded.Line)
	assert.True(t, decoded.Time.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestConsoleSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	snk := NewConsoleSink(&buf, TextFormatter{})

	require.NoError(t, snk.Write(context.Background(), testRecord("one")))
	require.NoError(t, snk.Write(context.Background(), testRecord("two")))

	got := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "one")
	assert.Contains(t, got[1], "two")
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")

	snk, err := NewFileSink(path, TextFormatter{})
	require.NoError(t, err)
	require.NoError(t, snk.Write(context.Background(), testRecord("persisted")))
	require.NoError(t, snk.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default/web-1/app persisted")
}
