package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

// batchRecorder stands in for the insert path so batching behavior can be
// exercised without a live server.
type batchRecorder struct {
	mu       sync.Mutex
	inserted []model.Record
	failures int
}

func (b *batchRecorder) insert(_ context.Context, recs []model.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("insert failed")
	}
	b.inserted = append(b.inserted, recs...)
	return nil
}

func (b *batchRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inserted)
}

func newBatchingSink(rec *batchRecorder, batchSize int, interval time.Duration) *ClickHouseSink {
	s := &ClickHouseSink{
		insert:        rec.insert,
		batchSize:     batchSize,
		flushInterval: interval,
		batch:         make([]model.Record, 0, batchSize),
		done:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// A single record below the batch size must still reach the server within
// the flush interval, without waiting for further writes.
func TestClickHouseSinkFlushesOnInterval(t *testing.T) {
	rec := &batchRecorder{}
	snk := newBatchingSink(rec, 100, 20*time.Millisecond)

	require.NoError(t, snk.Write(context.Background(), testRecord("lonely")))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, snk.Close())
	assert.Equal(t, "lonely", rec.inserted[0].Line)
}

func TestClickHouseSinkFlushesOnBatchSize(t *testing.T) {
	rec := &batchRecorder{}
	snk := newBatchingSink(rec, 2, time.Hour)

	require.NoError(t, snk.Write(context.Background(), testRecord("one")))
	assert.Zero(t, rec.count())
	require.NoError(t, snk.Write(context.Background(), testRecord("two")))
	assert.Equal(t, 2, rec.count())

	require.NoError(t, snk.Close())
}

// A failed size-triggered flush surfaces the error and hands the record back
// to the caller, so the Writer's retry does not duplicate it.
func TestClickHouseSinkReturnsRecordOnFailedFlush(t *testing.T) {
	rec := &batchRecorder{failures: 1}
	snk := newBatchingSink(rec, 2, time.Hour)

	require.NoError(t, snk.Write(context.Background(), testRecord("one")))
	require.Error(t, snk.Write(context.Background(), testRecord("two")))
	assert.Zero(t, rec.count())

	require.NoError(t, snk.Write(context.Background(), testRecord("two")))
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, "one", rec.inserted[0].Line)
	assert.Equal(t, "two", rec.inserted[1].Line)

	require.NoError(t, snk.Close())
}

func TestClickHouseSinkCloseFlushesRemainder(t *testing.T) {
	rec := &batchRecorder{}
	snk := newBatchingSink(rec, 100, time.Hour)

	require.NoError(t, snk.Write(context.Background(), testRecord("pending")))
	require.NoError(t, snk.Close())
	assert.Equal(t, 1, rec.count())
}
