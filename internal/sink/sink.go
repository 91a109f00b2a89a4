package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hewlettpackard/woodchipper/internal/model"
	"github.com/hewlettpackard/woodchipper/internal/pipeline"
)

const (
	defaultMaxRetries = 3
	defaultRetryWait  = 500 * time.Millisecond
)

// Sink delivers one formatted record to a destination. Write errors are
// treated as retryable by the Writer.
type Sink interface {
	Write(ctx context.Context, rec model.Record) error
	Close() error
}

// Writer is the single consumer of the multiplexed record stream. Failed
// deliveries are retried with exponential backoff up to a bounded number of
// attempts; a record that still fails is dropped and counted, so one sink
// outage never stalls the tail.
type Writer struct {
	sink       Sink
	diag       *pipeline.Diagnostics
	maxRetries uint64
	retryWait  time.Duration
}

func NewWriter(sink Sink, diag *pipeline.Diagnostics, maxRetries uint64, retryWait time.Duration) *Writer {
	if diag == nil {
		diag = pipeline.NewDiagnostics()
	}
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}
	return &Writer{
		sink:       sink,
		diag:       diag,
		maxRetries: maxRetries,
		retryWait:  retryWait,
	}
}

// Run delivers records until the channel closes, then closes the sink.
// Deliveries use a context detached from cancellation so records already
// buffered in the pipeline still drain during shutdown; the retry budget
// keeps that drain bounded.
func (w *Writer) Run(ctx context.Context, records <-chan model.Record) {
	writeCtx := context.WithoutCancel(ctx)

	for rec := range records {
		w.deliver(writeCtx, rec)
	}

	if err := w.sink.Close(); err != nil {
		slog.Warn("sink close failed", "error", err)
	}
}

func (w *Writer) deliver(ctx context.Context, rec model.Record) {
	attempt := 0
	op := func() error {
		// Only attempts after the first count as retries.
		if attempt > 0 {
			w.diag.IncSinkRetries()
		}
		attempt++
		return w.sink.Write(ctx, rec)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retryWait
	policy.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithMaxRetries(policy, w.maxRetries)); err != nil {
		w.diag.IncRecordsDropped()
		slog.Warn("record dropped after retries", "target", rec.Target.String(), "error", err)
		return
	}
	w.diag.IncRecordsWritten()
}
