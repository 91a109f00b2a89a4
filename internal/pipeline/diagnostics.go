package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type Snapshot struct {
	TargetsAdded      uint64
	TargetsRemoved    uint64
	HandlesTerminated uint64
	RecordsRead       uint64
	RecordsWritten    uint64
	RecordsDropped    uint64
	Reconnects        uint64
	StreamErrors      uint64
	SinkRetries       uint64
}

// Diagnostics counts pipeline activity. Counters are cheap enough to bump
// from every stream goroutine.
type Diagnostics struct {
	targetsAdded      atomic.Uint64
	targetsRemoved    atomic.Uint64
	handlesTerminated atomic.Uint64
	recordsRead       atomic.Uint64
	recordsWritten    atomic.Uint64
	recordsDropped    atomic.Uint64
	reconnects        atomic.Uint64
	streamErrors      atomic.Uint64
	sinkRetries       atomic.Uint64
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

func (d *Diagnostics) IncTargetsAdded() {
	d.targetsAdded.Add(1)
}

func (d *Diagnostics) IncTargetsRemoved() {
	d.targetsRemoved.Add(1)
}

func (d *Diagnostics) IncHandlesTerminated() {
	d.handlesTerminated.Add(1)
}

func (d *Diagnostics) IncRecordsRead() {
	d.recordsRead.Add(1)
}

func (d *Diagnostics) IncRecordsWritten() {
	d.recordsWritten.Add(1)
}

func (d *Diagnostics) IncRecordsDropped() {
	d.recordsDropped.Add(1)
}

func (d *Diagnostics) IncReconnects() {
	d.reconnects.Add(1)
}

func (d *Diagnostics) IncStreamErrors() {
	d.streamErrors.Add(1)
}

func (d *Diagnostics) IncSinkRetries() {
	d.sinkRetries.Add(1)
}

func (d *Diagnostics) Snapshot() Snapshot {
	return Snapshot{
		TargetsAdded:      d.targetsAdded.Load(),
		TargetsRemoved:    d.targetsRemoved.Load(),
		HandlesTerminated: d.handlesTerminated.Load(),
		RecordsRead:       d.recordsRead.Load(),
		RecordsWritten:    d.recordsWritten.Load(),
		RecordsDropped:    d.recordsDropped.Load(),
		Reconnects:        d.reconnects.Load(),
		StreamErrors:      d.streamErrors.Load(),
		SinkRetries:       d.sinkRetries.Load(),
	}
}

func StartDiagnosticsReporter(ctx context.Context, diagnostics *Diagnostics, interval time.Duration) {
	if diagnostics == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := diagnostics.Snapshot()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := diagnostics.Snapshot()
			slog.Info("pipeline diagnostics",
				"targets_added", current.TargetsAdded,
				"targets_removed", current.TargetsRemoved,
				"handles_terminated", current.HandlesTerminated,
				"records_read", current.RecordsRead,
				"records_written", current.RecordsWritten,
				"records_dropped", current.RecordsDropped,
				"reconnects", current.Reconnects,
				"stream_errors", current.StreamErrors,
				"sink_retries", current.SinkRetries,
				"records_read_delta", current.RecordsRead-last.RecordsRead,
				"records_written_delta", current.RecordsWritten-last.RecordsWritten,
				"records_dropped_delta", current.RecordsDropped-last.RecordsDropped,
			)
			last = current
		}
	}
}
