package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/hewlettpackard/woodchipper/internal/model"
	"github.com/hewlettpackard/woodchipper/internal/pipeline"
)

// Streamer supplies the raw log byte stream for a target. The stream may end
// (container finished) or error (connection drop); both are normal.
type Streamer interface {
	Open(ctx context.Context, target model.Target, since *time.Time) (io.ReadCloser, error)
}

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateBackingOff
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackingOff:
		return "backing-off"
	default:
		return "terminated"
	}
}

// Options tunes the reconnect schedule of a handle.
type Options struct {
	// Backoff is the delay schedule between reconnect attempts.
	Backoff wait.Backoff
	// ResetAfter is how long a stream must survive for the backoff
	// schedule to start over on the next failure.
	ResetAfter time.Duration
}

func DefaultOptions() Options {
	return Options{
		Backoff: wait.Backoff{
			Duration: 500 * time.Millisecond,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    64,
			Cap:      30 * time.Second,
		},
		ResetAfter: 30 * time.Second,
	}
}

// Handle owns one target's log stream: it connects, reads line-framed
// records into out, and reconnects with bounded backoff on transient
// failures. A clean end of stream means the container finished and the
// handle terminates. A partial final line is flushed as a record rather
// than discarded.
type Handle struct {
	target   model.Target
	streamer Streamer
	out      chan<- model.Record
	diag     *pipeline.Diagnostics
	opts     Options
	logger   *slog.Logger

	state    atomic.Int32
	connects int
	lastSeen time.Time

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewHandle(target model.Target, streamer Streamer, out chan<- model.Record, diag *pipeline.Diagnostics, opts Options) *Handle {
	if diag == nil {
		diag = pipeline.NewDiagnostics()
	}
	if opts.Backoff.Duration == 0 {
		opts = DefaultOptions()
	}
	return &Handle{
		target:   target,
		streamer: streamer,
		out:      out,
		diag:     diag,
		opts:     opts,
		logger:   slog.With("target", target.String()),
		sleep:    sleepCtx,
	}
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

// Run drives the connect/stream/backoff loop until the stream ends cleanly
// or ctx is cancelled. It never sends on out after returning.
func (h *Handle) Run(ctx context.Context) {
	defer func() {
		h.setState(StateTerminated)
		h.diag.IncHandlesTerminated()
	}()

	backoff := h.opts.Backoff

	for {
		h.setState(StateConnecting)
		rc, err := h.streamer.Open(ctx, h.target, h.cursor())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.diag.IncStreamErrors()
			h.logger.Warn("log stream open failed", "error", err)
			if !h.backOff(ctx, &backoff) {
				return
			}
			continue
		}

		h.setState(StateStreaming)
		if h.connects > 0 {
			h.diag.IncReconnects()
		}
		h.connects++

		started := time.Now()
		err = h.consume(ctx, rc)
		rc.Close()

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Clean end of stream: the container finished.
			h.logger.Debug("log stream ended")
			return
		}

		h.diag.IncStreamErrors()
		h.logger.Warn("log stream interrupted", "error", err)

		if time.Since(started) >= h.opts.ResetAfter {
			backoff = h.opts.Backoff
		}
		if !h.backOff(ctx, &backoff) {
			return
		}
	}
}

func (h *Handle) consume(ctx context.Context, rc io.ReadCloser) error {
	reader := bufio.NewReader(rc)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			rec := h.record(strings.TrimRight(line, "\r\n"))
			select {
			case h.out <- rec:
				h.diag.IncRecordsRead()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// record parses the kubelet timestamp prefix when present; the timestamp
// doubles as the resume cursor for reconnects.
func (h *Handle) record(line string) model.Record {
	ts := time.Now()
	if i := strings.IndexByte(line, ' '); i > 0 {
		if parsed, err := time.Parse(time.RFC3339Nano, line[:i]); err == nil {
			ts = parsed
			line = line[i+1:]
		}
	}
	if ts.After(h.lastSeen) {
		h.lastSeen = ts
	}
	return model.Record{Target: h.target, Time: ts, Line: line}
}

// cursor is best-effort: reconnecting at the last seen timestamp can repeat
// records produced in the same second, which beats losing them.
func (h *Handle) cursor() *time.Time {
	if h.lastSeen.IsZero() {
		return nil
	}
	t := h.lastSeen
	return &t
}

func (h *Handle) backOff(ctx context.Context, backoff *wait.Backoff) bool {
	h.setState(StateBackingOff)
	return h.sleep(ctx, backoff.Step())
}

func (h *Handle) setState(s State) {
	old := State(h.state.Swap(int32(s)))
	if old != s {
		h.logger.Debug("stream state changed", "from", old.String(), "to", s.String())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
