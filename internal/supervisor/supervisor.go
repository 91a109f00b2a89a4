package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hewlettpackard/woodchipper/internal/model"
	"github.com/hewlettpackard/woodchipper/internal/pipeline"
	"github.com/hewlettpackard/woodchipper/internal/resolver"
	"github.com/hewlettpackard/woodchipper/internal/stream"
)

const defaultGracePeriod = 5 * time.Second

// Supervisor owns the target-to-handle mapping. It spawns a stream handle
// when a target appears, cancels it when the target goes away, and reaps
// handles that terminate on their own. The mapping is touched only from the
// Run goroutine. One handle failing, hanging, or flooding never affects
// another: every handle has its own goroutine, context, and mux channel.
type Supervisor struct {
	streamer   stream.Streamer
	mux        *pipeline.Mux
	diag       *pipeline.Diagnostics
	grace      time.Duration
	handleOpts stream.Options

	handles  map[string]*runningHandle
	finished chan *runningHandle
}

type runningHandle struct {
	key    string
	target model.Target
	handle *stream.Handle
	cancel context.CancelFunc
	done   chan struct{}
}

func New(streamer stream.Streamer, mux *pipeline.Mux, diag *pipeline.Diagnostics, grace time.Duration, handleOpts stream.Options) *Supervisor {
	if diag == nil {
		diag = pipeline.NewDiagnostics()
	}
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &Supervisor{
		streamer:   streamer,
		mux:        mux,
		diag:       diag,
		grace:      grace,
		handleOpts: handleOpts,
		handles:    make(map[string]*runningHandle),
		finished:   make(chan *runningHandle),
	}
}

// Run consumes resolver events until ctx is cancelled or the event channel
// closes, then tears down every remaining handle and closes the mux output.
func (s *Supervisor) Run(ctx context.Context, events <-chan resolver.Event) {
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-s.finished:
			s.reap(r)
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case resolver.Added:
				s.add(ctx, ev.Target)
			case resolver.Removed:
				s.remove(ev.Target)
			}
		}
	}
}

func (s *Supervisor) add(ctx context.Context, target model.Target) {
	key := target.Key()
	if _, exists := s.handles[key]; exists {
		return
	}

	s.diag.IncTargetsAdded()
	slog.Info("target added", "target", target.String())

	in := s.mux.Attach()
	handleCtx, cancel := context.WithCancel(ctx)
	handle := stream.NewHandle(target, s.streamer, in, s.diag, s.handleOpts)

	r := &runningHandle{
		key:    key,
		target: target,
		handle: handle,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.handles[key] = r

	go func() {
		handle.Run(handleCtx)
		close(in)
		close(r.done)
		select {
		case s.finished <- r:
		case <-handleCtx.Done():
		}
	}()
}

func (s *Supervisor) remove(target model.Target) {
	r, ok := s.handles[target.Key()]
	if !ok {
		return
	}
	s.diag.IncTargetsRemoved()
	slog.Info("target removed", "target", target.String())
	s.stop(r)
	delete(s.handles, r.key)
}

// reap clears the mapping entry of a handle that terminated on its own,
// e.g. a container that finished. The entry may already have been replaced
// by a re-added target; only remove it if it is still ours.
func (s *Supervisor) reap(r *runningHandle) {
	if current, ok := s.handles[r.key]; ok && current == r {
		slog.Debug("handle terminated", "target", r.target.String())
		delete(s.handles, r.key)
	}
}

// stop cancels the handle and waits up to the grace period for it to exit.
// A handle that overstays is dropped from the mapping anyway; its goroutine
// unwinds as soon as its stream read or channel send unblocks.
func (s *Supervisor) stop(r *runningHandle) {
	r.cancel()
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.C:
		slog.Warn("handle did not stop within grace period, dropping", "target", r.target.String())
	}
}

func (s *Supervisor) teardown() {
	for key, r := range s.handles {
		s.stop(r)
		delete(s.handles, key)
	}
	s.mux.Close()
}
