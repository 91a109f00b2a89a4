package pipeline

import (
	"sync"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

const (
	defaultOutputBuffer = 1024
	defaultHandleBuffer = 256
)

// Mux fans records from many stream readers into one bounded output
// channel. Each producer gets its own bounded input channel, so a slow sink
// eventually blocks the producers rather than growing memory. Records from
// one producer are never reordered; records across producers may interleave
// arbitrarily.
type Mux struct {
	out       chan model.Record
	handleBuf int
	wg        sync.WaitGroup
}

func NewMux(outputBuffer, handleBuffer int) *Mux {
	if outputBuffer <= 0 {
		outputBuffer = defaultOutputBuffer
	}
	if handleBuffer <= 0 {
		handleBuffer = defaultHandleBuffer
	}
	return &Mux{
		out:       make(chan model.Record, outputBuffer),
		handleBuf: handleBuffer,
	}
}

// Attach registers one producer and returns its input channel. The producer
// must close the channel when it is done; buffered records are drained into
// the output even after that. Sends block while the buffer is full, which is
// how backpressure reaches the stream readers.
func (m *Mux) Attach() chan model.Record {
	in := make(chan model.Record, m.handleBuf)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for rec := range in {
			m.out <- rec
		}
	}()
	return in
}

func (m *Mux) Records() <-chan model.Record {
	return m.out
}

// Close waits for every attached producer to finish draining, then closes
// the output channel. Attach must not be called afterwards.
func (m *Mux) Close() {
	m.wg.Wait()
	close(m.out)
}
