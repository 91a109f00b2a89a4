package sink

import (
	"context"
	"io"
	"os"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

// ConsoleSink appends formatted records to a writer, one per line. It is
// written to from the single Writer goroutine only.
type ConsoleSink struct {
	w         io.Writer
	formatter Formatter
}

func NewConsoleSink(w io.Writer, formatter Formatter) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w, formatter: formatter}
}

func (s *ConsoleSink) Write(_ context.Context, rec model.Record) error {
	out, err := s.formatter.Format(rec)
	if err != nil {
		return err
	}
	_, err = s.w.Write(append(out, '\n'))
	return err
}

func (s *ConsoleSink) Close() error {
	return nil
}
