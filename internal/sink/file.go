package sink

import (
	"context"
	"fmt"
	"os"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

// FileSink appends formatted records to a file.
type FileSink struct {
	f         *os.File
	formatter Formatter
}

func NewFileSink(path string, formatter Formatter) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening sink file: %w", err)
	}
	return &FileSink{f: f, formatter: formatter}, nil
}

func (s *FileSink) Write(_ context.Context, rec model.Record) error {
	out, err := s.formatter.Format(rec)
	if err != nil {
		return err
	}
	_, err = s.f.Write(append(out, '\n'))
	return err
}

func (s *FileSink) Close() error {
	return s.f.Close()
}
