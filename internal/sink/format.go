package sink

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

// Formatter renders one record for delivery, without a trailing newline.
type Formatter interface {
	Format(rec model.Record) ([]byte, error)
}

// TextFormatter prefixes each line with its timestamp and origin.
type TextFormatter struct{}

func (TextFormatter) Format(rec model.Record) ([]byte, error) {
	ts := rec.Time.Format(time.RFC3339)
	out := make([]byte, 0, len(ts)+len(rec.Line)+64)
	out = append(out, ts...)
	out = append(out, ' ')
	out = append(out, rec.Target.String()...)
	out = append(out, ' ')
	out = append(out, rec.Line...)
	return out, nil
}

type jsonRecord struct {
	Time      time.Time `json:"time"`
	Namespace string    `json:"namespace"`
	Pod       string    `json:"pod"`
	Container string    `json:"container"`
	Line      string    `json:"line"`
}

// JSONFormatter emits one flat JSON object per record.
type JSONFormatter struct{}

func (JSONFormatter) Format(rec model.Record) ([]byte, error) {
	return json.Marshal(jsonRecord{
		Time:      rec.Time,
		Namespace: rec.Target.Namespace,
		Pod:       rec.Target.Pod,
		Container: rec.Target.Container,
		Line:      rec.Line,
	})
}
