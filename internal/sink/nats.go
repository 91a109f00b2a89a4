package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

const (
	natsClientName    = "woodchipper"
	natsTimeout       = 10 * time.Second
	natsReconnectWait = 5 * time.Second
	natsMaxReconnects = 10
)

// NATSOptions holds connection settings for the NATS sink.
type NATSOptions struct {
	URL           string
	Username      string
	Password      string
	SubjectPrefix string
}

// NATSSink publishes each record to a per-target subject,
// <prefix>.<namespace>.<pod>.<container>, encoded by the formatter.
type NATSSink struct {
	nc        *nats.Conn
	prefix    string
	formatter Formatter
}

func NewNATSSink(opts NATSOptions, formatter Formatter) (*NATSSink, error) {
	connOpts := []nats.Option{
		nats.Name(natsClientName),
		nats.Timeout(natsTimeout),
		nats.ReconnectWait(natsReconnectWait),
		nats.MaxReconnects(natsMaxReconnects),
	}
	if opts.Username != "" && opts.Password != "" {
		connOpts = append(connOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	nc, err := nats.Connect(opts.URL, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	slog.Info("connected to NATS server", "url", opts.URL)

	return &NATSSink{nc: nc, prefix: opts.SubjectPrefix, formatter: formatter}, nil
}

func (s *NATSSink) Write(_ context.Context, rec model.Record) error {
	data, err := s.formatter.Format(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s.%s", s.prefix, rec.Target.Namespace, rec.Target.Pod, rec.Target.Container)
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing record: %w", err)
	}
	return nil
}

// Close drains the connection so buffered publishes flush before exit.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
