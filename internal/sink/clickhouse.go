package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

// ClickHouseOptions holds connection and batching settings.
type ClickHouseOptions struct {
	Addr          string
	Database      string
	User          string
	Password      string
	BatchSize     int
	FlushInterval time.Duration
}

// ClickHouseSink buffers records and inserts them in batches. A full batch
// is flushed inline by Write; a background ticker flushes whatever is
// pending once the flush interval passes, so a quiet stream never leaves
// records stranded in the buffer.
type ClickHouseSink struct {
	conn          driver.Conn
	insert        func(ctx context.Context, recs []model.Record) error
	batchSize     int
	flushInterval time.Duration

	mu    sync.Mutex
	batch []model.Record

	done     chan struct{}
	loopDone chan struct{}
}

func NewClickHouseSink(opts ClickHouseOptions) (*ClickHouseSink, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}
	if err := migrate(conn); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		conn:          conn,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		batch:         make([]model.Record, 0, opts.BatchSize),
		done:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	s.insert = s.send
	go s.flushLoop()
	return s, nil
}

func migrate(conn driver.Conn) error {
	schema := `
	CREATE TABLE IF NOT EXISTS container_logs (
		timestamp DateTime64(9),
		namespace String,
		pod String,
		container String,
		line String
	) ENGINE = MergeTree()
	ORDER BY (namespace, pod, container, timestamp)
	`
	return conn.Exec(context.Background(), schema)
}

func (s *ClickHouseSink) Write(ctx context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, rec)
	if len(s.batch) < s.batchSize {
		return nil
	}
	if err := s.flushLocked(ctx); err != nil {
		// The caller retries the record, so pull it back out of the batch.
		s.batch = s.batch[:len(s.batch)-1]
		return err
	}
	return nil
}

func (s *ClickHouseSink) flushLoop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if err := s.flushLocked(context.Background()); err != nil {
				// Records stay batched for the next tick.
				slog.Warn("interval flush failed", "error", err)
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func (s *ClickHouseSink) flushLocked(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	if err := s.insert(ctx, s.batch); err != nil {
		return err
	}
	s.batch = s.batch[:0]
	return nil
}

func (s *ClickHouseSink) send(ctx context.Context, recs []model.Record) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO container_logs")
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := batch.Append(
			rec.Time,
			rec.Target.Namespace,
			rec.Target.Pod,
			rec.Target.Container,
			rec.Line,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

func (s *ClickHouseSink) Close() error {
	close(s.done)
	<-s.loopDone

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(context.Background()); err != nil {
		return err
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
