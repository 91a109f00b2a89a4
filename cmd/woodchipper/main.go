package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hewlettpackard/woodchipper/internal/config"
	"github.com/hewlettpackard/woodchipper/internal/kube"
	"github.com/hewlettpackard/woodchipper/internal/pipeline"
	"github.com/hewlettpackard/woodchipper/internal/resolver"
	"github.com/hewlettpackard/woodchipper/internal/sink"
	"github.com/hewlettpackard/woodchipper/internal/stream"
	"github.com/hewlettpackard/woodchipper/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("invalid configuration", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	})))

	client, contextNamespace, err := kube.NewClient()
	if err != nil {
		fatal("cluster unreachable", err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = contextNamespace
	}

	res, err := resolver.New(client, namespace, cfg.LabelSelector, cfg.PodQuery)
	if err != nil {
		fatal("invalid selector", err)
	}

	destination, err := buildSink(cfg)
	if err != nil {
		fatal("sink setup failed", err)
	}

	diagnostics := pipeline.NewDiagnostics()
	mux := pipeline.NewMux(cfg.OutputBuffer, cfg.HandleBuffer)
	writer := sink.NewWriter(destination, diagnostics, cfg.SinkRetries, cfg.SinkRetryWait)
	sup := supervisor.New(
		kube.PodLogStreamer{Client: client},
		mux,
		diagnostics,
		cfg.GracePeriod,
		stream.DefaultOptions(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("woodchipper starting",
		"namespace", namespace,
		"label_selector", cfg.LabelSelector,
		"pod_query", cfg.PodQuery,
		"sink", cfg.Sink,
	)

	events := res.Run(ctx)
	go pipeline.StartDiagnosticsReporter(ctx, diagnostics, cfg.DiagnosticsInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sup.Run(ctx, events)
	}()
	go func() {
		defer wg.Done()
		writer.Run(ctx, mux.Records())
	}()
	wg.Wait()

	slog.Info("woodchipper shut down cleanly")
}

func buildSink(cfg config.Config) (sink.Sink, error) {
	var formatter sink.Formatter
	switch cfg.Format {
	case "json":
		formatter = sink.JSONFormatter{}
	default:
		formatter = sink.TextFormatter{}
	}

	switch cfg.Sink {
	case "console":
		return sink.NewConsoleSink(os.Stdout, formatter), nil
	case "file":
		return sink.NewFileSink(cfg.FilePath, formatter)
	case "nats":
		return sink.NewNATSSink(sink.NATSOptions{
			URL:           cfg.NATS.URL,
			Username:      cfg.NATS.Username,
			Password:      cfg.NATS.Password,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, formatter)
	case "clickhouse":
		return sink.NewClickHouseSink(sink.ClickHouseOptions{
			Addr:          cfg.ClickHouse.Addr,
			Database:      cfg.ClickHouse.DB,
			User:          cfg.ClickHouse.User,
			Password:      cfg.ClickHouse.Password,
			BatchSize:     cfg.ClickHouse.BatchSize,
			FlushInterval: cfg.ClickHouse.FlushInterval,
		})
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
