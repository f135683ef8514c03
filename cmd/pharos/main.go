package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	alertingService "github.com/pharos-dev/pharos/internal/alerting/service"
	apiRouter "github.com/pharos-dev/pharos/internal/api/router"
	"github.com/pharos-dev/pharos/internal/auth"
	"github.com/pharos-dev/pharos/internal/coldstore"
	"github.com/pharos-dev/pharos/internal/config"
	correlationService "github.com/pharos-dev/pharos/internal/correlation/service"
	"github.com/pharos-dev/pharos/internal/hotstore"
	"github.com/pharos-dev/pharos/internal/ingest/buffer"
	ingestServer "github.com/pharos-dev/pharos/internal/ingest/server"
	livetailService "github.com/pharos-dev/pharos/internal/livetail/service"
	"github.com/pharos-dev/pharos/internal/metrics"
	queryService "github.com/pharos-dev/pharos/internal/query/service"
	rotationService "github.com/pharos-dev/pharos/internal/rotation/service"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"github.com/spf13/cobra"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	protoMetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
)

const (
	sessionCacheSize = 100_000
	seriesCacheSize  = 100_000

	httpShutdownTimeout = 10 * time.Second
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:   "pharos",
		Short: "Telemetry backbone: OTLP ingest, tiered storage, queries, and alerting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hot, err := hotstore.New(ctx, cfg.Postgres.URL, logger)
	if err != nil {
		logger.Error("Failed to connect to hot store", zap.Error(err))
		return err
	}
	defer hot.Close()
	if err := hot.Bootstrap(ctx); err != nil {
		logger.Error("Failed to bootstrap hot store schema", zap.Error(err))
		return err
	}

	objects, err := coldstore.NewFSStore(cfg.ColdStore.Dir)
	if err != nil {
		logger.Error("Failed to open cold store", zap.Error(err))
		return err
	}

	serverMetrics := metrics.New()
	checker := auth.NewStaticChecker(tokenGrants(cfg.Auth))
	eventBus := EventBus.New()
	hub := livetailService.NewHub(eventBus, logger)

	sessionCache, err := correlationService.NewSessionCache(sessionCacheSize)
	if err != nil {
		logger.Error("Failed to create session cache", zap.Error(err))
		return err
	}
	resolver := correlationService.NewResolverImpl(noSessionDirectory{}, sessionCache, logger)

	logBuffer := buffer.NewWriteBuffer[model.LogEntry](cfg.Buffer.Capacity, cfg.Buffer.FlushThreshold).
		WithRejectHook(droppedCounter(serverMetrics, model.SignalLogs))
	spanBuffer := buffer.NewWriteBuffer[model.Span](cfg.Buffer.Capacity, cfg.Buffer.FlushThreshold).
		WithRejectHook(droppedCounter(serverMetrics, model.SignalSpans))
	sampleBuffer := buffer.NewWriteBuffer[model.MetricSample](cfg.Buffer.Capacity, cfg.Buffer.FlushThreshold).
		WithRejectHook(droppedCounter(serverMetrics, model.SignalMetrics))

	logFlusher := buffer.NewFlusher(
		"logs",
		logBuffer,
		countedFlush(hot.InsertLogs, serverMetrics, model.SignalLogs),
		func(batch []model.LogEntry) {
			hub.PublishLogs(batch)
			serverMetrics.TailRecordsSent.Add(float64(len(batch)))
		},
		logger,
	).WithInterval(cfg.Buffer.FlushInterval)
	spanFlusher := buffer.NewFlusher(
		"spans",
		spanBuffer,
		countedFlush(hot.InsertSpans, serverMetrics, model.SignalSpans),
		nil,
		logger,
	).WithInterval(cfg.Buffer.FlushInterval)
	sampleFlusher := buffer.NewFlusher(
		"metrics",
		sampleBuffer,
		countedFlush(hot.InsertSamples, serverMetrics, model.SignalMetrics),
		nil,
		logger,
	).WithInterval(cfg.Buffer.FlushInterval)

	rotator := rotationService.NewRotator(hot, objects, cfg.Rotation.Interval, logger).
		WithBatchHook(func(batch model.RotationBatch) {
			serverMetrics.BatchesRotated.WithLabelValues(string(batch.Signal)).Inc()
		})
	engine := queryService.NewEngine(hot, coldstore.NewReader(objects, logger), logger)
	evaluator := alertingService.NewEvaluator(hot, engine, firedCounter{serverMetrics}, cfg.Alerting.Interval, logger)
	rules := alertingService.NewRulesService(hot, checker, logger)

	seriesCache, err := ingestServer.NewSeriesCache(seriesCacheSize)
	if err != nil {
		logger.Error("Failed to create series cache", zap.Error(err))
		return err
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(ingestServer.NewAuthInterceptor(checker)))
	protoTrace.RegisterTraceServiceServer(grpcServer, ingestServer.NewTraceServiceServerImpl(logger, spanBuffer, resolver))
	protoLogs.RegisterLogsServiceServer(grpcServer, ingestServer.NewLogServiceServerImpl(logger, logBuffer, resolver))
	protoMetrics.RegisterMetricsServiceServer(grpcServer, ingestServer.NewMetricServiceServerImpl(logger, sampleBuffer, hot, seriesCache, resolver))

	httpServer := &http.Server{
		Addr: cfg.Server.HTTPListenAddr,
		Handler: apiRouter.CreateRouter(
			engine,
			rules,
			hub,
			checker,
			hot,
			serverMetrics.Handler(),
			logger,
		),
	}

	// Background workers stop with workerCancel, after ingest has quiesced.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	for _, worker := range []func(context.Context){
		logFlusher.Run,
		spanFlusher.Run,
		sampleFlusher.Run,
		rotator.Run,
		evaluator.Run,
	} {
		workers.Add(1)
		go func(run func(context.Context)) {
			defer workers.Done()
			run(workerCtx)
		}(worker)
	}

	listener, err := net.Listen("tcp", cfg.Server.GRPCListenAddr)
	if err != nil {
		logger.Error("Failed to listen for gRPC", zap.Error(err))
		workerCancel()
		workers.Wait()
		return err
	}
	go func() {
		logger.Info("gRPC ingest listening", zap.String("addr", cfg.Server.GRPCListenAddr))
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
			stop()
		}
	}()
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.Server.HTTPListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	// Stop accepting new telemetry first so the final flush drains
	// everything that was acknowledged.
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	cancel()

	workerCancel()
	workers.Wait()
	logger.Info("Shutdown complete")
	return nil
}

// countedFlush layers ingest/failure counters over a hot store insert.
func countedFlush[T any](
	insert func(ctx context.Context, batch []T) error,
	serverMetrics *metrics.Metrics,
	signal model.Signal,
) buffer.FlushFunc[T] {
	return func(ctx context.Context, batch []T) error {
		if err := insert(ctx, batch); err != nil {
			serverMetrics.FlushFailures.WithLabelValues(string(signal)).Inc()
			return err
		}
		serverMetrics.RecordsIngested.WithLabelValues(string(signal)).Add(float64(len(batch)))
		return nil
	}
}

// droppedCounter counts records turned away by a full write buffer.
func droppedCounter(serverMetrics *metrics.Metrics, signal model.Signal) func(int) {
	counter := serverMetrics.RecordsDropped.WithLabelValues(string(signal))
	return func(rejected int) { counter.Add(float64(rejected)) }
}

// firedCounter bridges evaluator notifications into the metrics registry.
type firedCounter struct {
	metrics *metrics.Metrics
}

func (f firedCounter) RuleFired(rule model.AlertRule, event model.AlertEvent) {
	f.metrics.AlertEventsFired.Inc()
}

func (f firedCounter) RuleResolved(rule model.AlertRule, resolvedAt time.Time) {}

// noSessionDirectory is the default when no external session directory is
// configured: session ids pass through unresolved.
type noSessionDirectory struct{}

func (noSessionDirectory) Lookup(ctx context.Context, sessionID string) (correlationService.SessionInfo, error) {
	return correlationService.SessionInfo{}, correlationService.ErrSessionNotFound
}

func tokenGrants(cfg config.AuthConfig) []auth.TokenGrant {
	grants := make([]auth.TokenGrant, 0, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		capabilities := make([]auth.Capability, 0, len(token.Capabilities))
		for _, capability := range token.Capabilities {
			capabilities = append(capabilities, auth.Capability(capability))
		}
		grants = append(grants, auth.TokenGrant{
			Token:        token.Token,
			Capabilities: capabilities,
			Projects:     token.Projects,
		})
	}
	return grants
}
