package server

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pharos-dev/pharos/internal/correlation/service"
	"github.com/pharos-dev/pharos/internal/ingest/buffer"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	v1 "go.opentelemetry.io/proto/otlp/logs/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type LogServiceServerImpl struct {
	protoLogs.UnimplementedLogsServiceServer
	writeBuffer Appender[model.LogEntry]
	resolver    service.Resolver
	logger      *zap.Logger
}

func NewLogServiceServerImpl(
	logger *zap.Logger,
	writeBuffer Appender[model.LogEntry],
	resolver service.Resolver,
) *LogServiceServerImpl {
	logger.Info("Creating new LogServiceServerImpl")
	return &LogServiceServerImpl{
		logger:      logger,
		writeBuffer: writeBuffer,
		resolver:    resolver,
	}
}

func (lss *LogServiceServerImpl) Export(
	ctx context.Context,
	req *protoLogs.ExportLogsServiceRequest,
) (*protoLogs.ExportLogsServiceResponse, error) {
	var entries []model.LogEntry
	for _, resourceLogs := range req.ResourceLogs {
		var resourceAttributes map[string]string
		if resourceLogs.Resource != nil {
			resourceAttributes = attributeMap(resourceLogs.Resource.Attributes)
		}
		for _, scopeLogs := range resourceLogs.ScopeLogs {
			for _, record := range scopeLogs.LogRecords {
				entries = append(entries, lss.typeLog(ctx, record, resourceAttributes))
			}
		}
	}
	if err := lss.writeBuffer.AppendAll(entries); err != nil {
		if errors.Is(err, buffer.ErrBufferFull) {
			return nil, status.Error(codes.ResourceExhausted, "log buffer at capacity")
		}
		lss.logger.Error("failed to buffer log batch", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to accept log records")
	}
	return &protoLogs.ExportLogsServiceResponse{}, nil
}

func (lss *LogServiceServerImpl) typeLog(
	ctx context.Context,
	record *v1.LogRecord,
	resourceAttributes map[string]string,
) model.LogEntry {
	attributes := attributeMap(record.Attributes)
	envelope := lss.resolver.Resolve(ctx, mergedAttributes(resourceAttributes, attributes))
	if traceID := hex.EncodeToString(record.TraceId); traceID != "" {
		envelope.TraceID = traceID
	}
	if spanID := hex.EncodeToString(record.SpanId); spanID != "" {
		envelope.SpanID = spanID
	}

	timestamp := time.Unix(0, int64(record.TimeUnixNano)).UTC()
	if record.TimeUnixNano == 0 {
		timestamp = time.Now().UTC()
	}
	return model.LogEntry{
		Id:         uuid.NewString(),
		Timestamp:  timestamp,
		Level:      severityLevel(record.SeverityNumber),
		Message:    record.Body.GetStringValue(),
		Attributes: attributes,
		Envelope:   envelope,
	}
}

func severityLevel(severityNumber v1.SeverityNumber) model.Level {
	switch {
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_ERROR:
		return model.ErrorLevel
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_WARN:
		return model.WarnLevel
	case severityNumber >= v1.SeverityNumber_SEVERITY_NUMBER_INFO:
		return model.InfoLevel
	case severityNumber > v1.SeverityNumber_SEVERITY_NUMBER_UNSPECIFIED:
		return model.DebugLevel
	default:
		return model.InfoLevel
	}
}
