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
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	v1 "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Appender is the write-side slice of the bounded buffer each Export server
// appends to. Batches land whole or not at all, so a rejected export leaves
// nothing behind for a retry to duplicate.
type Appender[T any] interface {
	AppendAll(items []T) error
}

type TraceServiceServerImpl struct {
	protoTrace.UnimplementedTraceServiceServer
	writeBuffer Appender[model.Span]
	resolver    service.Resolver
	logger      *zap.Logger
}

func NewTraceServiceServerImpl(
	logger *zap.Logger,
	writeBuffer Appender[model.Span],
	resolver service.Resolver,
) *TraceServiceServerImpl {
	logger.Info("Creating new TraceServiceServerImpl")
	return &TraceServiceServerImpl{
		logger:      logger,
		writeBuffer: writeBuffer,
		resolver:    resolver,
	}
}

func (tss *TraceServiceServerImpl) Export(
	ctx context.Context,
	req *protoTrace.ExportTraceServiceRequest,
) (*protoTrace.ExportTraceServiceResponse, error) {
	var spans []model.Span
	for _, resourceSpans := range req.ResourceSpans {
		resourceAttributes := resourceAttributeMap(resourceSpans)
		for _, scopeSpans := range resourceSpans.ScopeSpans {
			for _, span := range scopeSpans.Spans {
				spans = append(spans, tss.typeSpan(ctx, span, resourceAttributes))
			}
		}
	}
	if err := tss.writeBuffer.AppendAll(spans); err != nil {
		if errors.Is(err, buffer.ErrBufferFull) {
			return nil, status.Error(codes.ResourceExhausted, "span buffer at capacity")
		}
		tss.logger.Error("failed to buffer span batch", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to accept spans")
	}
	return &protoTrace.ExportTraceServiceResponse{}, nil
}

func resourceAttributeMap(resourceSpans *v1.ResourceSpans) map[string]string {
	if resourceSpans.Resource == nil {
		return nil
	}
	return attributeMap(resourceSpans.Resource.Attributes)
}

func (tss *TraceServiceServerImpl) typeSpan(
	ctx context.Context,
	span *v1.Span,
	resourceAttributes map[string]string,
) model.Span {
	attributes := attributeMap(span.Attributes)
	envelope := tss.resolver.Resolve(ctx, mergedAttributes(resourceAttributes, attributes))
	// Wire identifiers override anything claimed in attributes.
	envelope.TraceID = hex.EncodeToString(span.TraceId)
	envelope.SpanID = hex.EncodeToString(span.SpanId)

	return model.Span{
		Id:           uuid.NewString(),
		TraceID:      envelope.TraceID,
		SpanID:       envelope.SpanID,
		ParentSpanID: hex.EncodeToString(span.ParentSpanId),
		Operation:    span.Name,
		StartTime:    time.Unix(0, int64(span.StartTimeUnixNano)).UTC(),
		EndTime:      time.Unix(0, int64(span.EndTimeUnixNano)).UTC(),
		Status:       spanStatus(span),
		Attributes:   attributes,
		Events:       spanEvents(span),
		Envelope:     envelope,
	}
}

func spanEvents(span *v1.Span) []model.SpanEvent {
	if len(span.Events) == 0 {
		return nil
	}
	events := make([]model.SpanEvent, len(span.Events))
	for i, event := range span.Events {
		events[i] = model.SpanEvent{
			Name:       event.Name,
			Timestamp:  time.Unix(0, int64(event.TimeUnixNano)).UTC(),
			Attributes: attributeMap(event.Attributes),
		}
	}
	return events
}

func spanStatus(span *v1.Span) model.SpanStatus {
	if span.Status == nil {
		return model.StatusUnset
	}
	switch span.Status.Code {
	case v1.Status_STATUS_CODE_OK:
		return model.StatusOk
	case v1.Status_STATUS_CODE_ERROR:
		return model.StatusError
	default:
		return model.StatusUnset
	}
}
