package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/span/model"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	"go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"math"
	"sort"
	"strconv"
	"time"
)

// SpanSender chunks and transmits one finished span.
type SpanSender interface {
	Send(ctx context.Context, span *model.Span) (int, error)
}

type Config struct {
	AgentID string
	// ApplicationName is used when a resource carries no service.name.
	ApplicationName string
	AgentStartTime  int64
}

type TraceServiceServerImpl struct {
	protoTrace.UnimplementedTraceServiceServer
	sender SpanSender
	config Config
	logger *zap.Logger
}

func NewTraceServiceServerImpl(
	sender SpanSender,
	config Config,
	logger *zap.Logger,
) TraceServiceServerImpl {
	logger.Info(
		"Creating new TraceServiceServerImpl",
		zap.String("agent_id", config.AgentID),
		zap.String("application_name", config.ApplicationName),
	)
	return TraceServiceServerImpl{
		sender: sender,
		config: config,
		logger: logger,
	}
}

// Export converts every OTLP span and sends it. Spans that cannot be
// converted or sent are reported back as rejected.
func (tss TraceServiceServerImpl) Export(
	ctx context.Context,
	req *protoTrace.ExportTraceServiceRequest,
) (*protoTrace.ExportTraceServiceResponse, error) {
	var rejected int64
	var lastErr error
	for _, resourceSpan := range req.ResourceSpans {
		serviceName := tss.getServiceName(resourceSpan)
		for _, libSpan := range resourceSpan.ScopeSpans {
			for _, otlpSpan := range libSpan.Spans {
				span, err := tss.getTypedSpan(otlpSpan, serviceName)
				if err != nil {
					tss.logger.Warn("Skipping span that cannot be converted", zap.String("name", otlpSpan.Name), zap.Error(err))
					rejected++
					lastErr = err
					continue
				}
				if _, err := tss.sender.Send(ctx, span); err != nil {
					rejected++
					lastErr = err
				}
			}
		}
	}

	res := &protoTrace.ExportTraceServiceResponse{}
	if rejected > 0 {
		res.PartialSuccess = &protoTrace.ExportTracePartialSuccess{
			RejectedSpans: rejected,
			ErrorMessage:  lastErr.Error(),
		}
	}
	return res, nil
}

func (tss TraceServiceServerImpl) getServiceName(resourceSpan *v1.ResourceSpans) string {
	if resourceSpan.Resource != nil {
		for _, attr := range resourceSpan.Resource.Attributes {
			if attr.Key == "service.name" && attr.Value.GetStringValue() != "" {
				return attr.Value.GetStringValue()
			}
		}
	}
	tss.logger.Debug("Service name not found in resource span")
	return tss.config.ApplicationName
}

func (tss TraceServiceServerImpl) getTypedSpan(span *v1.Span, serviceName string) (*model.Span, error) {
	traceID, err := tss.getTraceID(span)
	if err != nil {
		return nil, err
	}
	startTime := time.Unix(0, int64(span.StartTimeUnixNano))
	endTime := time.Unix(0, int64(span.EndTimeUnixNano))
	attributes := getAttributes(span.Attributes)

	typed := &model.Span{
		AgentID:         tss.config.AgentID,
		ApplicationName: serviceName,
		AgentStartTime:  tss.config.AgentStartTime,
		TraceID:         traceID,
		StartTime:       startTime,
		EndTime:         endTime,
		ServiceType:     int16(span.Kind),
		RPC:             span.Name,
		EndPoint:        firstAttribute(attributes, "server.address", "http.host", "net.host.name"),
		RemoteAddr:      firstAttribute(attributes, "client.address", "net.peer.ip", "net.sock.peer.addr"),
		Annotations:     getAnnotations(attributes),
		Events:          getEvents(span, startTime),
	}
	if span.Status != nil && span.Status.Code == v1.Status_STATUS_CODE_ERROR {
		typed.Err = 1
		typed.Exception = &model.ExceptionInfo{Message: span.Status.Message}
	}
	return typed, nil
}

func (tss TraceServiceServerImpl) getTraceID(span *v1.Span) (model.TraceID, error) {
	if len(span.TraceId) != traceIDSize {
		return model.TraceID{}, fmt.Errorf("%w: %d bytes", ErrInvalidTraceID, len(span.TraceId))
	}
	spanID, err := toSpanID(span.SpanId)
	if err != nil {
		return model.TraceID{}, err
	}
	parentSpanID := model.RootParentSpanID
	if len(span.ParentSpanId) > 0 {
		if parentSpanID, err = toSpanID(span.ParentSpanId); err != nil {
			return model.TraceID{}, err
		}
	}
	return model.TraceID{
		Transaction: model.TransactionID{
			AgentID:        tss.config.AgentID,
			AgentStartTime: tss.config.AgentStartTime,
			Sequence:       foldTraceID(span.TraceId),
		},
		SpanID:       spanID,
		ParentSpanID: parentSpanID,
		Flags:        int16(span.Flags & 0xff),
	}, nil
}

// foldTraceID squeezes the 128-bit trace id into a non-negative sequence.
// Both halves contribute, so ids sharing a low half still map apart.
func foldTraceID(id []byte) int64 {
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	return int64((hi ^ lo) & math.MaxInt64)
}

func toSpanID(id []byte) (int64, error) {
	if len(id) != spanIDSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidSpanID, len(id))
	}
	return int64(binary.BigEndian.Uint64(id)), nil
}

// getEvents keeps the OTLP event order; the position becomes the sequence.
func getEvents(span *v1.Span, startTime time.Time) []model.SpanEvent {
	events := make([]model.SpanEvent, len(span.Events))
	for i, event := range span.Events {
		attributes := getAttributes(event.Attributes)
		typed := model.SpanEvent{
			Sequence:      int32(i),
			Depth:         1,
			StartElapsed:  time.Unix(0, int64(event.TimeUnixNano)).Sub(startTime),
			ServiceType:   int16(span.Kind),
			APIDescriptor: event.Name,
			Annotations:   getAnnotations(attributes),
		}
		if event.Name == "exception" {
			typed.Exception = &model.ExceptionInfo{
				Message: firstAttribute(attributes, "exception.message", "exception.type"),
			}
		}
		events[i] = typed
	}
	return events
}

func getAttributes(kvs []*commonv1.KeyValue) map[string]string {
	attributes := make(map[string]string, len(kvs))
	for _, attribute := range kvs {
		attributes[attribute.Key] = anyValueString(attribute.Value)
	}
	return attributes
}

func anyValueString(value *commonv1.AnyValue) string {
	switch v := value.GetValue().(type) {
	case *commonv1.AnyValue_StringValue:
		return v.StringValue
	case *commonv1.AnyValue_IntValue:
		return strconv.FormatInt(v.IntValue, 10)
	case *commonv1.AnyValue_BoolValue:
		return strconv.FormatBool(v.BoolValue)
	case *commonv1.AnyValue_DoubleValue:
		return strconv.FormatFloat(v.DoubleValue, 'g', -1, 64)
	default:
		return ""
	}
}

func firstAttribute(attributes map[string]string, keys ...string) string {
	for _, key := range keys {
		if value, ok := attributes[key]; ok && value != "" {
			return value
		}
	}
	return ""
}

// getAnnotations maps well known attributes to their annotation keys and
// carries the rest as "key=value" arguments, sorted for a stable encoding.
func getAnnotations(attributes map[string]string) []model.Annotation {
	if len(attributes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	annotations := make([]model.Annotation, 0, len(keys))
	for _, key := range keys {
		if annotationKey, ok := knownAnnotationKeys[key]; ok {
			annotations = append(annotations, model.Annotation{Key: annotationKey, Value: attributes[key]})
			continue
		}
		annotations = append(annotations, model.Annotation{Key: argsAnnotationKey, Value: key + "=" + attributes[key]})
	}
	return annotations
}

const (
	traceIDSize = 16
	spanIDSize  = 8

	argsAnnotationKey       int32 = -1
	httpURLAnnotationKey    int32 = 40
	httpStatusAnnotationKey int32 = 46
)

var knownAnnotationKeys = map[string]int32{
	"http.url":                  httpURLAnnotationKey,
	"url.full":                  httpURLAnnotationKey,
	"http.status_code":          httpStatusAnnotationKey,
	"http.response.status_code": httpStatusAnnotationKey,
}

var (
	ErrInvalidTraceID = errors.New("trace id must be 16 bytes")
	ErrInvalidSpanID  = errors.New("span id must be 8 bytes")
)
