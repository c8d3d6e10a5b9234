package otlp

import (
	"errors"
	"github.com/Avi18971911/spanstream/internal/span/model"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	"strconv"
	"strings"
	"time"
)

const (
	traceIDSize = 16
	spanIDSize  = 8
)

const (
	attrAgentID            = "agent.id"
	attrApplicationName    = "application.name"
	attrAgentStartTime     = "agent.start_time"
	attrTransactionAgentID = "transaction.agent_id"
	attrServiceType        = "service.type"
	attrEndPoint           = "endpoint"
	attrRemoteAddr         = "remote.addr"
	attrAPIID              = "api.id"
	attrErr                = "err"
	attrExceptionClassID   = "exception.class_id"
	attrExceptionMessage   = "exception.message"
	attrAnnotationPrefix   = "annotation."
	attrSequence           = "event.sequence"
	attrDepth              = "event.depth"
	attrElapsed            = "event.elapsed"
	attrDestinationID      = "destination.id"
	attrNextSpanID         = "next_span.id"
	attrAsyncID            = "async.id"
	attrEventCount         = "span.event_count"
	attrEventIndex         = "event.index"
)

func appendAgentAttributes(
	attrs []*commonv1.KeyValue,
	agentID string,
	applicationName string,
	agentStartTime int64,
	traceID model.TraceID,
) []*commonv1.KeyValue {
	attrs = appendString(attrs, attrAgentID, agentID)
	attrs = appendString(attrs, attrApplicationName, applicationName)
	attrs = appendInt(attrs, attrAgentStartTime, agentStartTime)
	return appendString(attrs, attrTransactionAgentID, traceID.Transaction.AgentID)
}

// zero values are omitted, the decoder falls back to the zero value for missing keys
func appendString(attrs []*commonv1.KeyValue, key string, value string) []*commonv1.KeyValue {
	if value == "" {
		return attrs
	}
	return append(attrs, stringKeyValue(key, value))
}

func appendInt(attrs []*commonv1.KeyValue, key string, value int64) []*commonv1.KeyValue {
	if value == 0 {
		return attrs
	}
	return append(attrs, intKeyValue(key, value))
}

func appendException(attrs []*commonv1.KeyValue, info *model.ExceptionInfo) []*commonv1.KeyValue {
	if info == nil {
		return attrs
	}
	return append(
		attrs,
		intKeyValue(attrExceptionClassID, int64(info.ClassID)),
		stringKeyValue(attrExceptionMessage, info.Message),
	)
}

func appendAnnotations(attrs []*commonv1.KeyValue, annotations []model.Annotation) []*commonv1.KeyValue {
	for _, a := range annotations {
		attrs = append(attrs, stringKeyValue(attrAnnotationPrefix+strconv.Itoa(int(a.Key)), a.Value))
	}
	return attrs
}

func readException(info *model.ExceptionInfo, kv *commonv1.KeyValue) *model.ExceptionInfo {
	switch kv.Key {
	case attrExceptionClassID:
		if info == nil {
			info = &model.ExceptionInfo{}
		}
		info.ClassID = int32(kv.Value.GetIntValue())
	case attrExceptionMessage:
		if info == nil {
			info = &model.ExceptionInfo{}
		}
		info.Message = kv.Value.GetStringValue()
	}
	return info
}

func readAnnotation(annotations []model.Annotation, kv *commonv1.KeyValue) []model.Annotation {
	suffix, ok := strings.CutPrefix(kv.Key, attrAnnotationPrefix)
	if !ok {
		return annotations
	}
	key, err := strconv.ParseInt(suffix, 10, 32)
	if err != nil {
		return annotations
	}
	return append(annotations, model.Annotation{Key: int32(key), Value: kv.Value.GetStringValue()})
}

func stringKeyValue(key string, value string) *commonv1.KeyValue {
	return &commonv1.KeyValue{
		Key:   key,
		Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: value}},
	}
}

func intKeyValue(key string, value int64) *commonv1.KeyValue {
	return &commonv1.KeyValue{
		Key:   key,
		Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_IntValue{IntValue: value}},
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func durationFrom(n uint64) time.Duration {
	return time.Duration(int64(n))
}

var (
	ErrMalformedIdentity = errors.New("span identity has unexpected id lengths")
)
