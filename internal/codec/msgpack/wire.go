package msgpack

import (
	"github.com/Avi18971911/spanstream/internal/span/model"
	"time"
)

// Wire structs are array-encoded so field names never reach the payload.
// Field order is part of the format: append new fields at the end only.

type spanWire struct {
	_msgpack struct{} `msgpack:",as_array"`

	AgentID         string
	ApplicationName string
	AgentStartTime  int64
	Trace           traceIDWire
	StartTime       int64
	EndTime         int64
	ServiceType     int16
	RPC             string
	EndPoint        string
	RemoteAddr      string
	APIID           int32
	Err             int32
	Exception       *exceptionWire
	Annotations     []annotationWire
	EventCount      int32
}

type eventWire struct {
	_msgpack struct{} `msgpack:",as_array"`

	Sequence      int32
	Depth         int32
	StartElapsed  int64
	Elapsed       int64
	ServiceType   int16
	APIID         int32
	APIDescriptor string
	EndPoint      string
	DestinationID string
	NextSpanID    int64
	AsyncID       int32
	Exception     *exceptionWire
	Annotations   []annotationWire
	Index         int32
}

type chunkWire struct {
	_msgpack struct{} `msgpack:",as_array"`

	AgentID         string
	ApplicationName string
	AgentStartTime  int64
	Trace           traceIDWire
}

type traceIDWire struct {
	_msgpack struct{} `msgpack:",as_array"`

	AgentID        string
	AgentStartTime int64
	Sequence       int64
	SpanID         int64
	ParentSpanID   int64
	Flags          int16
}

type exceptionWire struct {
	_msgpack struct{} `msgpack:",as_array"`

	ClassID int32
	Message string
}

type annotationWire struct {
	_msgpack struct{} `msgpack:",as_array"`

	Key   int32
	Value string
}

func toSpanWire(span *model.Span, w *spanWire) {
	*w = spanWire{
		AgentID:         span.AgentID,
		ApplicationName: span.ApplicationName,
		AgentStartTime:  span.AgentStartTime,
		Trace:           toTraceIDWire(span.TraceID),
		StartTime:       unixNano(span.StartTime),
		EndTime:         unixNano(span.EndTime),
		ServiceType:     span.ServiceType,
		RPC:             span.RPC,
		EndPoint:        span.EndPoint,
		RemoteAddr:      span.RemoteAddr,
		APIID:           span.APIID,
		Err:             span.Err,
		Exception:       toExceptionWire(span.Exception),
		Annotations:     toAnnotationWires(span.Annotations),
		EventCount:      int32(len(span.Events)),
	}
}

func fromSpanWire(w *spanWire) *model.Span {
	return &model.Span{
		AgentID:         w.AgentID,
		ApplicationName: w.ApplicationName,
		AgentStartTime:  w.AgentStartTime,
		TraceID:         fromTraceIDWire(w.Trace),
		StartTime:       fromUnixNano(w.StartTime),
		EndTime:         fromUnixNano(w.EndTime),
		ServiceType:     w.ServiceType,
		RPC:             w.RPC,
		EndPoint:        w.EndPoint,
		RemoteAddr:      w.RemoteAddr,
		APIID:           w.APIID,
		Err:             w.Err,
		Exception:       fromExceptionWire(w.Exception),
		Annotations:     fromAnnotationWires(w.Annotations),
	}
}

func toEventWire(index int, event *model.SpanEvent, w *eventWire) {
	*w = eventWire{
		Sequence:      event.Sequence,
		Depth:         event.Depth,
		StartElapsed:  int64(event.StartElapsed),
		Elapsed:       int64(event.Elapsed),
		ServiceType:   event.ServiceType,
		APIID:         event.APIID,
		APIDescriptor: event.APIDescriptor,
		EndPoint:      event.EndPoint,
		DestinationID: event.DestinationID,
		NextSpanID:    event.NextSpanID,
		AsyncID:       event.AsyncID,
		Exception:     toExceptionWire(event.Exception),
		Annotations:   toAnnotationWires(event.Annotations),
		Index:         int32(index),
	}
}

func fromEventWire(w *eventWire) *model.SpanEvent {
	return &model.SpanEvent{
		Sequence:      w.Sequence,
		Depth:         w.Depth,
		StartElapsed:  time.Duration(w.StartElapsed),
		Elapsed:       time.Duration(w.Elapsed),
		ServiceType:   w.ServiceType,
		APIID:         w.APIID,
		APIDescriptor: w.APIDescriptor,
		EndPoint:      w.EndPoint,
		DestinationID: w.DestinationID,
		NextSpanID:    w.NextSpanID,
		AsyncID:       w.AsyncID,
		Exception:     fromExceptionWire(w.Exception),
		Annotations:   fromAnnotationWires(w.Annotations),
	}
}

func toChunkWire(chunk *model.ChunkIdentity, w *chunkWire) {
	*w = chunkWire{
		AgentID:         chunk.AgentID,
		ApplicationName: chunk.ApplicationName,
		AgentStartTime:  chunk.AgentStartTime,
		Trace:           toTraceIDWire(chunk.TraceID),
	}
}

func fromChunkWire(w *chunkWire) *model.ChunkIdentity {
	return &model.ChunkIdentity{
		AgentID:         w.AgentID,
		ApplicationName: w.ApplicationName,
		AgentStartTime:  w.AgentStartTime,
		TraceID:         fromTraceIDWire(w.Trace),
	}
}

func toTraceIDWire(id model.TraceID) traceIDWire {
	return traceIDWire{
		AgentID:        id.Transaction.AgentID,
		AgentStartTime: id.Transaction.AgentStartTime,
		Sequence:       id.Transaction.Sequence,
		SpanID:         id.SpanID,
		ParentSpanID:   id.ParentSpanID,
		Flags:          id.Flags,
	}
}

func fromTraceIDWire(w traceIDWire) model.TraceID {
	return model.TraceID{
		Transaction: model.TransactionID{
			AgentID:        w.AgentID,
			AgentStartTime: w.AgentStartTime,
			Sequence:       w.Sequence,
		},
		SpanID:       w.SpanID,
		ParentSpanID: w.ParentSpanID,
		Flags:        w.Flags,
	}
}

func toExceptionWire(info *model.ExceptionInfo) *exceptionWire {
	if info == nil {
		return nil
	}
	return &exceptionWire{ClassID: info.ClassID, Message: info.Message}
}

func fromExceptionWire(w *exceptionWire) *model.ExceptionInfo {
	if w == nil {
		return nil
	}
	return &model.ExceptionInfo{ClassID: w.ClassID, Message: w.Message}
}

func toAnnotationWires(annotations []model.Annotation) []annotationWire {
	if len(annotations) == 0 {
		return nil
	}
	wires := make([]annotationWire, len(annotations))
	for i, a := range annotations {
		wires[i] = annotationWire{Key: a.Key, Value: a.Value}
	}
	return wires
}

func fromAnnotationWires(wires []annotationWire) []model.Annotation {
	if len(wires) == 0 {
		return nil
	}
	annotations := make([]model.Annotation, len(wires))
	for i, w := range wires {
		annotations[i] = model.Annotation{Key: w.Key, Value: w.Value}
	}
	return annotations
}

// zero times travel as 0 so they decode back to the zero time.Time
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
