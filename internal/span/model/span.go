package model

import (
	"fmt"
	"time"
)

// RootParentSpanID is the parent span id carried by a span that starts a transaction.
const RootParentSpanID int64 = -1

type TransactionID struct {
	AgentID        string `json:"agent_id"`
	AgentStartTime int64  `json:"agent_start_time"`
	Sequence       int64  `json:"sequence"`
}

func (t TransactionID) String() string {
	return fmt.Sprintf("%s^%d^%d", t.AgentID, t.AgentStartTime, t.Sequence)
}

type TraceID struct {
	Transaction  TransactionID `json:"transaction"`
	SpanID       int64         `json:"span_id"`
	ParentSpanID int64         `json:"parent_span_id"`
	Flags        int16         `json:"flags"` // sampling flags
}

func (t TraceID) IsRoot() bool {
	return t.ParentSpanID == RootParentSpanID
}

type Span struct {
	AgentID         string         `json:"agent_id"`
	ApplicationName string         `json:"application_name"`
	AgentStartTime  int64          `json:"agent_start_time"`
	TraceID         TraceID        `json:"trace_id"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	ServiceType     int16          `json:"service_type"`
	RPC             string         `json:"rpc"`
	EndPoint        string         `json:"end_point"`
	RemoteAddr      string         `json:"remote_addr"`
	APIID           int32          `json:"api_id"`
	Err             int32          `json:"err"`
	Exception       *ExceptionInfo `json:"exception,omitempty"`
	Annotations     []Annotation   `json:"annotations,omitempty"`
	Events          []SpanEvent    `json:"events"` // ordered by occurrence
}

// SpanEvent is one traced call inside a span. Its position in Span.Events is its temporal order.
type SpanEvent struct {
	Sequence      int32          `json:"sequence"`
	Depth         int32          `json:"depth"`
	StartElapsed  time.Duration  `json:"start_elapsed"`
	Elapsed       time.Duration  `json:"elapsed"`
	ServiceType   int16          `json:"service_type"`
	APIID         int32          `json:"api_id"`
	APIDescriptor string         `json:"api_descriptor"`
	EndPoint      string         `json:"end_point"`
	DestinationID string         `json:"destination_id"`
	NextSpanID    int64          `json:"next_span_id"`
	AsyncID       int32          `json:"async_id"`
	Exception     *ExceptionInfo `json:"exception,omitempty"`
	Annotations   []Annotation   `json:"annotations,omitempty"`
}

type ExceptionInfo struct {
	ClassID int32  `json:"class_id"`
	Message string `json:"message"`
}

type Annotation struct {
	Key   int32  `json:"key"`
	Value string `json:"value"`
}

// ChunkIdentity is the subset of span fields that lets a receiver attach a
// continuation unit to the span it belongs to.
type ChunkIdentity struct {
	AgentID         string  `json:"agent_id"`
	ApplicationName string  `json:"application_name"`
	AgentStartTime  int64   `json:"agent_start_time"`
	TraceID         TraceID `json:"trace_id"`
}

func (s *Span) Key() string {
	return spanKey(s.TraceID)
}

// Core returns a copy of the span without its events.
func (s *Span) Core() Span {
	core := *s
	core.Events = nil
	return core
}

func (s *Span) ChunkIdentity() ChunkIdentity {
	return ChunkIdentity{
		AgentID:         s.AgentID,
		ApplicationName: s.ApplicationName,
		AgentStartTime:  s.AgentStartTime,
		TraceID:         s.TraceID,
	}
}

func (c *ChunkIdentity) Key() string {
	return spanKey(c.TraceID)
}

func spanKey(traceID TraceID) string {
	return fmt.Sprintf("%s^%d", traceID.Transaction.String(), traceID.SpanID)
}
