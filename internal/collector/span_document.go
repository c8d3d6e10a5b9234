package collector

import (
	"github.com/Avi18971911/spanstream/internal/span/model"
	"time"
)

// SpanDocument is the indexed form of a reassembled span. Id is the span key,
// so later revisions of the same span replace earlier ones.
type SpanDocument struct {
	Id              string      `json:"_id"`
	Revision        int64       `json:"_version"`
	Key             string      `json:"key"`
	AgentID         string      `json:"agent_id"`
	ApplicationName string      `json:"application_name"`
	TransactionID   string      `json:"transaction_id"`
	SpanID          int64       `json:"span_id"`
	ParentSpanID    int64       `json:"parent_span_id"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	UpdatedAt       time.Time   `json:"updated_at"`
	RPC             string      `json:"rpc"`
	EndPoint        string      `json:"end_point"`
	Err             int32       `json:"err"`
	Complete        bool        `json:"complete"`
	Units           int         `json:"units"`
	FailedUnits     int         `json:"failed_units"`
	EventCount      int         `json:"event_count"`
	Span            *model.Span `json:"span"`
}

func NewSpanDocument(s Snapshot, updatedAt time.Time) SpanDocument {
	doc := SpanDocument{
		Id:          s.Key,
		Revision:    s.Revision(),
		Key:         s.Key,
		UpdatedAt:   updatedAt,
		Complete:    !s.Incomplete,
		Units:       s.Units,
		FailedUnits: s.Failed,
		Span:        s.Span,
	}
	if s.Span != nil {
		doc.AgentID = s.Span.AgentID
		doc.ApplicationName = s.Span.ApplicationName
		doc.TransactionID = s.Span.TraceID.Transaction.String()
		doc.SpanID = s.Span.TraceID.SpanID
		doc.ParentSpanID = s.Span.TraceID.ParentSpanID
		doc.StartTime = s.Span.StartTime
		doc.EndTime = s.Span.EndTime
		doc.RPC = s.Span.RPC
		doc.EndPoint = s.Span.EndPoint
		doc.Err = s.Span.Err
		doc.EventCount = len(s.Span.Events)
	}
	return doc
}
