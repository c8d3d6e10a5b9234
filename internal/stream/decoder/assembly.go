package decoder

import (
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/span/model"
	"sort"
)

// Assembly merges the decoded units of one span. Units may arrive in any
// order; events are restored to their encoded position and duplicates are dropped.
type Assembly struct {
	key      string
	core     *model.Span
	chunk    *model.ChunkIdentity
	expected int
	events   []positionedEvent
	seen     map[int]struct{}
	units    int
	failed   int
}

type positionedEvent struct {
	index int
	event model.SpanEvent
}

func NewAssembly() *Assembly {
	return &Assembly{seen: make(map[int]struct{})}
}

func (a *Assembly) Merge(unit *DecodedUnit) error {
	if key, ok := unit.Key(); ok {
		if a.key == "" {
			a.key = key
		} else if a.key != key {
			return fmt.Errorf("%w: have %s, got %s", ErrKeyMismatch, a.key, key)
		}
	}
	for _, c := range unit.Components {
		switch {
		case c.Span != nil:
			if a.core == nil {
				a.core = c.Span
				a.expected = c.EventCount
			}
		case c.Chunk != nil:
			if a.chunk == nil {
				a.chunk = c.Chunk
			}
		case c.Event != nil:
			if _, dup := a.seen[c.Index]; dup {
				continue
			}
			a.seen[c.Index] = struct{}{}
			a.events = append(a.events, positionedEvent{index: c.Index, event: *c.Event})
		}
	}
	a.units++
	return nil
}

// MarkFailed records a unit of this span that could not be decoded.
func (a *Assembly) MarkFailed() {
	a.failed++
}

func (a *Assembly) Key() string {
	return a.key
}

func (a *Assembly) Units() int {
	return a.units
}

func (a *Assembly) Failed() int {
	return a.failed
}

// Incomplete reports whether a unit failed, the span core has not arrived,
// or fewer events arrived than the core announced.
func (a *Assembly) Incomplete() bool {
	return a.failed > 0 || a.core == nil || len(a.events) < a.expected
}

// Span returns the best reconstruction so far. Without a span core, the
// identity fields come from a chunk identity; nil when neither has arrived.
func (a *Assembly) Span() *model.Span {
	var span model.Span
	switch {
	case a.core != nil:
		span = *a.core
	case a.chunk != nil:
		span = model.Span{
			AgentID:         a.chunk.AgentID,
			ApplicationName: a.chunk.ApplicationName,
			AgentStartTime:  a.chunk.AgentStartTime,
			TraceID:         a.chunk.TraceID,
		}
	default:
		return nil
	}
	events := make([]positionedEvent, len(a.events))
	copy(events, a.events)
	sort.Slice(events, func(i, j int) bool {
		return events[i].index < events[j].index
	})
	span.Events = make([]model.SpanEvent, len(events))
	for i := range events {
		span.Events[i] = events[i].event
	}
	return &span
}

// Reassemble merges the units of one span. failed counts units that could not be decoded.
func Reassemble(units []*DecodedUnit, failed int) (*model.Span, bool, error) {
	a := NewAssembly()
	for _, unit := range units {
		if err := a.Merge(unit); err != nil {
			return nil, true, err
		}
	}
	for i := 0; i < failed; i++ {
		a.MarkFailed()
	}
	span := a.Span()
	if span == nil {
		return nil, true, ErrNoIdentity
	}
	return span, a.Incomplete(), nil
}

var (
	ErrKeyMismatch = errors.New("unit belongs to a different span")
	ErrNoIdentity  = errors.New("no span core or chunk identity decoded")
)
