package planner

import (
	"errors"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/stream/locator"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
)

type stage int

const (
	stageCore stage = iota
	stageContinuation
	stageDone
)

// Planner lazily packs a located span into transmission units. It is a
// single-pass iterator: every Next call advances the state by exactly one unit.
type Planner struct {
	loc     *locator.Locator
	factory *senddata.Factory
	stage   stage
	next    int
	err     error
}

// New validates every atomic component against the factory before any unit
// exists, so a span is either planned in full or rejected outright.
func New(loc *locator.Locator, factory *senddata.Factory) (*Planner, error) {
	core := loc.Core()
	if !factory.Fits(senddata.HeaderSize, len(core)) {
		return nil, violation(codec.KindSpan, 0, len(core), factory)
	}

	continuationBase := senddata.HeaderSize
	if chunk, ok := loc.ChunkIdentity(); ok && loc.EventCount() > 0 {
		if !factory.Fits(continuationBase, len(chunk)) {
			return nil, violation(codec.KindSpanChunk, 0, len(chunk), factory)
		}
		continuationBase = senddata.UnitSize(len(chunk))
	}
	for i := 0; i < loc.EventCount(); i++ {
		if event := loc.Event(i); !factory.Fits(continuationBase, len(event)) {
			return nil, violation(codec.KindSpanEvent, i, len(event), factory)
		}
	}
	return &Planner{loc: loc, factory: factory}, nil
}

func (p *Planner) HasNext() bool {
	return p.err == nil && p.stage != stageDone
}

func (p *Planner) Next() (*senddata.SendData, error) {
	if p.err != nil {
		return nil, p.err
	}

	var components [][]byte
	size := senddata.HeaderSize
	switch p.stage {
	case stageDone:
		return nil, ErrExhausted
	case stageCore:
		core := p.loc.Core()
		components = append(components, core)
		size = senddata.UnitSize(len(core))
	case stageContinuation:
		if chunk, ok := p.loc.ChunkIdentity(); ok {
			components = append(components, chunk)
			size = senddata.UnitSize(len(chunk))
		}
	}

	start := p.next
	for p.next < p.loc.EventCount() && len(components) < senddata.MaxComponents {
		event := p.loc.Event(p.next)
		if !p.factory.Fits(size, len(event)) {
			break
		}
		components = append(components, event)
		size += senddata.LengthPrefixSize + len(event)
		p.next++
	}
	if p.stage == stageContinuation && p.next == start {
		p.err = violation(codec.KindSpanEvent, p.next, len(p.loc.Event(p.next)), p.factory)
		return nil, p.err
	}

	data, err := p.factory.Create(components...)
	if err != nil {
		p.err = err
		return nil, err
	}
	if p.next == p.loc.EventCount() {
		p.stage = stageDone
	} else {
		p.stage = stageContinuation
	}
	return data, nil
}

// Collect drains the planner.
func (p *Planner) Collect() ([]*senddata.SendData, error) {
	var units []*senddata.SendData
	for p.HasNext() {
		data, err := p.Next()
		if err != nil {
			return units, err
		}
		units = append(units, data)
	}
	return units, nil
}

func violation(kind codec.ComponentKind, index int, length int, factory *senddata.Factory) error {
	limit := factory.MaxUnitSize()
	if !factory.Bounded() || length > senddata.MaxComponentLength {
		limit = senddata.MaxComponentLength
	}
	return &senddata.SizeViolationError{
		Kind:  kind,
		Index: index,
		Size:  length,
		Limit: limit,
		Err:   senddata.ErrComponentTooLarge,
	}
}

var (
	ErrExhausted = errors.New("no more transmission units")
)
