package pool

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultCapacity       = 16
	DefaultAcquireTimeout = 100 * time.Millisecond
)

// Policy decides what Acquire does once Capacity instances are checked out.
type Policy int

const (
	// PolicyBlock waits up to AcquireTimeout for a release, then fails with ErrPoolExhausted.
	PolicyBlock Policy = iota
	// PolicyOverflow hands out a transient instance that is discarded on release.
	PolicyOverflow
)

func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

type Config struct {
	Capacity       int
	AcquireTimeout time.Duration
	Policy         Policy
}

type Stats struct {
	Capacity   int
	Created    int64
	Idle       int
	InUse      int64
	Overflowed int64
	Exhausted  int64
}

// Pool is a bounded set of reusable instances. An instance is owned by exactly
// one Lease at a time.
type Pool[T any] struct {
	factory func() (T, error)
	config  Config
	idle    chan T
	slots   chan struct{}
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool

	created    atomic.Int64
	inUse      atomic.Int64
	overflowed atomic.Int64
	exhausted  atomic.Int64

	logger *zap.Logger
}

func New[T any](factory func() (T, error), config Config, logger *zap.Logger) *Pool[T] {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = DefaultAcquireTimeout
	}
	logger.Info(
		"Creating new Pool",
		zap.Int("capacity", config.Capacity),
		zap.Duration("acquire_timeout", config.AcquireTimeout),
		zap.Stringer("policy", config.Policy),
	)
	return &Pool[T]{
		factory: factory,
		config:  config,
		idle:    make(chan T, config.Capacity),
		slots:   make(chan struct{}, config.Capacity),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case v := <-p.idle:
		return p.lease(v, false), nil
	default:
	}

	select {
	case p.slots <- struct{}{}:
		return p.create()
	default:
	}

	if p.config.Policy == PolicyOverflow {
		v, err := p.factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create overflow instance: %w", err)
		}
		p.overflowed.Add(1)
		return p.lease(v, true), nil
	}

	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()
	select {
	case v := <-p.idle:
		return p.lease(v, false), nil
	case p.slots <- struct{}{}:
		return p.create()
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		p.exhausted.Add(1)
		p.logger.Debug("Pool exhausted", zap.Duration("waited", p.config.AcquireTimeout))
		return nil, fmt.Errorf("%w: waited %s", ErrPoolExhausted, p.config.AcquireTimeout)
	}
}

// Do runs fn with a leased instance and releases it on every exit path.
func (p *Pool[T]) Do(ctx context.Context, fn func(T) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Value())
}

func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	for {
		select {
		case <-p.idle:
		default:
			return
		}
	}
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Capacity:   p.config.Capacity,
		Created:    p.created.Load(),
		Idle:       len(p.idle),
		InUse:      p.inUse.Load(),
		Overflowed: p.overflowed.Load(),
		Exhausted:  p.exhausted.Load(),
	}
}

func (p *Pool[T]) create() (*Lease[T], error) {
	v, err := p.factory()
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("failed to create pooled instance: %w", err)
	}
	p.created.Add(1)
	return p.lease(v, false), nil
}

func (p *Pool[T]) lease(v T, transient bool) *Lease[T] {
	p.inUse.Add(1)
	return &Lease[T]{pool: p, value: v, transient: transient}
}

func (p *Pool[T]) put(v T, transient bool) {
	p.inUse.Add(-1)
	if transient {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.idle <- v:
	default:
		// cannot happen while every pooled instance holds a slot
		p.logger.Warn("Dropping pooled instance, idle set is full")
	}
}

func (p *Pool[T]) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Lease is the ownership token for one checked-out instance.
type Lease[T any] struct {
	pool      *Pool[T]
	value     T
	transient bool
	released  atomic.Bool
}

func (l *Lease[T]) Value() T {
	return l.value
}

// Release hands the instance back. Calls after the first are no-ops.
func (l *Lease[T]) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.pool.put(l.value, l.transient)
}

var (
	ErrPoolClosed    = errors.New("pool is closed")
	ErrPoolExhausted = errors.New("pool exhausted")
)
