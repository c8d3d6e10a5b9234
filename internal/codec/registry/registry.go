package registry

import (
	"fmt"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/msgpack"
	"github.com/Avi18971911/spanstream/internal/codec/otlp"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"go.uber.org/zap"
)

// Registry owns one serializer pool and one deserializer pool per known codec.
type Registry struct {
	serializers   map[codec.ID]*pool.Pool[codec.Serializer]
	deserializers map[codec.ID]*pool.Pool[codec.Deserializer]
}

func New(config pool.Config, logger *zap.Logger) *Registry {
	r := &Registry{
		serializers:   make(map[codec.ID]*pool.Pool[codec.Serializer]),
		deserializers: make(map[codec.ID]*pool.Pool[codec.Deserializer]),
	}
	r.register(
		codec.MsgpackID,
		func() (codec.Serializer, error) { return msgpack.NewSerializer(), nil },
		func() (codec.Deserializer, error) { return msgpack.NewDeserializer(), nil },
		config,
		logger,
	)
	r.register(
		codec.OTLPID,
		func() (codec.Serializer, error) { return otlp.NewSerializer(), nil },
		func() (codec.Deserializer, error) { return otlp.NewDeserializer(), nil },
		config,
		logger,
	)
	return r
}

func (r *Registry) register(
	id codec.ID,
	serializerFactory func() (codec.Serializer, error),
	deserializerFactory func() (codec.Deserializer, error),
	config pool.Config,
	logger *zap.Logger,
) {
	named := logger.With(zap.Stringer("codec", id))
	r.serializers[id] = pool.New(serializerFactory, config, named.With(zap.String("role", "serializer")))
	r.deserializers[id] = pool.New(deserializerFactory, config, named.With(zap.String("role", "deserializer")))
}

func (r *Registry) Serializers(id codec.ID) (*pool.Pool[codec.Serializer], error) {
	p, ok := r.serializers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", codec.ErrUnknownCodec, id)
	}
	return p, nil
}

// Deserializers reports false for codec ids this build cannot read.
func (r *Registry) Deserializers(id codec.ID) (*pool.Pool[codec.Deserializer], bool) {
	p, ok := r.deserializers[id]
	return p, ok
}

// EachSerializerPool visits every serializer pool, used to export pool gauges.
func (r *Registry) EachSerializerPool(fn func(id codec.ID, p *pool.Pool[codec.Serializer])) {
	for id, p := range r.serializers {
		fn(id, p)
	}
}

func (r *Registry) EachDeserializerPool(fn func(id codec.ID, p *pool.Pool[codec.Deserializer])) {
	for id, p := range r.deserializers {
		fn(id, p)
	}
}

func (r *Registry) Close() {
	for _, p := range r.serializers {
		p.Close()
	}
	for _, p := range r.deserializers {
		p.Close()
	}
}
