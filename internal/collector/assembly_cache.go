package collector

import (
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/span/model"
	"github.com/Avi18971911/spanstream/internal/stream/decoder"
	"github.com/dgraph-io/ristretto"
	"sync"
)

// Snapshot is a reconstruction of a span taken after a unit was merged.
type Snapshot struct {
	Key        string
	Span       *model.Span
	Incomplete bool
	Units      int
	Failed     int
}

// Revision increases with every unit merged or marked failed for the span.
func (s Snapshot) Revision() int64 {
	return int64(s.Units + s.Failed)
}

// AssemblyCache keeps the partial reconstruction of each span seen recently.
// Eviction follows ristretto's admission and LFU policies, so a span whose
// units arrive far apart may be restarted from scratch.
type AssemblyCache interface {
	Get(key string) (Snapshot, error)
	Merge(key string, unit *decoder.DecodedUnit) (Snapshot, error)
	MarkFailed(key string) (Snapshot, error)
}

type AssemblyCacheImpl struct {
	cache *ristretto.Cache
	mu    sync.Mutex
}

func NewAssemblyCacheImpl(cache *ristretto.Cache) *AssemblyCacheImpl {
	return &AssemblyCacheImpl{cache: cache}
}

// NewRistrettoCache sizes a cache whose cost is counted in merged units.
func NewRistrettoCache(maxCost int64) (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxCost * 10,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
}

func (ac *AssemblyCacheImpl) Get(key string) (Snapshot, error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	a, err := ac.get(key)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot(key, a), nil
}

func (ac *AssemblyCacheImpl) Merge(key string, unit *decoder.DecodedUnit) (Snapshot, error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	a, err := ac.getOrCreate(key)
	if err != nil {
		return Snapshot{}, err
	}
	if err := a.Merge(unit); err != nil {
		return Snapshot{}, fmt.Errorf("failed to merge unit into %s: %w", key, err)
	}
	if err := ac.set(key, a); err != nil {
		return Snapshot{}, err
	}
	return snapshot(key, a), nil
}

func (ac *AssemblyCacheImpl) MarkFailed(key string) (Snapshot, error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	a, err := ac.getOrCreate(key)
	if err != nil {
		return Snapshot{}, err
	}
	a.MarkFailed()
	if err := ac.set(key, a); err != nil {
		return Snapshot{}, err
	}
	return snapshot(key, a), nil
}

func (ac *AssemblyCacheImpl) get(key string) (*decoder.Assembly, error) {
	value, found := ac.cache.Get(key)
	if !found {
		return nil, ErrKeyNotFound
	}
	a, ok := value.(*decoder.Assembly)
	if !ok {
		return nil, fmt.Errorf("value not of expected type %T returned from cache when getting", value)
	}
	return a, nil
}

func (ac *AssemblyCacheImpl) getOrCreate(key string) (*decoder.Assembly, error) {
	a, err := ac.get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return decoder.NewAssembly(), nil
	}
	return a, err
}

func (ac *AssemblyCacheImpl) set(key string, a *decoder.Assembly) error {
	if !ac.cache.Set(key, a, int64(a.Units()+1)) {
		return ErrSetFailed
	}
	ac.cache.Wait()
	return nil
}

func snapshot(key string, a *decoder.Assembly) Snapshot {
	return Snapshot{
		Key:        key,
		Span:       a.Span(),
		Incomplete: a.Incomplete(),
		Units:      a.Units(),
		Failed:     a.Failed(),
	}
}

var (
	ErrKeyNotFound = errors.New("key not found within the cache")
	ErrSetFailed   = errors.New("failed to set value in cache")
)
