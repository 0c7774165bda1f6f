// Package geocode provides an unbounded-LRU cache in front of the
// place-name and reverse-geocoding lookups spec.md §5 requires to be
// cached, since a forward/reverse geocode of the same input is a pure
// function of that input and the underlying lookup is the system's
// only effectful dependency.
package geocode

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/slicegraph/qos-slicer/core"
)

// ForwardFunc resolves a place name to a location. Implementations are
// expected to call out to an external geocoding provider.
type ForwardFunc func(placeName string) (core.Location, error)

// ReverseFunc resolves a location back to a human-readable place name.
type ReverseFunc func(loc core.Location) (string, error)

// reverseKey rounds a location to a fixed precision so that
// floating-point jitter in repeated lookups of "the same" coordinate
// still hits the cache.
type reverseKey struct {
	lat, lon, alt float64
}

// CachingService wraps ForwardFunc/ReverseFunc behind two unbounded
// LRU caches (one per direction), matching the original SDK's
// @lru_cache(maxsize=None) decorators on geolocate/geo_reverse_country.
// golang-lru/v2's Cache has a fixed capacity rather than being
// literally unbounded, so the service is constructed with a capacity
// large enough that eviction is not expected to occur in practice;
// callers needing a genuinely unbounded cache can pass math.MaxInt.
type CachingService struct {
	forward ForwardFunc
	reverse ReverseFunc

	mu          sync.Mutex
	forwardHits int
	forwardMiss int
	reverseHits int
	reverseMiss int

	forwardCache *lru.Cache[string, core.Location]
	reverseCache *lru.Cache[reverseKey, string]
}

// NewCachingService constructs a CachingService with the given cache
// capacity (pass a large value, e.g. 1<<20, for effectively unbounded
// behavior) wrapping fwd and rev.
func NewCachingService(capacity int, fwd ForwardFunc, rev ReverseFunc) (*CachingService, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrLocation, "geocode cache capacity must be positive")
	}
	fc, err := lru.New[string, core.Location](capacity)
	if err != nil {
		return nil, err
	}
	rc, err := lru.New[reverseKey, string](capacity)
	if err != nil {
		return nil, err
	}
	return &CachingService{forward: fwd, reverse: rev, forwardCache: fc, reverseCache: rc}, nil
}

// Geocode resolves placeName to a Location, serving from cache when
// possible.
func (s *CachingService) Geocode(placeName string) (core.Location, error) {
	if loc, ok := s.forwardCache.Get(placeName); ok {
		s.mu.Lock()
		s.forwardHits++
		s.mu.Unlock()
		return loc, nil
	}
	s.mu.Lock()
	s.forwardMiss++
	s.mu.Unlock()

	if s.forward == nil {
		return core.Location{}, fmt.Errorf("%w: no forward geocoding provider configured", core.ErrLocation)
	}
	loc, err := s.forward(placeName)
	if err != nil {
		return core.Location{}, fmt.Errorf("%w: geocode %q: %v", core.ErrLocation, placeName, err)
	}
	s.forwardCache.Add(placeName, loc)
	return loc, nil
}

// ReverseGeocode resolves loc to a human-readable place name, serving
// from cache when possible.
func (s *CachingService) ReverseGeocode(loc core.Location) (string, error) {
	key := reverseKey{lat: round6(loc.Lat), lon: round6(loc.Lon), alt: round6(loc.Alt)}
	if name, ok := s.reverseCache.Get(key); ok {
		s.mu.Lock()
		s.reverseHits++
		s.mu.Unlock()
		return name, nil
	}
	s.mu.Lock()
	s.reverseMiss++
	s.mu.Unlock()

	if s.reverse == nil {
		return "", fmt.Errorf("%w: no reverse geocoding provider configured", core.ErrLocation)
	}
	name, err := s.reverse(loc)
	if err != nil {
		return "", fmt.Errorf("%w: reverse geocode %+v: %v", core.ErrLocation, loc, err)
	}
	s.reverseCache.Add(key, name)
	return name, nil
}

// Stats reports cache occupancy and hit ratios, consumed by
// internal/observability's GeocodeCollector.
type Stats struct {
	ForwardSize, ReverseSize int
	ForwardHitRatio          float64
	ReverseHitRatio          float64
}

// Stats returns a snapshot of current cache statistics.
func (s *CachingService) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ForwardSize:     s.forwardCache.Len(),
		ReverseSize:     s.reverseCache.Len(),
		ForwardHitRatio: hitRatio(s.forwardHits, s.forwardMiss),
		ReverseHitRatio: hitRatio(s.reverseHits, s.reverseMiss),
	}
}

func hitRatio(hits, misses int) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func round6(v float64) float64 {
	const scale = 1e6
	return float64(int64(v*scale+sign(v)*0.5)) / scale
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
