package geocode

import (
	"context"
	"fmt"
	"log"
)

// Cache stores service answers by query string. A stored nil result records
// that the service found no usable match.
type Cache interface {
	GetGeocode(query string) (result *Result, found bool, err error)
	PutGeocode(query string, result *Result) error
}

// CachedGeocoder answers from the cache and sends only unseen addresses to
// the wrapped geocoder. Malformed answers are not cached, so the next run
// asks again.
type CachedGeocoder struct {
	next  Geocoder
	cache Cache
}

// NewCachedGeocoder wraps next with cache.
func NewCachedGeocoder(next Geocoder, cache Cache) *CachedGeocoder {
	return &CachedGeocoder{next: next, cache: cache}
}

// Geocode implements Geocoder.
func (g *CachedGeocoder) Geocode(ctx context.Context, addrs []Address) ([]Result, []string, error) {
	hits := make(map[string]Result)
	var misses []Address
	for _, a := range addrs {
		r, found, err := g.cache.GetGeocode(a.Query())
		if err != nil {
			return nil, nil, fmt.Errorf("reading geocode cache: %w", err)
		}
		switch {
		case !found:
			misses = append(misses, a)
		case r != nil:
			hit := *r
			hit.CaseID = a.CaseID
			hits[a.CaseID] = hit
		}
	}
	log.Printf("Geocode cache: %d hits, %d to query", len(addrs)-len(misses), len(misses))

	var skipped []string
	if len(misses) > 0 {
		fresh, bad, err := g.next.Geocode(ctx, misses)
		if err != nil {
			return nil, nil, err
		}
		skipped = bad
		malformed := make(map[string]struct{}, len(bad))
		for _, id := range bad {
			malformed[id] = struct{}{}
		}
		byCase := make(map[string]Result, len(fresh))
		for _, r := range fresh {
			byCase[r.CaseID] = r
		}
		for _, a := range misses {
			if _, skip := malformed[a.CaseID]; skip {
				continue
			}
			r, ok := byCase[a.CaseID]
			var stored *Result
			if ok {
				stored = &r
				hits[a.CaseID] = r
			}
			if err := g.cache.PutGeocode(a.Query(), stored); err != nil {
				return nil, nil, fmt.Errorf("writing geocode cache: %w", err)
			}
		}
	}

	var results []Result
	for _, a := range addrs {
		if r, ok := hits[a.CaseID]; ok {
			results = append(results, r)
		}
	}
	return results, skipped, nil
}
