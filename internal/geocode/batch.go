package geocode

import (
	"context"
	"sync"
)

// Coord is a location to resolve.
type Coord struct {
	Lat float64
	Lng float64
}

// Resolved is the district found for one coordinate of a batch.
type Resolved struct {
	Coord
	District string
}

// Batch resolves every coordinate with up to concurrency lookups in flight.
// Results keep the input order; failed lookups carry the unknown label.
func (r *Resolver) Batch(ctx context.Context, coords []Coord, concurrency int) []Resolved {
	if concurrency <= 0 {
		concurrency = 1
	}

	type job struct {
		idx   int
		coord Coord
	}
	type result struct {
		idx      int
		district string
	}

	jobs := make(chan job, len(coords))
	results := make(chan result, len(coords))
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					results <- result{idx: j.idx, district: r.unknown}
					continue
				}
				results <- result{idx: j.idx, district: r.District(ctx, j.coord.Lat, j.coord.Lng)}
			}
		}()
	}

	for i, c := range coords {
		jobs <- job{idx: i, coord: c}
	}
	close(jobs)

	wg.Wait()
	close(results)

	out := make([]Resolved, len(coords))
	for res := range results {
		out[res.idx] = Resolved{Coord: coords[res.idx], District: res.district}
	}

	return out
}
