package escrow

import (
	"context"
	"sync"
)

// source is one independently-fetchable event stream.
type source struct {
	kind  EventKind
	fetch func(ctx context.Context) ([]Event, error)
}

// sourceResult is the settled outcome of one source: events on success,
// err on failure, never both. A failed source degrades to an empty slice
// at fold time; it is not retried.
type sourceResult struct {
	kind   EventKind
	events []Event
	err    error
}

// fetchAll runs every source concurrently and blocks until all settle.
// Results come back in input order so folding stays deterministic. A
// failure in one source never cancels its siblings; each carries its own
// isolation boundary.
func fetchAll(ctx context.Context, sources []source) []sourceResult {
	results := make([]sourceResult, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src source) {
			defer wg.Done()
			events, err := src.fetch(ctx)
			results[i] = sourceResult{kind: src.kind, events: events, err: err}
		}(i, src)
	}
	wg.Wait()

	return results
}
