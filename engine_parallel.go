package capwire

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/jward/capwire/internal/extract"
	"github.com/jward/capwire/internal/store"
)

// workItem holds everything a parallel extraction worker needs.
type workItem struct {
	path string
	src  []byte
}

// IndexFilesParallel indexes files using a three-phase parallel pipeline:
//
//	Phase A (serial):   Read files and drop unchanged ones by hash.
//	Phase B (parallel): Parse and extract via a worker pool.
//	Phase C (serial):   Commit facts to SQLite.
//
// Extraction does not touch the store, so only phase C needs the single
// writer.
func (e *Engine) IndexFilesParallel(ctx context.Context, paths []string) error {
	// ---- Phase A: Serial change detection ----
	var (
		items []workItem
		errs  []error
	)
	for _, path := range paths {
		src, skip, err := e.readChanged(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("prepare %s: %w", path, err))
			continue
		}
		if skip {
			continue
		}
		items = append(items, workItem{path: path, src: src})
	}

	if len(items) == 0 {
		return joinIndexErrors(errs)
	}

	// ---- Phase B: Parallel extraction ----
	numWorkers := e.workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	numWorkers = max(min(numWorkers, len(items)), 1)

	workCh := make(chan workItem, len(items))
	for _, item := range items {
		workCh <- item
	}
	close(workCh)

	type result struct {
		item  workItem
		facts *store.FileFacts
		err   error
	}
	resultCh := make(chan result, len(items))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each Extract call owns its tree-sitter parser.
			for item := range workCh {
				facts, err := extract.Extract(ctx, item.path, item.src)
				resultCh <- result{item: item, facts: facts, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// ---- Phase C: Serial commit ----
	for res := range resultCh {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("extract %s: %w", res.item.path, res.err))
			continue
		}
		if err := e.commit(res.facts); err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", res.item.path, err))
		}
	}

	return joinIndexErrors(errs)
}

func joinIndexErrors(errs []error) error {
	if len(errs) > 0 {
		return fmt.Errorf("parallel indexing had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}
