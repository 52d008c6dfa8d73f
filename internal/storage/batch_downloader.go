package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader fetches a named set of objects into a local directory in
// parallel.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
}

// BatchRequest maps a local file name to the object it is fetched from.
type BatchRequest struct {
	Objects map[string]string
}

// BatchResult contains the outcome of a batch download.
type BatchResult struct {
	// LocalPaths maps each requested name to its downloaded file.
	LocalPaths map[string]string
	// Errors maps each failed name to its error.
	Errors    map[string]error
	Downloads int
}

// Err returns the error of the first failed name in sorted order, or nil.
func (r *BatchResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("%s: %w", names[0], r.Errors[names[0]])
}

// NewBatchDownloader creates a downloader with at most concurrency transfers
// in flight.
func NewBatchDownloader(storage ObjectStorage, concurrency int) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{storage: storage, concurrency: concurrency}
}

// Download fetches every object of req into dir. Per-object failures are
// reported in the result; the returned error is only set when dir is empty.
func (b *BatchDownloader) Download(ctx context.Context, req *BatchRequest, dir string) (*BatchResult, error) {
	if dir == "" {
		return nil, fmt.Errorf("batch download: destination directory is required")
	}
	result := &BatchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}

	names := make([]string, 0, len(req.Objects))
	for name := range req.Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, name := range names {
		name := name
		objectPath := req.Objects[name]
		local := filepath.Join(dir, filepath.Base(name))

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[name] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()

			err := b.storage.Download(ctx, objectPath, local)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[name] = err
				return
			}
			result.LocalPaths[name] = local
			result.Downloads++
		}()
	}

	wg.Wait()
	return result, nil
}
