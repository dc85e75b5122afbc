// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pluginpm/pkg/registry"
)

// metadataSource memoizes registry metadata for the duration of one
// resolution run. Lookups for the same name hit the network once;
// concurrent lookups are collapsed with singleflight.
type metadataSource struct {
	client registry.Client

	group singleflight.Group

	mu   sync.Mutex
	memo map[string]metadataResult

	// background warms the memo for names the solver is likely to ask
	// for next. Its errors are deliberately dropped: the foreground
	// lookup re-reports them when the name is actually needed.
	background *errgroup.Group
}

type metadataResult struct {
	meta *registry.PackageMetadata
	err  error
}

func newMetadataSource(client registry.Client, prefetchLimit int) *metadataSource {
	background := &errgroup.Group{}
	background.SetLimit(prefetchLimit)
	return &metadataSource{
		client:     client,
		memo:       make(map[string]metadataResult),
		background: background,
	}
}

// metadata returns the package's metadata, fetching and memoizing it on
// first use. A registry miss comes back as *UnknownPackageError; any
// other error is a transport failure the caller should abort on.
func (s *metadataSource) metadata(ctx context.Context, name string) (*registry.PackageMetadata, error) {
	s.mu.Lock()
	if r, ok := s.memo[name]; ok {
		s.mu.Unlock()
		return r.meta, r.err
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(name, func() (any, error) {
		meta, err := s.client.FetchMetadata(ctx, name)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				err = &UnknownPackageError{Package: name}
			}
		} else {
			meta.SortVersions()
		}

		s.mu.Lock()
		s.memo[name] = metadataResult{meta: meta, err: err}
		s.mu.Unlock()
		return meta, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*registry.PackageMetadata), nil
}

// prefetch starts background metadata fetches for names, skipping any
// that would exceed the concurrency limit. Purely an optimization; the
// solver never depends on prefetch having run.
func (s *metadataSource) prefetch(ctx context.Context, names []string) {
	for _, name := range names {
		s.mu.Lock()
		_, known := s.memo[name]
		s.mu.Unlock()
		if known {
			continue
		}

		s.background.TryGo(func() error {
			_, _ = s.metadata(ctx, name)
			return nil
		})
	}
}

// wait blocks until in-flight prefetches finish, so a run never leaks
// goroutines past its Resolve call.
func (s *metadataSource) wait() {
	_ = s.background.Wait()
}
