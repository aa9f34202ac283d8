package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/chenyanchen/batchkit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Group is the input of one downstream call. Keys[i] is the batch key of Items[i].
type Group struct {
	Keys  []any
	Items []batchkit.Record
}

// Response is the output of one downstream call.
// List is used for list-shaped resources and Dict for dict-shaped ones.
type Response[V any] struct {
	List []batchkit.Result[V]
	Dict map[string]V
}

// ListResponse wraps plain values as a list-shaped response.
func ListResponse[V any](values ...V) Response[V] {
	list := make([]batchkit.Result[V], len(values))
	for i, v := range values {
		list[i] = batchkit.Ok(v)
	}
	return Response[V]{List: list}
}

// DictResponse wraps a dict-shaped response.
func DictResponse[V any](dict map[string]V) Response[V] {
	return Response[V]{Dict: dict}
}

// FetchFunc performs one downstream call. A returned error fails every item of
// the group; per-item failures go into Response.List as CaughtResourceError.
type FetchFunc[V any] func(ctx context.Context, group Group) (Response[V], error)

// Definition binds a Spec to its downstream call.
//
// Fetch must be provided.
// Get reads Spec.ReorderResultsByKey off a list item; required unless the
// resource is dict-shaped.
type Definition[V any] struct {
	Fetch FetchFunc[V]
	Get   func(v V) (any, bool)
}

// Loader loads batches of one resource.
type Loader[V any] struct {
	spec  Spec
	fetch FetchFunc[V]
	prop  batchkit.Property[V]
	opts  options

	sf singleflight.Group
}

func New[V any](spec Spec, def Definition[V], opts ...Option) (*Loader[V], error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("new loader: %w", err)
	}
	if def.Fetch == nil {
		return nil, fmt.Errorf("new loader %s: fetch func is nil", spec.Path.String())
	}
	if !spec.IsResponseDictionary && def.Get == nil {
		return nil, fmt.Errorf("new loader %s: get func is nil for a list-shaped resource", spec.Path.String())
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[V]{
		spec:  spec,
		fetch: def.Fetch,
		prop:  batchkit.Property[V]{Name: spec.reorderKey(), Get: def.Get},
		opts:  o,
	}, nil
}

// Spec returns the loader's spec.
func (l *Loader[V]) Spec() Spec {
	return l.spec
}

// Load returns one result per item, in items order.
//
// Items that differ only in the batch key or the spec's ignore keys share a
// downstream call. A failed call fails each of its items; a response that
// cannot be matched back to its keys fails the whole Load.
func (l *Loader[V]) Load(ctx context.Context, items []batchkit.Record) ([]batchkit.Result[V], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	groups := splitGroups(batchkit.PartitionItems(items, l.spec.partitionIgnoreKeys()...), l.spec.MaxBatchSize)
	results := make([][]batchkit.Result[V], len(groups))

	g, gctx := errgroup.WithContext(ctx)
	if l.opts.concurrency > 0 {
		g.SetLimit(l.opts.concurrency)
	}
	for i, indices := range groups {
		g.Go(func() error {
			res, err := l.loadGroup(gctx, newGroup(l.spec.BatchKey, items, indices))
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batchkit.UnPartitionResults(groups, results), nil
}

func (l *Loader[V]) loadGroup(ctx context.Context, group Group) ([]batchkit.Result[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.spec.Path
	logger := l.opts.logger.With(zap.Stringer("resource", path), zap.Int("keys", len(group.Keys)))
	l.opts.metrics.observeGroup(path, len(group.Keys))

	resp, err := l.fetchShared(ctx, group, logger)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.opts.metrics.groupFailed(path)
		logger.Warn("group fetch failed", zap.Error(err))

		err = l.opts.errorHandler(path, err)
		out := make([]batchkit.Result[V], len(group.Keys))
		for j, key := range group.Keys {
			out[j] = batchkit.Fail[V](batchkit.NewCaughtResourceError(path, err, key))
		}
		return out, nil
	}

	var out []batchkit.Result[V]
	if l.spec.IsResponseDictionary {
		out = batchkit.ResultsDictToList(resp.Dict, group.Keys, path)
	} else {
		out, err = batchkit.SortByKeys(resp.List, group.Keys, l.prop, path)
		if err != nil {
			l.opts.metrics.reconcileFailed(path)
			logger.Error("reorder response", zap.Error(err))
			return nil, fmt.Errorf("load %s: %w", path.String(), err)
		}
	}

	notFound := 0
	for _, r := range out {
		if _, ok := r.Err.(batchkit.BatchItemNotFoundError); ok {
			notFound++
		}
	}
	l.opts.metrics.notFound(path, notFound)
	if notFound > 0 {
		logger.Debug("keys missing from response", zap.Int("not_found", notFound))
	}
	return out, nil
}

// fetchShared runs at most one fetch per identical group. The fetch itself is
// detached from any single caller's cancellation; each caller stops waiting
// when its own ctx is done.
func (l *Loader[V]) fetchShared(ctx context.Context, group Group, logger *zap.Logger) (Response[V], error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.sf.DoChan(groupKey(group), func() (any, error) {
		logger.Debug("fetch group")
		return l.fetch(fetchCtx, group)
	})

	select {
	case <-ctx.Done():
		return Response[V]{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Response[V]{}, res.Err
		}
		if res.Shared {
			l.opts.metrics.sharedFetch(l.spec.Path)
		}
		return res.Val.(Response[V]), nil
	}
}

func newGroup(batchKey string, items []batchkit.Record, indices []int) Group {
	group := Group{
		Keys:  make([]any, len(indices)),
		Items: make([]batchkit.Record, len(indices)),
	}
	for j, idx := range indices {
		group.Items[j] = items[idx]
		group.Keys[j] = items[idx][batchKey]
	}
	return group
}

// groupKey identifies a group by content, so concurrent loads of the same
// group share one fetch.
func groupKey(group Group) string {
	var b strings.Builder
	for _, item := range group.Items {
		b.WriteString(batchkit.ContentKey(item))
		b.WriteByte('\n')
	}
	return b.String()
}

// splitGroups cuts groups longer than size into consecutive chunks.
func splitGroups(groups [][]int, size int) [][]int {
	if size <= 0 {
		return groups
	}
	out := make([][]int, 0, len(groups))
	for _, g := range groups {
		for len(g) > size {
			out = append(out, g[:size:size])
			g = g[size:]
		}
		out = append(out, g)
	}
	return out
}
