package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chenyanchen/batchkit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	ID   int64
	Name string
}

var usersPath = batchkit.ResourcePath{"users", "getUsers"}

func usersSpec() Spec {
	return Spec{
		Path:                usersPath,
		BatchKey:            "user_id",
		ReorderResultsByKey: "id",
	}
}

func userID(u testUser) (any, bool) {
	return u.ID, true
}

type fetchCall struct {
	locale string
	keys   []any
}

// fakeUsers answers every key except the missing ones, in reverse order.
type fakeUsers struct {
	mu      sync.Mutex
	calls   []fetchCall
	missing map[int]bool
	fail    map[string]error
}

func (f *fakeUsers) fetch(_ context.Context, g Group) (Response[testUser], error) {
	locale, _ := g.Items[0]["locale"].(string)
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{locale: locale, keys: append([]any(nil), g.Keys...)})
	f.mu.Unlock()

	if err := f.fail[locale]; err != nil {
		return Response[testUser]{}, err
	}
	var users []testUser
	for i := len(g.Keys) - 1; i >= 0; i-- {
		id := g.Keys[i].(int)
		if f.missing[id] {
			continue
		}
		users = append(users, testUser{ID: int64(id), Name: fmt.Sprintf("%s-%d", locale, id)})
	}
	return ListResponse(users...), nil
}

func userItems(locales ...string) []batchkit.Record {
	items := make([]batchkit.Record, len(locales))
	for i, locale := range locales {
		items[i] = batchkit.Record{"user_id": i + 1, "locale": locale}
	}
	return items
}

func TestLoaderLoadList(t *testing.T) {
	backend := &fakeUsers{missing: map[int]bool{4: true}}
	l, err := New(usersSpec(), Definition[testUser]{Fetch: backend.fetch, Get: userID})
	require.NoError(t, err)

	got, err := l.Load(context.Background(), userItems("en", "fr", "en", "en"))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, batchkit.Ok(testUser{ID: 1, Name: "en-1"}), got[0])
	assert.Equal(t, batchkit.Ok(testUser{ID: 2, Name: "fr-2"}), got[1])
	assert.Equal(t, batchkit.Ok(testUser{ID: 3, Name: "en-3"}), got[2])
	assert.Equal(t, batchkit.Fail[testUser](batchkit.BatchItemNotFoundError{
		Path: usersPath,
		Key:  "4",
		Prop: "id",
	}), got[3])

	assert.ElementsMatch(t, []fetchCall{
		{locale: "en", keys: []any{1, 3, 4}},
		{locale: "fr", keys: []any{2}},
	}, backend.calls)
}

func TestLoaderLoadDict(t *testing.T) {
	spec := Spec{
		Path:                 batchkit.ResourcePath{"names", "byID"},
		BatchKey:             "id",
		IsResponseDictionary: true,
	}
	l, err := New(spec, Definition[string]{
		Fetch: func(_ context.Context, g Group) (Response[string], error) {
			dict := make(map[string]string, len(g.Keys))
			for _, k := range g.Keys {
				if k.(int) == 2 {
					continue
				}
				dict[strconv.Itoa(k.(int))] = "name-" + strconv.Itoa(k.(int))
			}
			return DictResponse(dict), nil
		},
	})
	require.NoError(t, err)

	got, err := l.Load(context.Background(), []batchkit.Record{{"id": 3}, {"id": 2}, {"id": 1}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, batchkit.Ok("name-3"), got[0])
	assert.True(t, batchkit.IsNotFound(got[1].Err))
	assert.Equal(t, batchkit.Ok("name-1"), got[2])
}

func TestLoaderGroupFailureFailsItsItems(t *testing.T) {
	boom := errors.New("boom")
	backend := &fakeUsers{fail: map[string]error{"fr": boom}}
	l, err := New(usersSpec(), Definition[testUser]{Fetch: backend.fetch, Get: userID})
	require.NoError(t, err)

	got, err := l.Load(context.Background(), userItems("en", "fr", "en", "fr"))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, batchkit.Ok(testUser{ID: 1, Name: "en-1"}), got[0])
	assert.Equal(t, batchkit.Ok(testUser{ID: 3, Name: "en-3"}), got[2])
	for _, r := range []batchkit.Result[testUser]{got[1], got[3]} {
		require.Error(t, r.Err)
		assert.ErrorIs(t, r.Err, boom)
		assert.Equal(t, "resource users.getUsers: boom", r.Err.Error())
		var caught batchkit.CaughtResourceError
		assert.False(t, errors.As(r.Err, &caught), "caught errors must be unwrapped")
	}
}

func TestLoaderCustomErrorHandler(t *testing.T) {
	boom := errors.New("boom")
	sentinel := errors.New("users unavailable")
	backend := &fakeUsers{fail: map[string]error{"en": boom}}
	l, err := New(usersSpec(), Definition[testUser]{Fetch: backend.fetch, Get: userID},
		WithErrorHandler(func(path batchkit.ResourcePath, err error) error {
			return fmt.Errorf("%w (%s): %w", sentinel, path.String(), err)
		}))
	require.NoError(t, err)

	got, err := l.Load(context.Background(), userItems("en"))
	require.NoError(t, err)
	assert.ErrorIs(t, got[0].Err, sentinel)
	assert.ErrorIs(t, got[0].Err, boom)
}

func TestLoaderPerItemCaughtErrors(t *testing.T) {
	cause := errors.New("user 2 is locked")
	l, err := New(usersSpec(), Definition[testUser]{
		Fetch: func(_ context.Context, g Group) (Response[testUser], error) {
			return Response[testUser]{List: []batchkit.Result[testUser]{
				batchkit.Fail[testUser](batchkit.NewCaughtResourceError(usersPath, cause, 2)),
				batchkit.Ok(testUser{ID: 1, Name: "a"}),
			}}, nil
		},
		Get: userID,
	})
	require.NoError(t, err)

	got, err := l.Load(context.Background(), userItems("en", "en"))
	require.NoError(t, err)
	assert.Equal(t, batchkit.Ok(testUser{ID: 1, Name: "a"}), got[0])
	assert.Same(t, cause, got[1].Err)
}

func TestLoaderReconcileFailureFailsLoad(t *testing.T) {
	plain := errors.New("not a caught error")
	l, err := New(usersSpec(), Definition[testUser]{
		Fetch: func(_ context.Context, g Group) (Response[testUser], error) {
			return Response[testUser]{List: []batchkit.Result[testUser]{
				batchkit.Ok(testUser{ID: 1}),
				batchkit.Fail[testUser](plain),
			}}, nil
		},
		Get: userID,
	})
	require.NoError(t, err)

	got, err := l.Load(context.Background(), userItems("en", "en"))
	require.Error(t, err)
	assert.Nil(t, got)
	var reconcileErr batchkit.ReconcileError
	require.True(t, errors.As(err, &reconcileErr))
	assert.ErrorIs(t, err, plain)
}

func TestLoaderMaxBatchSize(t *testing.T) {
	spec := usersSpec()
	spec.MaxBatchSize = 2
	backend := &fakeUsers{}
	l, err := New(spec, Definition[testUser]{Fetch: backend.fetch, Get: userID})
	require.NoError(t, err)

	got, err := l.Load(context.Background(), userItems("en", "en", "en", "en", "en"))
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, r := range got {
		require.NoError(t, r.Err)
		assert.Equal(t, int64(i+1), r.Value.ID)
	}

	sizes := make([]int, 0, len(backend.calls))
	for _, c := range backend.calls {
		sizes = append(sizes, len(c.keys))
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{1, 2, 2}, sizes)
}

func TestLoaderSharesIdenticalInFlightFetches(t *testing.T) {
	var calls int32
	l, err := New(usersSpec(), Definition[testUser]{
		Fetch: func(_ context.Context, g Group) (Response[testUser], error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(100 * time.Millisecond)
			return ListResponse(testUser{ID: 1, Name: "a"}), nil
		},
		Get: userID,
	})
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			got, err := l.Load(context.Background(), userItems("en"))
			if err != nil {
				errCh <- err
				return
			}
			if got[0].Value.Name != "a" {
				errCh <- fmt.Errorf("unexpected result %+v", got[0])
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLoaderSharedFetchSurvivesOtherLoadFailure(t *testing.T) {
	enStarted := make(chan struct{})
	frGo := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var enCalls int32

	l, err := New(usersSpec(), Definition[testUser]{
		Fetch: func(ctx context.Context, g Group) (Response[testUser], error) {
			if g.Items[0]["locale"] == "fr" {
				<-frGo
				return Response[testUser]{List: []batchkit.Result[testUser]{
					batchkit.Fail[testUser](errors.New("unidentifiable")),
				}}, nil
			}
			atomic.AddInt32(&enCalls, 1)
			once.Do(func() { close(enStarted) })
			select {
			case <-ctx.Done():
				return Response[testUser]{}, ctx.Err()
			case <-release:
			}
			return ListResponse(testUser{ID: 1, Name: "en-1"}), nil
		},
		Get: userID,
	})
	require.NoError(t, err)

	type loadResult struct {
		got []batchkit.Result[testUser]
		err error
	}
	failing := make(chan loadResult, 1)
	go func() {
		got, err := l.Load(context.Background(), userItems("en", "fr"))
		failing <- loadResult{got, err}
	}()
	<-enStarted

	healthy := make(chan loadResult, 1)
	go func() {
		got, err := l.Load(context.Background(), userItems("en"))
		healthy <- loadResult{got, err}
	}()
	// Let the second Load join the in-flight en fetch.
	time.Sleep(50 * time.Millisecond)

	close(frGo)
	first := <-failing
	require.Error(t, first.err)
	var reconcileErr batchkit.ReconcileError
	assert.True(t, errors.As(first.err, &reconcileErr))

	close(release)
	second := <-healthy
	require.NoError(t, second.err)
	assert.Equal(t, []batchkit.Result[testUser]{batchkit.Ok(testUser{ID: 1, Name: "en-1"})}, second.got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&enCalls))
}

func TestLoaderCallerCancelStopsWaitingOnSharedFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	l, err := New(usersSpec(), Definition[testUser]{
		Fetch: func(_ context.Context, g Group) (Response[testUser], error) {
			close(started)
			<-release
			return ListResponse(testUser{ID: 1}), nil
		},
		Get: userID,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx, userItems("en"))
		done <- err
	}()
	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Load did not return after its context was cancelled")
	}
}

func TestLoaderConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	l, err := New(usersSpec(), Definition[testUser]{
		Fetch: func(_ context.Context, g Group) (Response[testUser], error) {
			cur := atomic.AddInt32(&inFlight, 1)
			defer atomic.AddInt32(&inFlight, -1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return ListResponse(testUser{ID: int64(g.Keys[0].(int))}), nil
		},
		Get: userID,
	}, WithConcurrency(1))
	require.NoError(t, err)

	got, err := l.Load(context.Background(), userItems("en", "fr", "de"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestLoaderCanceledContext(t *testing.T) {
	backend := &fakeUsers{}
	l, err := New(usersSpec(), Definition[testUser]{Fetch: backend.fetch, Get: userID})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Load(ctx, userItems("en"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, backend.calls)
}

func TestLoaderEmptyBatch(t *testing.T) {
	backend := &fakeUsers{}
	l, err := New(usersSpec(), Definition[testUser]{Fetch: backend.fetch, Get: userID})
	require.NoError(t, err)

	got, err := l.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, backend.calls)
}

func TestNewValidation(t *testing.T) {
	backend := &fakeUsers{}

	_, err := New(Spec{Path: usersPath}, Definition[testUser]{Fetch: backend.fetch, Get: userID})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = New(usersSpec(), Definition[testUser]{Get: userID})
	assert.ErrorContains(t, err, "fetch func is nil")

	_, err = New(usersSpec(), Definition[testUser]{Fetch: backend.fetch})
	assert.ErrorContains(t, err, "get func is nil")

	dict := usersSpec()
	dict.IsResponseDictionary = true
	_, err = New(dict, Definition[testUser]{Fetch: backend.fetch})
	assert.NoError(t, err)
}

func TestLoaderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "test")
	require.NoError(t, err)

	backend := &fakeUsers{missing: map[int]bool{3: true}, fail: map[string]error{"fr": errors.New("down")}}
	l, err := New(usersSpec(), Definition[testUser]{Fetch: backend.fetch, Get: userID}, WithMetrics(m))
	require.NoError(t, err)

	_, err = l.Load(context.Background(), userItems("en", "fr", "en"))
	require.NoError(t, err)

	label := usersPath.String()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.groups.WithLabelValues(label)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.groupFailures.WithLabelValues(label)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.itemsNotFound.WithLabelValues(label)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.reconcileFailures.WithLabelValues(label)))

	_, err = NewMetrics(reg, "test")
	assert.Error(t, err, "registering the same metrics twice must fail")
}

func TestSplitGroups(t *testing.T) {
	groups := [][]int{{0, 2, 4, 5, 6}, {1, 3}}
	assert.Equal(t, groups, splitGroups(groups, 0))
	assert.Equal(t, [][]int{{0, 2}, {4, 5}, {6}, {1, 3}}, splitGroups(groups, 2))
}
