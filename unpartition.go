package batchkit

import (
	"cmp"
	"fmt"
	"slices"
)

type indexedResult[V any] struct {
	idx    int
	result Result[V]
}

// UnPartitionResults is the inverse of Partition. resultGroups[i][j] is the
// result for the item at original index requestGroups[i][j]; the output lists
// every result in original index order.
//
// CaughtResourceError results are replaced by their cause. resultGroups must
// have the same shape as requestGroups; a mismatch panics.
func UnPartitionResults[V any](requestGroups [][]int, resultGroups [][]Result[V]) []Result[V] {
	if len(requestGroups) != len(resultGroups) {
		panic(fmt.Sprintf("batchkit: unpartition: %d request groups but %d result groups",
			len(requestGroups), len(resultGroups)))
	}

	total := 0
	for i, group := range requestGroups {
		if len(group) != len(resultGroups[i]) {
			panic(fmt.Sprintf("batchkit: unpartition: group %d has %d indices but %d results",
				i, len(group), len(resultGroups[i])))
		}
		total += len(group)
	}

	pairs := make([]indexedResult[V], 0, total)
	for i, group := range requestGroups {
		for j, idx := range group {
			pairs = append(pairs, indexedResult[V]{idx: idx, result: resultGroups[i][j]})
		}
	}
	slices.SortStableFunc(pairs, func(a, b indexedResult[V]) int {
		return cmp.Compare(a.idx, b.idx)
	})

	out := make([]Result[V], len(pairs))
	for i, p := range pairs {
		r := p.result
		if caught, ok := r.Err.(CaughtResourceError); ok {
			r.Err = caught.Cause
		}
		out[i] = r
	}
	return out
}
