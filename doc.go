// Package batchkit provides the ordering and partition algebra behind batched
// resource loaders.
//
// It offers:
// - partitioning a batch into groups that share every attribute but the batch key
// - reordering list-shaped responses by an identifying property (SortByKeys)
// - reordering dict-shaped responses (ResultsDictToList)
// - reassembling per-group results into the original request order (UnPartitionResults)
// - per-item error variants that survive reordering (BatchItemNotFoundError, CaughtResourceError)
//
// All functions are pure and safe for concurrent use.
package batchkit
