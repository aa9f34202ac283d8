// Package loader drives one batch of a batched resource through batchkit.
//
// A Loader is built from a Spec (usually decoded from YAML) and a Definition:
// 1. partition the batch by every attribute except the batch key
// 2. fetch each group concurrently, coalescing identical in-flight groups
// 3. reorder each group's response to its requested keys
// 4. reassemble the results in the original request order
//
// Registry keeps loaders by resource path for generated call sites.
package loader
