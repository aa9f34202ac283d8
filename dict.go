package batchkit

// ResultsDictToList turns a dict-shaped response, keyed by stringified
// identifier, into one result per key in keys order. Missing keys get a
// BatchItemNotFoundError.
func ResultsDictToList[K any, V any](response map[string]V, keys []K, path ResourcePath) []Result[V] {
	out := make([]Result[V], len(keys))
	for i, k := range keys {
		key := KeyString(k)
		if v, ok := response[key]; ok {
			out[i] = Ok(v)
			continue
		}
		out[i] = Fail[V](BatchItemNotFoundError{Path: path, Key: key})
	}
	return out
}
