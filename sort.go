package batchkit

// SortByKeys reorders a list-shaped response so that result i answers keys[i].
//
// Items are matched to keys by the stringified value of prop. A
// CaughtResourceError item is matched by its ReorderValue instead. Keys with no
// matching item get a BatchItemNotFoundError. When several items share an
// identifier, the last one wins.
//
// An item that cannot be matched at all (a nil value, an item without prop, an
// error other than CaughtResourceError, or a CaughtResourceError whose
// ReorderValue is not a string or number) rejects the whole batch with a
// ReconcileError and no partial result.
func SortByKeys[K any, V any](items []Result[V], keys []K, prop Property[V], path ResourcePath) ([]Result[V], error) {
	index := make(map[string]Result[V], len(items))
	for _, item := range items {
		if item.Err != nil {
			switch e := item.Err.(type) {
			case CaughtResourceError:
				key, ok := scalarKey(e.ReorderValue)
				if !ok {
					return nil, ReconcileError{
						Path:    path,
						Message: "cannot sort list without a string or number reorder value",
						Value:   e.ReorderValue,
						Err:     e,
					}
				}
				index[key] = item
			default:
				return nil, ReconcileError{
					Path:    path,
					Message: "unexpected error in response list",
					Value:   item.Err,
					Err:     item.Err,
				}
			}
			continue
		}

		if isNil(item.Value) {
			return nil, ReconcileError{
				Path:    path,
				Message: "unexpected nil item in response list",
				Value:   item.Value,
			}
		}
		id, ok := prop.Get(item.Value)
		if !ok || isNil(id) {
			return nil, ReconcileError{
				Path:    path,
				Message: "response item has no " + prop.Name,
				Value:   item.Value,
			}
		}
		index[KeyString(id)] = item
	}

	out := make([]Result[V], len(keys))
	for i, k := range keys {
		key := KeyString(k)
		if item, ok := index[key]; ok {
			out[i] = item
			continue
		}
		out[i] = Fail[V](BatchItemNotFoundError{
			Path: path,
			Key:  key,
			Prop: prop.Name,
		})
	}
	return out, nil
}
