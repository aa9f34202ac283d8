package batchkit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Partition groups items that are equal on every attribute except ignoreKey.
// Each group holds indices into items in their original order; groups appear
// in the order their first item appears.
//
//	Partition("bar_id", []Record{
//	    {"bar_id": 2, "x": true},
//	    {"bar_id": 3, "x": false},
//	    {"bar_id": 4, "x": true},
//	}) // [[0 2] [1]]
func Partition(ignoreKey string, items []Record) [][]int {
	return PartitionItems(items, ignoreKey)
}

// PartitionItems is Partition with any number of ignored attributes.
func PartitionItems(items []Record, ignoreKeys ...string) [][]int {
	groups := make([][]int, 0)
	pos := make(map[string]int)
	for i, item := range items {
		key := ContentKey(item, ignoreKeys...)
		g, ok := pos[key]
		if !ok {
			g = len(groups)
			pos[key] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// BatchKeysForPartitionItems returns the batchKey values of each group that
// PartitionItems(items, ignoreKeys...) would produce, in the same shape.
// A missing batch key yields nil in its slot.
func BatchKeysForPartitionItems(batchKey string, items []Record, ignoreKeys ...string) [][]any {
	groups := PartitionItems(items, ignoreKeys...)
	keys := make([][]any, len(groups))
	for g, group := range groups {
		keys[g] = make([]any, len(group))
		for j, idx := range group {
			keys[g][j] = items[idx][batchKey]
		}
	}
	return keys
}

// ContentKey returns a canonical serialization of item without ignoreKeys.
// Two records get the same key exactly when they are structurally equal,
// independent of map iteration order.
func ContentKey(item Record, ignoreKeys ...string) string {
	var b strings.Builder
	writeRecord(&b, item, ignoreKeys)
	return b.String()
}

func writeRecord(b *strings.Builder, r Record, ignore []string) {
	names := make([]string, 0, len(r))
	for name := range r {
		if slices.Contains(ignore, name) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(name))
		b.WriteByte(':')
		writeCanonical(b, r[name])
	}
	b.WriteByte('}')
}

func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
		return
	case Record:
		writeRecord(b, t, nil)
		return
	case map[string]any:
		writeRecord(b, t, nil)
		return
	case string:
		b.WriteString(strconv.Quote(t))
		return
	case bool:
		b.WriteString(strconv.FormatBool(t))
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		b.WriteString(strconv.Quote(rv.String()))
		return
	}
	if s, ok := scalarKey(v); ok {
		b.WriteString(s)
		return
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("null")
			return
		}
		writeCanonical(b, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			b.WriteString("null")
			return
		}
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, rv.Index(i).Interface())
		}
		b.WriteByte(']')
	case reflect.Map:
		writeMap(b, rv)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(b, "%T(%v)", v, v)
			return
		}
		b.Write(data)
	}
}

func writeMap(b *strings.Builder, rv reflect.Value) {
	if rv.IsNil() {
		b.WriteString("null")
		return
	}
	type entry struct {
		key string
		val any
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var kb strings.Builder
		writeCanonical(&kb, iter.Key().Interface())
		entries = append(entries, entry{key: kb.String(), val: iter.Value().Interface()})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return strings.Compare(a.key, b.key)
	})

	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.key)
		b.WriteByte(':')
		writeCanonical(b, e.val)
	}
	b.WriteByte('}')
}
