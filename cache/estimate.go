package cache

import (
	"reflect"
	"time"
	"unicode/utf8"
)

// Size estimation is a heuristic, not an exact accounting: strings cost
// two bytes per character (wide-character assumption), numeric fields a
// flat eight bytes, containers a per-element overhead plus the
// recursively estimated element cost. Callers must treat the result as
// approximate.
const (
	// entryOverheadBytes is the flat bookkeeping cost charged per
	// cache entry on top of its value.
	entryOverheadBytes = 64

	elementOverheadBytes = 16
	scalarBytes          = 8

	// maxEstimateDepth stops runaway recursion on cyclic values.
	maxEstimateDepth = 8
)

// EstimateSize approximates the in-memory footprint of v in bytes.
func EstimateSize(v any) int64 {
	return estimate(reflect.ValueOf(v), 0)
}

func estimate(rv reflect.Value, depth int) int64 {
	if !rv.IsValid() || depth > maxEstimateDepth {
		return scalarBytes
	}

	switch rv.Kind() {
	case reflect.String:
		return 2 * int64(utf8.RuneCountInString(rv.String()))

	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return scalarBytes

	case reflect.Slice, reflect.Array:
		// Byte slices are counted raw, one byte per element.
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return int64(rv.Len())
		}
		var total int64
		for i := 0; i < rv.Len(); i++ {
			total += elementOverheadBytes + estimate(rv.Index(i), depth+1)
		}
		return total

	case reflect.Map:
		var total int64
		iter := rv.MapRange()
		for iter.Next() {
			total += elementOverheadBytes + estimate(iter.Key(), depth+1) + estimate(iter.Value(), depth+1)
		}
		return total

	case reflect.Struct:
		if rv.Type() == reflect.TypeOf(time.Time{}) {
			return 3 * scalarBytes
		}
		var total int64
		for i := 0; i < rv.NumField(); i++ {
			total += estimate(rv.Field(i), depth+1)
		}
		return total

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return scalarBytes
		}
		return scalarBytes + estimate(rv.Elem(), depth+1)

	default:
		return scalarBytes
	}
}
