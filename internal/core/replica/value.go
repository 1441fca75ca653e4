// Package replica implements the replicated, delta-tracked object model.
package replica

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Scalar is the closed set of value types a Property can hold.
type Scalar interface {
	~bool | ~string |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// sameValue is == except that NaN equals NaN, so a NaN default is still
// elided and rewriting NaN is not a change.
func sameValue(a, b any) bool {
	return a == b || (a != a && b != b)
}

// coerce converts an inbound value to t.
//
// Values that crossed a wire or a persistence codec may arrive widened
// (float64 for any number) or as decimal strings for 64-bit integers.
// Lossy conversions are refused.
func coerce(v any, t reflect.Type) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value for %s", t)
	}

	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return v, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		if rv.Kind() == reflect.Bool {
			return rv.Convert(t).Interface(), nil
		}

	case reflect.String:
		if rv.Kind() == reflect.String {
			return rv.Convert(t).Interface(), nil
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := toInt64(rv)
		if ok {
			out := reflect.New(t).Elem()
			if out.OverflowInt(n) {
				return nil, fmt.Errorf("%d overflows %s", n, t)
			}
			out.SetInt(n)
			return out.Interface(), nil
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := toUint64(rv)
		if ok {
			out := reflect.New(t).Elem()
			if out.OverflowUint(n) {
				return nil, fmt.Errorf("%d overflows %s", n, t)
			}
			out.SetUint(n)
			return out.Interface(), nil
		}

	case reflect.Float32, reflect.Float64:
		f, ok := toFloat64(rv)
		if ok {
			out := reflect.New(t).Elem()
			out.SetFloat(f)
			return out.Interface(), nil
		}
	}

	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func toInt64(rv reflect.Value) (int64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		return int64(u), u <= math.MaxInt64
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case reflect.String:
		n, err := strconv.ParseInt(rv.String(), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toUint64(rv reflect.Value) (uint64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		return uint64(n), n >= 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return 0, false
		}
		return uint64(f), true
	case reflect.String:
		n, err := strconv.ParseUint(rv.String(), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat64(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.String:
		f, err := strconv.ParseFloat(rv.String(), 64)
		return f, err == nil
	}
	return 0, false
}
