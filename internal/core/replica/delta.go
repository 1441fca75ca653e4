// Package replica implements the replicated, delta-tracked object model.
package replica

import "fmt"

// DeltaKind tells whether a delta resets a property or sets a value.
type DeltaKind uint8

const (
	// DeltaReset returns the property to its default.
	DeltaReset DeltaKind = iota + 1
	// DeltaSet stores Value.
	DeltaSet
)

// String returns the kind name.
func (k DeltaKind) String() string {
	switch k {
	case DeltaReset:
		return "reset"
	case DeltaSet:
		return "set"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Delta records one property mutation. It is a plain value and may be
// copied into any number of queues.
type Delta struct {
	Property PropertyID
	Kind     DeltaKind
	Value    any // nil for DeltaReset
}

// ResetDelta builds a reset delta for id.
func ResetDelta(id PropertyID) Delta {
	return Delta{Property: id, Kind: DeltaReset}
}

// SetDelta builds a set delta for id.
func SetDelta(id PropertyID, v any) Delta {
	return Delta{Property: id, Kind: DeltaSet, Value: v}
}

// IsReset reports whether d resets its property.
func (d Delta) IsReset() bool {
	return d.Kind == DeltaReset
}

func (d Delta) String() string {
	if d.Kind == DeltaSet {
		return fmt.Sprintf("set(%s=%v)", d.Property, d.Value)
	}
	return fmt.Sprintf("%s(%s)", d.Kind, d.Property)
}

// Compact keeps only the last delta per property.
// Survivors stay in the order they were queued.
func Compact(deltas []Delta) []Delta {
	if len(deltas) < 2 {
		return deltas
	}

	seen := make(map[PropertyID]struct{}, len(deltas))
	out := make([]Delta, 0, len(deltas))
	for i := len(deltas) - 1; i >= 0; i-- {
		d := deltas[i]
		if _, dup := seen[d.Property]; dup {
			continue
		}
		seen[d.Property] = struct{}{}
		out = append(out, d)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
