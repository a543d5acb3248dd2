// Package api holds the embedder-facing types: the ones a host application
// imports without reaching into this module's internal packages. It mirrors
// the teacher's split of a narrow api package from the wider root package,
// trimmed to the MVP's actual surface (spec.md §6, SPEC_FULL.md "SUPPLEMENTED
// FEATURES").
package api

import "fmt"

// ValueType is a WebAssembly 1.0 value type.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(t))
	}
}

// FunctionType is a host function's declared Wasm signature, checked
// exactly against the importing module's declared type (spec.md §4.4).
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// CallContext is the embedder-visible surface of a running Instance, passed
// to every HostFunc so host code can read instance memory or its attached
// CustomData without this package depending on the Runtime/Isolation/
// Instance layer that would otherwise create an import cycle.
type CallContext interface {
	// Memory returns the instance's linear memory, or nil if the instance
	// declares none. The returned slice aliases the instance's live bytes.
	Memory() []byte
	// CustomData returns the embedder-attached opaque value last set with
	// SetCustomData, or nil.
	CustomData() interface{}
	// SetCustomData replaces the instance's opaque embedder-attached value.
	SetCustomData(interface{})
	// Exit records code as this call's exit code and marks the instance as
	// exited rather than trapped (SPEC_FULL.md "instance exit code").
	Exit(code int32)
}

// HostFunc is the native implementation an embedder registers for an
// imported function. Arguments and results travel as raw Wasm operand
// cells, in declared-type order, regardless of how many Go parameters the
// underlying implementation logically has.
type HostFunc func(ctx CallContext, args []uint64) ([]uint64, error)
