// Package wasm is the runtime data model and binary loader: it decodes a
// Wasm 1.0 MVP module, validates every function body, and instantiates
// modules into sandboxed Instances that internal/interp can execute.
package wasm

// ValueType is one of the four MVP numeric types, plus two validator-only
// markers that never appear in a loaded module's metadata.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c

	// ValueTypeAny is the validator's stack-polymorphic top: it unifies with
	// any type requirement. It never appears outside validator.go.
	ValueTypeAny ValueType = 0x00
	// valueTypeInvalid marks a type-error sentinel distinct from a valid
	// value type or ValueTypeAny.
	valueTypeInvalid ValueType = 0xff
)

// ValueTypeName returns the Wasm text-format name of t, or "unknown".
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeAny:
		return "any"
	default:
		return "unknown"
	}
}

// IsValueType reports whether b decodes to one of the four MVP value types.
func IsValueType(b byte) bool {
	switch ValueType(b) {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return true
	default:
		return false
	}
}

// Is64 reports whether t occupies two 4-byte cells on the operand stack.
func (t ValueType) Is64() bool {
	return t == ValueTypeI64 || t == ValueTypeF64
}

// Cells returns the number of 4-byte value-stack cells t occupies.
func (t ValueType) Cells() int {
	if t.Is64() {
		return 2
	}
	return 1
}

// Size returns the in-memory byte size of t: 4 or 8.
func (t ValueType) Size() int {
	return t.Cells() * 4
}

// ExternKind classifies an import or export.
type ExternKind byte

const (
	ExternKindFunc ExternKind = iota
	ExternKindTable
	ExternKindMemory
	ExternKindGlobal
)

func (k ExternKind) String() string {
	switch k {
	case ExternKindFunc:
		return "func"
	case ExternKindTable:
		return "table"
	case ExternKindMemory:
		return "memory"
	case ExternKindGlobal:
		return "global"
	default:
		return "unknown"
	}
}
