package wasm

import "strconv"

// FunctionType is a Wasm 1.0 function signature: any number of parameters,
// at most one result.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType

	// canonicalIndex is the smallest type index in the owning Module whose
	// FunctionType is EqualTo this one. call_indirect type checks compare
	// canonicalIndex values instead of walking parameter/result vectors.
	canonicalIndex uint32
}

// EqualTo reports whether t and o have element-equal parameter and result
// vectors.
func (t *FunctionType) EqualTo(o *FunctionType) bool {
	if t == o {
		return true
	}
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range t.Results {
		if t.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// CanonicalIndex is the dedup index assigned during Type-section decoding.
func (t *FunctionType) CanonicalIndex() uint32 { return t.canonicalIndex }

// String renders the type the way trap messages and diagnostics do, e.g.
// "(i32, i32) -> i32".
func (t *FunctionType) String() string {
	s := "("
	for i, p := range t.Params {
		if i > 0 {
			s += ", "
		}
		s += ValueTypeName(p)
	}
	s += ") -> "
	if len(t.Results) == 0 {
		s += "()"
	} else {
		s += ValueTypeName(t.Results[0])
	}
	return s
}

// Import describes one entry of the Import section, of whichever ExternKind.
type Import struct {
	Module, Name string
	Kind         ExternKind

	// Populated according to Kind.
	FuncTypeIndex uint32
	Table         *Table
	Memory        *Memory
	Global        *GlobalType
}

// Table is a funcref table; the MVP allows at most one per module.
type Table struct {
	Min uint32
	Max *uint32 // nil == unbounded
}

// Memory describes linear memory limits in pages.
type Memory struct {
	Min uint32
	Max *uint32 // nil == unbounded (clamped to MaxMemoryPages at instantiation)
}

// GlobalType is a global's declared type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// ConstExprKind identifies the opcode of a constant/init expression.
type ConstExprKind byte

const (
	ConstExprI32Const ConstExprKind = iota
	ConstExprI64Const
	ConstExprF32Const
	ConstExprF64Const
	ConstExprGetGlobal
)

// ConstExpr is a decoded init-expression: a single constant opcode followed
// by `end`, or get_global of an earlier imported immutable global.
type ConstExpr struct {
	Kind        ConstExprKind
	ValueBits   uint64 // raw i32/i64/f32/f64 payload
	GlobalIndex uint32 // valid when Kind == ConstExprGetGlobal
}

// Global is an internally declared module global: its type plus the
// expression that initializes it at instantiation.
type Global struct {
	Type GlobalType
	Init ConstExpr
}

// Export maps a name to an index within one of the four extern namespaces.
type Export struct {
	Name  string
	Kind  ExternKind
	Index uint32
}

// ElementSegment initializes a range of a table with function indices.
type ElementSegment struct {
	TableIndex uint32
	Offset     ConstExpr
	FuncIndexes []uint32
}

// DataSegment initializes a range of linear memory with bytes.
type DataSegment struct {
	MemoryIndex uint32
	Offset      ConstExpr
	Bytes       []byte
}

// LocalGroup is one (run-count, type) pair from a function body's locals
// header.
type LocalGroup struct {
	Count uint32
	Type  ValueType
}

// BlockTarget records, for a block/loop/if opcode's position in a
// CodeEntry's Body, the positions of its matching else (0 if none) and end.
// The validator computes these eagerly (spec §4.8 calls this "memoising the
// pointers to else and end upon first encounter") so the interpreter never
// re-scans the opcode stream to resolve a branch target.
type BlockTarget struct {
	ElsePos int // 0 means no else
	EndPos  int // position just after the matching `end` opcode
}

// CodeEntry is one decoded function body: its locals header plus the
// validated opcode stream and the statistics the validator computed for
// frame sizing.
type CodeEntry struct {
	Locals        []LocalGroup
	NumLocalCells int    // sum of Locals cell counts (params excluded)
	Body          []byte // opcode stream, post-validator rewrites (drop_64/select_64)

	MaxStackSizeBytes int
	MaxBlockDepth     int

	// BlockTargets maps a block/loop/if opcode's byte position to its
	// resolved branch targets.
	BlockTargets map[int]BlockTarget
}

// FunctionDecl is one internally declared function: its type, recorded both
// as the original and the canonical (deduped) index.
type FunctionDecl struct {
	TypeIndex          uint32
	CanonicalTypeIndex uint32
}

// Module is the immutable result of loading and validating a Wasm binary.
// It is safe to share by reference across goroutines and Instances.
type Module struct {
	NameHint string

	Types []*FunctionType

	ImportFuncs    []*Import
	ImportTables   []*Import
	ImportMemories []*Import
	ImportGlobals  []*Import

	Functions []FunctionDecl // internal functions only, imports excluded
	Tables    []*Table       // internal tables only
	Memories  []*Memory      // internal memories only
	Globals   []*Global      // internal globals only

	Exports     []*Export
	exportIndex map[string]int // name -> index into Exports, enforces uniqueness

	Elements []*ElementSegment
	Code     []*CodeEntry // one per internal function, index-aligned with Functions
	Data     []*DataSegment

	StartFunction *uint32
	DataCount     *uint32

	// FunctionNames maps a function index (imports first) to its Name
	// subsection entry, when present.
	FunctionNames map[uint32]string

	// GasFuncIndex is set when an export named "func_gas" of type
	// [i64] -> [] designates the gas-accounting host function (spec §4.10).
	GasFuncIndex *uint32

	Layout *InstanceLayout
}

// TotalFunctions is the size of the function index space: imports first,
// then internal functions.
func (m *Module) TotalFunctions() int {
	return len(m.ImportFuncs) + len(m.Functions)
}

// TotalTables is the size of the table index space (at most 1 in the MVP).
func (m *Module) TotalTables() int { return len(m.ImportTables) + len(m.Tables) }

// TotalMemories is the size of the memory index space (at most 1 in the MVP).
func (m *Module) TotalMemories() int { return len(m.ImportMemories) + len(m.Memories) }

// TotalGlobals is the size of the global index space: imports first.
func (m *Module) TotalGlobals() int { return len(m.ImportGlobals) + len(m.Globals) }

// FuncTypeIndex returns the declared type index for the function at the
// given position in the combined (imports-first) function index space.
func (m *Module) FuncTypeIndex(funcIdx uint32) uint32 {
	if int(funcIdx) < len(m.ImportFuncs) {
		return m.ImportFuncs[funcIdx].FuncTypeIndex
	}
	return m.Functions[int(funcIdx)-len(m.ImportFuncs)].TypeIndex
}

// FuncCanonicalTypeIndex returns the canonical (deduped) type index for the
// function at the given position in the combined function index space.
func (m *Module) FuncCanonicalTypeIndex(funcIdx uint32) uint32 {
	if int(funcIdx) < len(m.ImportFuncs) {
		return m.Types[m.ImportFuncs[funcIdx].FuncTypeIndex].canonicalIndex
	}
	return m.Functions[int(funcIdx)-len(m.ImportFuncs)].CanonicalTypeIndex
}

// FuncType returns the FunctionType for the function at funcIdx.
func (m *Module) FuncType(funcIdx uint32) *FunctionType {
	return m.Types[m.FuncTypeIndex(funcIdx)]
}

// GlobalTypeOf returns the declared type of the global at globalIdx.
func (m *Module) GlobalTypeOf(globalIdx uint32) GlobalType {
	if int(globalIdx) < len(m.ImportGlobals) {
		return *m.ImportGlobals[globalIdx].Global
	}
	return m.Globals[int(globalIdx)-len(m.ImportGlobals)].Type
}

// HasMemory reports whether the module declares or imports a memory.
func (m *Module) HasMemory() bool { return m.TotalMemories() > 0 }

// HasTable reports whether the module declares or imports a table.
func (m *Module) HasTable() bool { return m.TotalTables() > 0 }

// addExport records an export, enforcing name uniqueness (invariant: for
// any exported name n, exactly one export entry has that name).
func (m *Module) addExport(e *Export) bool {
	if m.exportIndex == nil {
		m.exportIndex = make(map[string]int)
	}
	if _, dup := m.exportIndex[e.Name]; dup {
		return false
	}
	m.exportIndex[e.Name] = len(m.Exports)
	m.Exports = append(m.Exports, e)
	return true
}

// FindExport returns the export named n, if any.
func (m *Module) FindExport(n string) (*Export, bool) {
	if m.exportIndex == nil {
		return nil, false
	}
	idx, ok := m.exportIndex[n]
	if !ok {
		return nil, false
	}
	return m.Exports[idx], true
}

// FunctionDebugName returns the Name-section name for funcIdx, or a
// "$<index>" placeholder, matching how the teacher formats DebugName.
func (m *Module) FunctionDebugName(funcIdx uint32) string {
	if name, ok := m.FunctionNames[funcIdx]; ok && name != "" {
		return name
	}
	return "$" + strconv.Itoa(int(funcIdx))
}
