package wasm

import "github.com/dtvmgo/dtvm/internal/werr"

// FuncKind distinguishes a function instance's implementation.
type FuncKind byte

const (
	FuncKindByteCode FuncKind = iota
	FuncKindNative
)

// HostFunc is the shape every native import resolves to: raw operand cells
// in, raw operand cells out, following the function's declared type. Errors
// surface as traps in the calling Instance.
type HostFunc func(inst *Instance, args []uint64) ([]uint64, *werr.Error)

// FunctionInstance is one resolved entry of an Instance's function index
// space, either bytecode (internal) or native (imported).
type FunctionInstance struct {
	Kind FuncKind
	Type *FunctionType

	// ByteCode fields.
	Code *CodeEntry

	// Native fields.
	Native HostFunc

	DebugName string
}

// GlobalInstance is one resolved global's live value, stored as a raw
// 64-bit cell regardless of declared width.
type GlobalInstance struct {
	Type  GlobalType
	Value uint64
}

// uninitializedElement is the table sentinel spec §4.7 describes.
const uninitializedElement = 0xFFFFFFFF

// TableInstance holds resolved function indices; uninitializedElement marks
// a slot no element segment has touched.
type TableInstance struct {
	Elements []uint32
	Max      *uint32
}

// MemoryInstance wraps the allocator's region with the module's declared
// page limits.
type MemoryInstance struct {
	Region   *MemoryRegion
	MinPages uint32
	MaxPages uint32 // clamped by the runtime's configured cap
}

func (mi *MemoryInstance) PageCount() uint32 { return uint32(mi.Region.CurrentBytes / PageSize) }

// Instance is one instantiated, sandboxed execution context for a Module.
// It owns its own globals, table, and memory; functions are shared
// read-only state (Module.Code) except for imports, which are bound at
// instantiation.
type Instance struct {
	Module *Module

	Functions []*FunctionInstance // index-aligned with the function index space
	Globals   []*GlobalInstance
	Table     *TableInstance // nil if the module has no table
	Memory    *MemoryInstance // nil if the module has no memory

	GasFuncIndex *uint32
	GasLeft      uint64

	// CustomData is an embedder-attached opaque slot (SPEC_FULL.md
	// "per-instance custom_data"), analogous to the original's user-data
	// pointer on its Instance struct.
	CustomData interface{}

	// ExitCode is set when a host function calls Exit through its
	// CallContext; the running call then unwinds with a KindInstanceExit
	// error, a controlled exit rather than an ordinary trap
	// (SPEC_FULL.md "instance exit code").
	ExitCode    int32
	HasExitCode bool
}

// ImportResolver supplies the native functions and extern values an
// instantiation's imports bind to, keyed by (module, field).
type ImportResolver interface {
	ResolveFunc(module, field string, ft *FunctionType) (HostFunc, *werr.Error)
	ResolveGlobal(module, field string, gt GlobalType) (*GlobalInstance, *werr.Error)
}

// CallFunc invokes an already-instantiated function by index; it is how
// Instantiate runs the start function without internal/wasm depending on
// the interpreter package that implements bytecode execution.
type CallFunc func(inst *Instance, funcIdx uint32, args []uint64) ([]uint64, *werr.Error)

// InstantiateOptions configures one Instantiate call.
type InstantiateOptions struct {
	Resolver       ImportResolver
	Call           CallFunc
	MaxGas         uint64
	PreferMmap     bool
	MaxMemoryPages uint32 // 0 means Module's own declared max (or MaxMemoryPages)
}

// Instantiate builds a fresh Instance from m: globals, then functions, then
// table, then memory, then the start function (spec §4.7, in that order).
func Instantiate(m *Module, opts InstantiateOptions) (*Instance, *werr.Error) {
	inst := &Instance{Module: m, GasFuncIndex: m.GasFuncIndex, GasLeft: opts.MaxGas}

	if err := instantiateGlobals(m, inst, opts); err != nil {
		return nil, err
	}
	if err := instantiateFunctions(m, inst, opts); err != nil {
		return nil, err
	}
	if err := instantiateTable(m, inst); err != nil {
		return nil, err
	}
	if err := instantiateMemory(m, inst, opts); err != nil {
		return nil, err
	}

	if m.StartFunction != nil {
		if _, err := opts.Call(inst, *m.StartFunction, nil); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

func instantiateGlobals(m *Module, inst *Instance, opts InstantiateOptions) *werr.Error {
	inst.Globals = make([]*GlobalInstance, m.TotalGlobals())
	for i, imp := range m.ImportGlobals {
		gi, err := opts.Resolver.ResolveGlobal(imp.Module, imp.Name, *imp.Global)
		if err != nil {
			return err
		}
		inst.Globals[i] = gi
	}
	base := len(m.ImportGlobals)
	importedValues := make([]uint64, len(m.ImportGlobals))
	for i, g := range inst.Globals[:base] {
		importedValues[i] = g.Value
	}
	for i, g := range m.Globals {
		value := EvalConstExpr(g.Init, importedValues)
		inst.Globals[base+i] = &GlobalInstance{Type: g.Type, Value: value}
	}
	return nil
}

func instantiateFunctions(m *Module, inst *Instance, opts InstantiateOptions) *werr.Error {
	total := m.TotalFunctions()
	inst.Functions = make([]*FunctionInstance, total)
	for i, imp := range m.ImportFuncs {
		ft := m.Types[imp.FuncTypeIndex]
		fn, err := opts.Resolver.ResolveFunc(imp.Module, imp.Name, ft)
		if err != nil {
			return err
		}
		inst.Functions[i] = &FunctionInstance{Kind: FuncKindNative, Type: ft, Native: fn, DebugName: imp.Module + "." + imp.Name}
	}
	base := len(m.ImportFuncs)
	for i, decl := range m.Functions {
		idx := uint32(base + i)
		inst.Functions[idx] = &FunctionInstance{
			Kind:      FuncKindByteCode,
			Type:      m.Types[decl.TypeIndex],
			Code:      m.Code[i],
			DebugName: m.FunctionDebugName(idx),
		}
	}
	return nil
}

func instantiateTable(m *Module, inst *Instance) *werr.Error {
	if !m.HasTable() {
		return nil
	}
	var size uint32
	var max *uint32
	if len(m.ImportTables) > 0 {
		size, max = m.ImportTables[0].Table.Min, m.ImportTables[0].Table.Max
	} else {
		size, max = m.Tables[0].Min, m.Tables[0].Max
	}
	elems := make([]uint32, size)
	for i := range elems {
		elems[i] = uninitializedElement
	}
	inst.Table = &TableInstance{Elements: elems, Max: max}

	importedGlobalValues := importedGlobalValuesOf(inst)
	for _, seg := range m.Elements {
		offset := uint32(EvalConstExpr(seg.Offset, importedGlobalValues))
		if uint64(offset)+uint64(len(seg.FuncIndexes)) > uint64(len(elems)) {
			return werr.New(werr.PhaseInstantiation, werr.KindElementDoesNotFitTable)
		}
		copy(elems[offset:], seg.FuncIndexes)
	}
	return nil
}

func instantiateMemory(m *Module, inst *Instance, opts InstantiateOptions) *werr.Error {
	if !m.HasMemory() {
		return nil
	}
	var decl *Memory
	if len(m.ImportMemories) > 0 {
		decl = m.ImportMemories[0].Memory
	} else {
		decl = m.Memories[0]
	}
	maxPages := uint32(MaxMemoryPages)
	if decl.Max != nil && *decl.Max < maxPages {
		maxPages = *decl.Max
	}
	if opts.MaxMemoryPages > 0 && opts.MaxMemoryPages < maxPages {
		maxPages = opts.MaxMemoryPages
	}
	if decl.Min > maxPages {
		return werr.New(werr.PhaseInstantiation, werr.KindMemorySizeTooLarge)
	}

	region, err := AllocInit(uint64(decl.Min)*PageSize, opts.PreferMmap)
	if err != nil {
		return err
	}
	inst.Memory = &MemoryInstance{Region: region, MinPages: decl.Min, MaxPages: maxPages}

	importedGlobalValues := importedGlobalValuesOf(inst)
	for _, seg := range m.Data {
		offset := uint32(EvalConstExpr(seg.Offset, importedGlobalValues))
		if uint64(offset)+uint64(len(seg.Bytes)) > region.CurrentBytes {
			return werr.New(werr.PhaseInstantiation, werr.KindDataDoesNotFitMemory)
		}
		copy(region.Bytes[offset:], seg.Bytes)
	}
	return nil
}

func importedGlobalValuesOf(inst *Instance) []uint64 {
	n := len(inst.Module.ImportGlobals)
	vals := make([]uint64, n)
	for i := 0; i < n; i++ {
		vals[i] = inst.Globals[i].Value
	}
	return vals
}
