package interp

import "github.com/dtvmgo/dtvm/internal/wasm"

// Minimal binary encoders for assembling fixture .wasm modules by hand, the
// way the teacher's own suite embeds small compiled binaries — here
// generated instead of checked in, since these fixtures exist only to drive
// the interpreter through specific opcode sequences.

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}
var wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}

const funcTypeTag = 0x60

const (
	idType     = 1
	idImport   = 2
	idFunction = 3
	idTable    = 4
	idMemory   = 5
	idExport   = 7
	idElement  = 9
	idCode     = 10
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(body)))...)
	return append(out, body...)
}

func nameBytes(s string) []byte {
	return append(uleb(uint32(len(s))), []byte(s)...)
}

type fixtureFunc struct {
	typeIdx uint32
	locals  []wasm.ValueType
	body    []byte
	export  string
}

type fixtureImport struct {
	module, field string
	typeIdx       uint32
}

// fixtureModule is a declarative description of a minimal module binary;
// zero-value fields (no memory, no table) are simply omitted.
type fixtureModule struct {
	types     [][2][]wasm.ValueType
	imports   []fixtureImport
	funcs     []fixtureFunc
	hasMemory bool
	memMin    uint32
	memMax    uint32
	hasTable  bool
	tableMin  uint32
	// tableInit lists function indices placed starting at table offset 0.
	tableInit []uint32
}

func (fm fixtureModule) build() []byte {
	var typeBody []byte
	for _, t := range fm.types {
		params, results := t[0], t[1]
		typeBody = append(typeBody, funcTypeTag)
		typeBody = append(typeBody, uleb(uint32(len(params)))...)
		for _, p := range params {
			typeBody = append(typeBody, byte(p))
		}
		typeBody = append(typeBody, uleb(uint32(len(results)))...)
		for _, r := range results {
			typeBody = append(typeBody, byte(r))
		}
	}

	var importBody []byte
	for _, imp := range fm.imports {
		importBody = append(importBody, nameBytes(imp.module)...)
		importBody = append(importBody, nameBytes(imp.field)...)
		importBody = append(importBody, byte(wasm.ExternKindFunc))
		importBody = append(importBody, uleb(imp.typeIdx)...)
	}

	var funcBody, codeBody, exportBody []byte
	nExports := uint32(0)
	for i, f := range fm.funcs {
		funcBody = append(funcBody, uleb(f.typeIdx)...)

		var entry []byte
		entry = append(entry, uleb(uint32(len(f.locals)))...)
		for _, lt := range f.locals {
			entry = append(entry, uleb(1)...)
			entry = append(entry, byte(lt))
		}
		entry = append(entry, f.body...)
		codeBody = append(codeBody, uleb(uint32(len(entry)))...)
		codeBody = append(codeBody, entry...)

		if f.export != "" {
			exportBody = append(exportBody, nameBytes(f.export)...)
			exportBody = append(exportBody, byte(wasm.ExternKindFunc))
			exportBody = append(exportBody, uleb(uint32(len(fm.imports)+i))...)
			nExports++
		}
	}

	out := append([]byte{}, wasmMagic...)
	out = append(out, wasmVersion...)
	if len(fm.types) > 0 {
		out = append(out, section(idType, append(uleb(uint32(len(fm.types))), typeBody...))...)
	}
	if len(fm.imports) > 0 {
		out = append(out, section(idImport, append(uleb(uint32(len(fm.imports))), importBody...))...)
	}
	if len(fm.funcs) > 0 {
		out = append(out, section(idFunction, append(uleb(uint32(len(fm.funcs))), funcBody...))...)
	}
	if fm.hasTable {
		tableBody := []byte{0x70}
		if fm.tableMin > 0 {
			// Unbounded: flag 0, min only.
			tableBody = append(tableBody, 0)
			tableBody = append(tableBody, uleb(fm.tableMin)...)
		} else {
			tableBody = append(tableBody, 0)
			tableBody = append(tableBody, uleb(0)...)
		}
		out = append(out, section(idTable, append(uleb(1), tableBody...))...)
	}
	if fm.hasMemory {
		var memBody []byte
		if fm.memMax > 0 {
			memBody = append([]byte{1}, uleb(fm.memMin)...)
			memBody = append(memBody, uleb(fm.memMax)...)
		} else {
			memBody = append([]byte{0}, uleb(fm.memMin)...)
		}
		out = append(out, section(idMemory, append(uleb(1), memBody...))...)
	}
	if nExports > 0 {
		out = append(out, section(idExport, append(uleb(nExports), exportBody...))...)
	}
	if fm.hasTable && len(fm.tableInit) > 0 {
		var elemBody []byte
		elemBody = append(elemBody, uleb(0)...)      // table index 0
		elemBody = append(elemBody, opI32Const, 0x00) // offset expr: i32.const 0
		elemBody = append(elemBody, opEnd)
		elemBody = append(elemBody, uleb(uint32(len(fm.tableInit)))...)
		for _, idx := range fm.tableInit {
			elemBody = append(elemBody, uleb(idx)...)
		}
		out = append(out, section(idElement, append(uleb(1), elemBody...))...)
	}
	if len(fm.funcs) > 0 {
		out = append(out, section(idCode, append(uleb(uint32(len(fm.funcs))), codeBody...))...)
	}
	return out
}
