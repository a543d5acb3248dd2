package wasm

// Minimal binary encoders for constructing fixture modules by hand, the way
// a raw .wasm byte sequence would be assembled. Only the constructs these
// tests exercise are supported; there is no general-purpose encoder here
// because the production code only ever needs to decode (see DESIGN.md).

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

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

func fixed32(bits uint32) []byte {
	return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}

func fixed64(bits uint64) []byte {
	out := make([]byte, 8)
	for i := range out {
		out[i] = byte(bits >> (8 * i))
	}
	return out
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(body)))...)
	return append(out, body...)
}

func nameBytes(s string) []byte {
	out := uleb(uint32(len(s)))
	return append(out, []byte(s)...)
}

// moduleBuilder assembles section bytes in the fixed order the loader
// requires (spec.md §4.4), skipping any section never populated.
type moduleBuilder struct {
	types   []byte // N func types already tag+param+result encoded
	nTypes  uint32
	imports []byte
	nImport uint32
	funcs   []byte // type indices only
	nFuncs  uint32
	mems    []byte
	nMems   uint32
	exports []byte
	nExport uint32
	code    []byte // full per-function entries (size-prefixed)
	nCode   uint32
}

func newModuleBuilder() *moduleBuilder { return &moduleBuilder{} }

func (b *moduleBuilder) addType(params, results []ValueType) uint32 {
	idx := b.nTypes
	b.types = append(b.types, funcTypeTag)
	b.types = append(b.types, uleb(uint32(len(params)))...)
	for _, p := range params {
		b.types = append(b.types, byte(p))
	}
	b.types = append(b.types, uleb(uint32(len(results)))...)
	for _, r := range results {
		b.types = append(b.types, byte(r))
	}
	b.nTypes++
	return idx
}

func (b *moduleBuilder) addImportFunc(module, field string, typeIdx uint32) uint32 {
	idx := b.nImport
	b.imports = append(b.imports, nameBytes(module)...)
	b.imports = append(b.imports, nameBytes(field)...)
	b.imports = append(b.imports, byte(ExternKindFunc))
	b.imports = append(b.imports, uleb(typeIdx)...)
	b.nImport++
	return idx
}

func (b *moduleBuilder) addMemory(min uint32, max *uint32) {
	if max != nil {
		b.mems = append(b.mems, 1)
		b.mems = append(b.mems, uleb(min)...)
		b.mems = append(b.mems, uleb(*max)...)
	} else {
		b.mems = append(b.mems, 0)
		b.mems = append(b.mems, uleb(min)...)
	}
	b.nMems++
}

// addFunction declares a function of typeIdx with the given locals and body
// opcode bytes (body must include the trailing 0x0b `end`), returning its
// index in the combined function space.
func (b *moduleBuilder) addFunction(typeIdx uint32, locals []LocalGroup, body []byte) uint32 {
	idx := b.nImport + b.nFuncs
	b.funcs = append(b.funcs, uleb(typeIdx)...)
	b.nFuncs++

	var entry []byte
	entry = append(entry, uleb(uint32(len(locals)))...)
	for _, l := range locals {
		entry = append(entry, uleb(l.Count)...)
		entry = append(entry, byte(l.Type))
	}
	entry = append(entry, body...)

	b.code = append(b.code, uleb(uint32(len(entry)))...)
	b.code = append(b.code, entry...)
	b.nCode++
	return idx
}

func (b *moduleBuilder) addExportFunc(name string, funcIdx uint32) {
	b.exports = append(b.exports, nameBytes(name)...)
	b.exports = append(b.exports, byte(ExternKindFunc))
	b.exports = append(b.exports, uleb(funcIdx)...)
	b.nExport++
}

func (b *moduleBuilder) build() []byte {
	out := append([]byte{}, magic...)
	out = append(out, version...)
	if b.nTypes > 0 {
		out = append(out, section(byte(sectionType), append(uleb(b.nTypes), b.types...))...)
	}
	if b.nImport > 0 {
		out = append(out, section(byte(sectionImport), append(uleb(b.nImport), b.imports...))...)
	}
	if b.nFuncs > 0 {
		out = append(out, section(byte(sectionFunction), append(uleb(b.nFuncs), b.funcs...))...)
	}
	if b.nMems > 0 {
		out = append(out, section(byte(sectionMemory), append(uleb(b.nMems), b.mems...))...)
	}
	if b.nExport > 0 {
		out = append(out, section(byte(sectionExport), append(uleb(b.nExport), b.exports...))...)
	}
	if b.nCode > 0 {
		out = append(out, section(byte(sectionCode), append(uleb(b.nCode), b.code...))...)
	}
	return out
}
