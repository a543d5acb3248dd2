package wasm

import (
	"github.com/dtvmgo/dtvm/internal/leb128"
	"github.com/dtvmgo/dtvm/internal/werr"
)

// decoder is a bounded cursor over a module's raw bytes. Every read checks
// remaining length first, so a truncated or hostile module can never read
// past buf.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder { return &decoder{buf: buf} }

func (d *decoder) eof() bool { return d.pos >= len(d.buf) }

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) byte() (byte, *werr.Error) {
	if d.eof() {
		return 0, werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow).WithExtra("unexpected end of section")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) bytes(n int) ([]byte, *werr.Error) {
	if n < 0 || d.remaining() < n {
		return nil, werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow).WithExtra("unexpected end of section")
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) u32() (uint32, *werr.Error) {
	v, n, err := leb128.Uint32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

func (d *decoder) u64() (uint64, *werr.Error) {
	v, n, err := leb128.Uint64(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

func (d *decoder) i32() (int32, *werr.Error) {
	v, n, err := leb128.Int32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

func (d *decoder) i64() (int64, *werr.Error) {
	v, n, err := leb128.Int64(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

func (d *decoder) f32bits() (uint32, *werr.Error) {
	v, n, err := leb128.Fixed32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

func (d *decoder) f64bits() (uint64, *werr.Error) {
	v, n, err := leb128.Fixed64(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

// name reads a uleb-prefixed, UTF-8 validated string.
func (d *decoder) name() (string, *werr.Error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b, err := d.bytes(int(n))
	if err != nil {
		return "", err
	}
	if err := leb128.ValidateUTF8(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) valueType() (ValueType, *werr.Error) {
	b, err := d.byte()
	if err != nil {
		return 0, err
	}
	if !IsValueType(b) {
		return 0, werr.New(werr.PhaseLoad, werr.KindInvalidValueType).WithExtra("got %#x", b)
	}
	return ValueType(b), nil
}

func (d *decoder) limits(max uint32) (min uint32, maxOut *uint32, rerr *werr.Error) {
	flag, err := d.byte()
	if err != nil {
		return 0, nil, err
	}
	min, err = d.u32()
	if err != nil {
		return 0, nil, err
	}
	if flag == 1 {
		mx, err := d.u32()
		if err != nil {
			return 0, nil, err
		}
		if mx < min {
			return 0, nil, werr.New(werr.PhaseLoad, werr.KindInvalidExportDescriptor).WithExtra("max < min")
		}
		maxOut = &mx
	} else if flag != 0 {
		return 0, nil, werr.New(werr.PhaseLoad, werr.KindInvalidExportDescriptor).WithExtra("invalid limits flag %#x", flag)
	}
	if min > max || (maxOut != nil && *maxOut > max) {
		return 0, nil, werr.New(werr.PhaseLoad, werr.KindMemorySizeTooLarge)
	}
	return min, maxOut, nil
}

// constExpr decodes a single-opcode init-expression terminated by `end`, as
// used by globals, element and data segment offsets (spec §4.4 "Global").
func (d *decoder) constExpr(expected ValueType, m *Module) (ConstExpr, *werr.Error) {
	op, err := d.byte()
	if err != nil {
		return ConstExpr{}, err
	}
	var ce ConstExpr
	switch op {
	case opI32Const:
		v, err := d.i32()
		if err != nil {
			return ConstExpr{}, err
		}
		if expected != ValueTypeI32 {
			return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindInvalidInitExpr)
		}
		ce = ConstExpr{Kind: ConstExprI32Const, ValueBits: uint64(uint32(v))}
	case opI64Const:
		v, err := d.i64()
		if err != nil {
			return ConstExpr{}, err
		}
		if expected != ValueTypeI64 {
			return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindInvalidInitExpr)
		}
		ce = ConstExpr{Kind: ConstExprI64Const, ValueBits: uint64(v)}
	case opF32Const:
		v, err := d.f32bits()
		if err != nil {
			return ConstExpr{}, err
		}
		if expected != ValueTypeF32 {
			return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindInvalidInitExpr)
		}
		ce = ConstExpr{Kind: ConstExprF32Const, ValueBits: uint64(v)}
	case opF64Const:
		v, err := d.f64bits()
		if err != nil {
			return ConstExpr{}, err
		}
		if expected != ValueTypeF64 {
			return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindInvalidInitExpr)
		}
		ce = ConstExpr{Kind: ConstExprF64Const, ValueBits: v}
	case opGetGlobal:
		idx, err := d.u32()
		if err != nil {
			return ConstExpr{}, err
		}
		if int(idx) >= len(m.ImportGlobals) {
			return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindUnsupportedImport).
				WithExtra("get_global in init-expr must reference an imported global")
		}
		g := m.ImportGlobals[idx].Global
		if g.Mutable {
			return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindUnsupportedImport).
				WithExtra("init-expr get_global of a mutable global")
		}
		if g.ValType != expected {
			return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindInvalidInitExpr)
		}
		ce = ConstExpr{Kind: ConstExprGetGlobal, GlobalIndex: idx}
	default:
		return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindInvalidInitExpr).WithExtra("opcode %#x", op)
	}
	end, err := d.byte()
	if err != nil {
		return ConstExpr{}, err
	}
	if end != opEnd {
		return ConstExpr{}, werr.New(werr.PhaseLoad, werr.KindInvalidInitExpr).WithExtra("missing end")
	}
	return ce, nil
}

// EvalConstExpr resolves a ConstExpr against already-initialized imported
// globals, producing the raw 32/64-bit payload to store.
func EvalConstExpr(ce ConstExpr, importedGlobalValues []uint64) uint64 {
	if ce.Kind == ConstExprGetGlobal {
		return importedGlobalValues[ce.GlobalIndex]
	}
	return ce.ValueBits
}
