package interp

import (
	"encoding/binary"
	"math"
	"math/bits"

	moremath "github.com/dtvmgo/dtvm/internal/moremath"
	"github.com/dtvmgo/dtvm/internal/wasm"
	"github.com/dtvmgo/dtvm/internal/werr"
)

// run executes frame's bytecode to completion: either it falls off the end
// of the function's root block (returning the final operand-stack values)
// or it calls into itself recursively via ce.callFunction, or it traps.
func (ce *callEngine) run(inst *wasm.Instance, frame *callFrame) ([]uint64, *werr.Error) {
	body := frame.fn.Code.Body
	targets := frame.fn.Code.BlockTargets

	for {
		opPos := frame.ip
		if opPos >= len(body) {
			if len(frame.ctrl) == 0 {
				// A branch to the function's root block lands here.
				return finalStack(frame), nil
			}
			return nil, werr.New(werr.PhaseExecution, werr.KindUnreachable).WithExtra("fell off function body")
		}
		op := body[opPos]
		frame.ip++

		switch op {
		case opUnreachable:
			return nil, werr.New(werr.PhaseExecution, werr.KindUnreachable)

		case opNop:

		case opBlock, opLoop, opIf:
			params, results, err := readBlockTypeRT(inst.Module, body, &frame.ip)
			if err != nil {
				return nil, err
			}
			cond := true
			if op == opIf {
				cond = frame.popU32() != 0
			}
			bt := targets[opPos]
			startIP := -1
			if op == opLoop {
				startIP = frame.ip
			}
			entry := ctrlEntry{
				paramTypes:  params,
				resultTypes: results,
				stackBase:   len(frame.stack) - len(params),
				isLoop:      op == opLoop,
				startIP:     startIP,
				endIP:       bt.EndPos,
			}
			frame.ctrl = append(frame.ctrl, entry)
			if op == opIf && !cond {
				if bt.ElsePos != 0 {
					frame.ip = bt.ElsePos + 1
				} else {
					frame.ip = bt.EndPos - 1
				}
			}

		case opElse:
			// Reached by falling through a taken if-branch: behave exactly
			// like `end` for the enclosing if, except execution must then
			// skip past the matching end without running the else body.
			top := frame.top()
			bt := targets[findBlockStart(targets, opPos, true)]
			closeBlock(frame, top)
			frame.ctrl = frame.ctrl[:len(frame.ctrl)-1]
			frame.ip = bt.EndPos

		case opEnd:
			top := frame.top()
			closeBlock(frame, top)
			frame.ctrl = frame.ctrl[:len(frame.ctrl)-1]
			if len(frame.ctrl) == 0 {
				return finalStack(frame), nil
			}

		case opBr:
			depth, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.branch(depth)

		case opBrIf:
			depth, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			if frame.popU32() != 0 {
				frame.branch(depth)
			}

		case opBrTable:
			n, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			targetsList := make([]uint32, n)
			for i := range targetsList {
				if targetsList[i], err = readU32(body, &frame.ip); err != nil {
					return nil, err
				}
			}
			defaultDepth, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			selector := frame.popU32()
			depth := defaultDepth
			if int(selector) < len(targetsList) {
				depth = targetsList[selector]
			}
			frame.branch(depth)

		case opReturn:
			return finalStack(frame), nil

		case opCall:
			callee, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			if err := ce.doCall(inst, frame, callee); err != nil {
				return nil, err
			}

		case opCallIndirect:
			typeIdx, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.ip++ // reserved byte
			tblIdx := frame.popU32()
			if inst.Table == nil || int(tblIdx) >= len(inst.Table.Elements) {
				return nil, werr.New(werr.PhaseExecution, werr.KindUndefinedElement)
			}
			callee := inst.Table.Elements[tblIdx]
			if callee == 0xFFFFFFFF {
				return nil, werr.New(werr.PhaseExecution, werr.KindUninitializedElement)
			}
			want := inst.Module.Types[typeIdx].CanonicalIndex()
			got := inst.Module.FuncCanonicalTypeIndex(callee)
			if want != got {
				return nil, werr.New(werr.PhaseExecution, werr.KindIndirectCallTypeMismatch)
			}
			if err := ce.doCall(inst, frame, callee); err != nil {
				return nil, err
			}

		case opDrop:
			frame.pop()
		case opDrop64:
			frame.pop()

		case opSelect:
			cond := frame.popU32()
			b := frame.pop()
			a := frame.pop()
			if cond != 0 {
				frame.push(a)
			} else {
				frame.push(b)
			}
		case opSelect64:
			cond := frame.popU32()
			b := frame.pop()
			a := frame.pop()
			if cond != 0 {
				frame.push(a)
			} else {
				frame.push(b)
			}

		case opGetLocal:
			idx, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.push(frame.locals[idx])
		case opSetLocal:
			idx, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.locals[idx] = frame.pop()
		case opTeeLocal:
			idx, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.locals[idx] = frame.stack[len(frame.stack)-1]

		case opGetGlobal, opGetGlobal64:
			idx, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.push(inst.Globals[idx].Value)
		case opSetGlobal, opSetGlobal64:
			idx, err := readU32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			inst.Globals[idx].Value = frame.pop()

		case opI32Const:
			v, err := readI32(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.pushI32(v)
		case opI64Const:
			v, err := readI64(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.pushI64(v)
		case opF32Const:
			v, err := readF32Bits(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.push(uint64(v))
		case opF64Const:
			v, err := readF64Bits(body, &frame.ip)
			if err != nil {
				return nil, err
			}
			frame.push(v)

		case opMemorySize:
			frame.ip++ // reserved byte
			frame.pushU32(inst.Memory.PageCount())
		case opMemoryGrow:
			frame.ip++ // reserved byte
			delta := frame.popU32()
			frame.pushU32(growMemory(inst, delta))

		default:
			if err := ce.execNumericOrMemory(inst, frame, body, op); err != nil {
				return nil, err
			}
		}
	}
}

func finalStack(frame *callFrame) []uint64 {
	n := len(frame.fn.Type.Results)
	return frame.stack[len(frame.stack)-n:]
}

// closeBlock trims the operand stack to exactly the block's arity, as the
// validator already proved is the only reachable shape.
func closeBlock(frame *callFrame, top *ctrlEntry) {
	n := len(top.resultTypes)
	saved := make([]uint64, n)
	copy(saved, frame.stack[len(frame.stack)-n:])
	frame.stack = frame.stack[:top.stackBase]
	frame.stack = append(frame.stack, saved...)
}

// findBlockStart resolves an else opcode's owning if's start position by
// scanning the per-function BlockTargets map for the entry whose ElsePos
// equals opPos.
func findBlockStart(targets map[int]wasm.BlockTarget, elsePos int, mustFind bool) int {
	for start, t := range targets {
		if t.ElsePos == elsePos {
			return start
		}
	}
	if mustFind {
		panic("else with no matching if: validator should have rejected this module")
	}
	return -1
}

func readBlockTypeRT(m *wasm.Module, body []byte, ip *int) ([]wasm.ValueType, []wasm.ValueType, *werr.Error) {
	b := body[*ip]
	if b == blockTypeEmptyRT {
		*ip++
		return nil, nil, nil
	}
	if isValueTypeByte(b) {
		*ip++
		return nil, []wasm.ValueType{wasm.ValueType(b)}, nil
	}
	idx, err := readI64(body, ip)
	if err != nil {
		return nil, nil, err
	}
	ft := m.Types[idx]
	return ft.Params, ft.Results, nil
}

const blockTypeEmptyRT = 0x40

func isValueTypeByte(b byte) bool {
	return wasm.IsValueType(b)
}

func (ce *callEngine) doCall(inst *wasm.Instance, frame *callFrame, callee uint32) *werr.Error {
	ft := inst.Module.FuncType(callee)
	args := make([]uint64, len(ft.Params))
	copy(args, frame.stack[len(frame.stack)-len(args):])
	frame.stack = frame.stack[:len(frame.stack)-len(args)]

	results, err := ce.callFunction(inst, callee, args)
	if err != nil {
		return err
	}
	frame.stack = append(frame.stack, results...)
	return nil
}

func growMemory(inst *wasm.Instance, deltaPages uint32) uint32 {
	mem := inst.Memory
	oldPages := mem.PageCount()
	newPages := oldPages + deltaPages
	if deltaPages == 0 {
		return oldPages
	}
	if newPages > mem.MaxPages || newPages < oldPages {
		return 0xFFFFFFFF
	}
	if err := mem.Region.Enlarge(uint64(newPages) * wasm.PageSize); err != nil {
		return 0xFFFFFFFF
	}
	return oldPages
}

func memBounds(inst *wasm.Instance, addr, offset uint32, size int) (int, int, *werr.Error) {
	start := uint64(addr) + uint64(offset)
	end := start + uint64(size)
	if end > inst.Memory.Region.CurrentBytes {
		return 0, 0, werr.New(werr.PhaseExecution, werr.KindOutOfBoundsMemory)
	}
	return int(start), int(end), nil
}

// execNumericOrMemory handles every opcode not already dispatched in run:
// arithmetic, comparisons, conversions, and memory load/store.
func (ce *callEngine) execNumericOrMemory(inst *wasm.Instance, frame *callFrame, body []byte, op byte) *werr.Error {
	switch op {
	case opI32Eqz:
		frame.pushU32(b2u32(frame.popU32() == 0))
	case opI32Eq:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(b2u32(a == b))
	case opI32Ne:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(b2u32(a != b))
	case opI32LtS:
		b, a := frame.popI32(), frame.popI32()
		frame.pushU32(b2u32(a < b))
	case opI32LtU:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(b2u32(a < b))
	case opI32GtS:
		b, a := frame.popI32(), frame.popI32()
		frame.pushU32(b2u32(a > b))
	case opI32GtU:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(b2u32(a > b))
	case opI32LeS:
		b, a := frame.popI32(), frame.popI32()
		frame.pushU32(b2u32(a <= b))
	case opI32LeU:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(b2u32(a <= b))
	case opI32GeS:
		b, a := frame.popI32(), frame.popI32()
		frame.pushU32(b2u32(a >= b))
	case opI32GeU:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(b2u32(a >= b))

	case opI32Clz:
		frame.pushU32(uint32(bits.LeadingZeros32(frame.popU32())))
	case opI32Ctz:
		frame.pushU32(uint32(bits.TrailingZeros32(frame.popU32())))
	case opI32Popcnt:
		frame.pushU32(uint32(bits.OnesCount32(frame.popU32())))
	case opI32Add:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(a + b)
	case opI32Sub:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(a - b)
	case opI32Mul:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(a * b)
	case opI32DivS:
		b, a := frame.popI32(), frame.popI32()
		if b == 0 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerDivByZero)
		}
		if a == math.MinInt32 && b == -1 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerOverflow)
		}
		frame.pushI32(a / b)
	case opI32DivU:
		b, a := frame.popU32(), frame.popU32()
		if b == 0 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerDivByZero)
		}
		frame.pushU32(a / b)
	case opI32RemS:
		b, a := frame.popI32(), frame.popI32()
		if b == 0 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerDivByZero)
		}
		if b == -1 {
			frame.pushI32(0)
		} else {
			frame.pushI32(a % b)
		}
	case opI32RemU:
		b, a := frame.popU32(), frame.popU32()
		if b == 0 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerDivByZero)
		}
		frame.pushU32(a % b)
	case opI32And:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(a & b)
	case opI32Or:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(a | b)
	case opI32Xor:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(a ^ b)
	case opI32Shl:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(a << (b & 31))
	case opI32ShrS:
		b, a := frame.popU32(), frame.popI32()
		frame.pushI32(a >> (b & 31))
	case opI32ShrU:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(a >> (b & 31))
	case opI32Rotl:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(bits.RotateLeft32(a, int(b&31)))
	case opI32Rotr:
		b, a := frame.popU32(), frame.popU32()
		frame.pushU32(bits.RotateLeft32(a, -int(b&31)))

	case opI64Eqz:
		frame.pushU32(b2u32(frame.pop() == 0))
	case opI64Eq:
		b, a := frame.pop(), frame.pop()
		frame.pushU32(b2u32(a == b))
	case opI64Ne:
		b, a := frame.pop(), frame.pop()
		frame.pushU32(b2u32(a != b))
	case opI64LtS:
		b, a := frame.popI64(), frame.popI64()
		frame.pushU32(b2u32(a < b))
	case opI64LtU:
		b, a := frame.pop(), frame.pop()
		frame.pushU32(b2u32(a < b))
	case opI64GtS:
		b, a := frame.popI64(), frame.popI64()
		frame.pushU32(b2u32(a > b))
	case opI64GtU:
		b, a := frame.pop(), frame.pop()
		frame.pushU32(b2u32(a > b))
	case opI64LeS:
		b, a := frame.popI64(), frame.popI64()
		frame.pushU32(b2u32(a <= b))
	case opI64LeU:
		b, a := frame.pop(), frame.pop()
		frame.pushU32(b2u32(a <= b))
	case opI64GeS:
		b, a := frame.popI64(), frame.popI64()
		frame.pushU32(b2u32(a >= b))
	case opI64GeU:
		b, a := frame.pop(), frame.pop()
		frame.pushU32(b2u32(a >= b))

	case opI64Clz:
		frame.push(uint64(bits.LeadingZeros64(frame.pop())))
	case opI64Ctz:
		frame.push(uint64(bits.TrailingZeros64(frame.pop())))
	case opI64Popcnt:
		frame.push(uint64(bits.OnesCount64(frame.pop())))
	case opI64Add:
		b, a := frame.pop(), frame.pop()
		frame.push(a + b)
	case opI64Sub:
		b, a := frame.pop(), frame.pop()
		frame.push(a - b)
	case opI64Mul:
		b, a := frame.pop(), frame.pop()
		frame.push(a * b)
	case opI64DivS:
		b, a := frame.popI64(), frame.popI64()
		if b == 0 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerDivByZero)
		}
		if a == math.MinInt64 && b == -1 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerOverflow)
		}
		frame.pushI64(a / b)
	case opI64DivU:
		b, a := frame.pop(), frame.pop()
		if b == 0 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerDivByZero)
		}
		frame.push(a / b)
	case opI64RemS:
		b, a := frame.popI64(), frame.popI64()
		if b == 0 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerDivByZero)
		}
		if b == -1 {
			frame.pushI64(0)
		} else {
			frame.pushI64(a % b)
		}
	case opI64RemU:
		b, a := frame.pop(), frame.pop()
		if b == 0 {
			return werr.New(werr.PhaseExecution, werr.KindIntegerDivByZero)
		}
		frame.push(a % b)
	case opI64And:
		b, a := frame.pop(), frame.pop()
		frame.push(a & b)
	case opI64Or:
		b, a := frame.pop(), frame.pop()
		frame.push(a | b)
	case opI64Xor:
		b, a := frame.pop(), frame.pop()
		frame.push(a ^ b)
	case opI64Shl:
		b, a := frame.pop(), frame.pop()
		frame.push(a << (b & 63))
	case opI64ShrS:
		b, a := frame.pop(), frame.popI64()
		frame.pushI64(a >> (b & 63))
	case opI64ShrU:
		b, a := frame.pop(), frame.pop()
		frame.push(a >> (b & 63))
	case opI64Rotl:
		b, a := frame.pop(), frame.pop()
		frame.push(bits.RotateLeft64(a, int(b&63)))
	case opI64Rotr:
		b, a := frame.pop(), frame.pop()
		frame.push(bits.RotateLeft64(a, -int(b&63)))

	case opF32Abs:
		frame.pushF32(float32(math.Abs(float64(frame.popF32()))))
	case opF32Neg:
		frame.pushF32(-frame.popF32())
	case opF32Ceil:
		frame.pushF32(canon32(float32(math.Ceil(float64(frame.popF32())))))
	case opF32Floor:
		frame.pushF32(canon32(float32(math.Floor(float64(frame.popF32())))))
	case opF32Trunc:
		frame.pushF32(canon32(float32(math.Trunc(float64(frame.popF32())))))
	case opF32Nearest:
		frame.pushF32(canon32(float32(math.RoundToEven(float64(frame.popF32())))))
	case opF32Sqrt:
		frame.pushF32(canon32(float32(math.Sqrt(float64(frame.popF32())))))
	case opF32Eq:
		b, a := frame.popF32(), frame.popF32()
		frame.pushU32(b2u32(a == b))
	case opF32Ne:
		b, a := frame.popF32(), frame.popF32()
		frame.pushU32(b2u32(a != b))
	case opF32Lt:
		b, a := frame.popF32(), frame.popF32()
		frame.pushU32(b2u32(a < b))
	case opF32Gt:
		b, a := frame.popF32(), frame.popF32()
		frame.pushU32(b2u32(a > b))
	case opF32Le:
		b, a := frame.popF32(), frame.popF32()
		frame.pushU32(b2u32(a <= b))
	case opF32Ge:
		b, a := frame.popF32(), frame.popF32()
		frame.pushU32(b2u32(a >= b))
	case opF32Add:
		b, a := frame.popF32(), frame.popF32()
		frame.pushF32(canon32(a + b))
	case opF32Sub:
		b, a := frame.popF32(), frame.popF32()
		frame.pushF32(canon32(a - b))
	case opF32Mul:
		b, a := frame.popF32(), frame.popF32()
		frame.pushF32(canon32(a * b))
	case opF32Div:
		b, a := frame.popF32(), frame.popF32()
		frame.pushF32(canon32(a / b))
	case opF32Min:
		b, a := frame.popF32(), frame.popF32()
		frame.pushF32(canon32(float32(moremath.WasmCompatMin(float64(a), float64(b)))))
	case opF32Max:
		b, a := frame.popF32(), frame.popF32()
		frame.pushF32(canon32(float32(moremath.WasmCompatMax(float64(a), float64(b)))))
	case opF32Copysign:
		b, a := frame.popF32(), frame.popF32()
		frame.pushF32(float32(math.Copysign(float64(a), float64(b))))

	case opF64Abs:
		frame.pushF64(math.Abs(frame.popF64()))
	case opF64Neg:
		frame.pushF64(-frame.popF64())
	case opF64Ceil:
		frame.pushF64(canon64(math.Ceil(frame.popF64())))
	case opF64Floor:
		frame.pushF64(canon64(math.Floor(frame.popF64())))
	case opF64Trunc:
		frame.pushF64(canon64(math.Trunc(frame.popF64())))
	case opF64Nearest:
		frame.pushF64(canon64(math.RoundToEven(frame.popF64())))
	case opF64Sqrt:
		frame.pushF64(canon64(math.Sqrt(frame.popF64())))
	case opF64Eq:
		b, a := frame.popF64(), frame.popF64()
		frame.pushU32(b2u32(a == b))
	case opF64Ne:
		b, a := frame.popF64(), frame.popF64()
		frame.pushU32(b2u32(a != b))
	case opF64Lt:
		b, a := frame.popF64(), frame.popF64()
		frame.pushU32(b2u32(a < b))
	case opF64Gt:
		b, a := frame.popF64(), frame.popF64()
		frame.pushU32(b2u32(a > b))
	case opF64Le:
		b, a := frame.popF64(), frame.popF64()
		frame.pushU32(b2u32(a <= b))
	case opF64Ge:
		b, a := frame.popF64(), frame.popF64()
		frame.pushU32(b2u32(a >= b))
	case opF64Add:
		b, a := frame.popF64(), frame.popF64()
		frame.pushF64(canon64(a + b))
	case opF64Sub:
		b, a := frame.popF64(), frame.popF64()
		frame.pushF64(canon64(a - b))
	case opF64Mul:
		b, a := frame.popF64(), frame.popF64()
		frame.pushF64(canon64(a * b))
	case opF64Div:
		b, a := frame.popF64(), frame.popF64()
		frame.pushF64(canon64(a / b))
	case opF64Min:
		b, a := frame.popF64(), frame.popF64()
		frame.pushF64(canon64(moremath.WasmCompatMin(a, b)))
	case opF64Max:
		b, a := frame.popF64(), frame.popF64()
		frame.pushF64(canon64(moremath.WasmCompatMax(a, b)))
	case opF64Copysign:
		b, a := frame.popF64(), frame.popF64()
		frame.pushF64(math.Copysign(a, b))

	case opI32WrapI64:
		frame.pushU32(uint32(frame.pop()))
	case opI64ExtendSI32:
		frame.pushI64(int64(frame.popI32()))
	case opI64ExtendUI32:
		frame.push(uint64(frame.popU32()))
	case opI32Extend8S:
		frame.pushI32(int32(int8(frame.popI32())))
	case opI32Extend16S:
		frame.pushI32(int32(int16(frame.popI32())))
	case opI64Extend8S:
		frame.pushI64(int64(int8(frame.pop())))
	case opI64Extend16S:
		frame.pushI64(int64(int16(frame.pop())))
	case opI64Extend32S:
		frame.pushI64(int64(int32(frame.pop())))

	case opI32TruncSF32:
		v := frame.popF32()
		r, err := truncToInt(float64(v), -2147483904, 2147483648, false)
		if err != nil {
			return err
		}
		frame.pushI32(int32(r))
	case opI32TruncUF32:
		v := frame.popF32()
		r, err := truncToInt(float64(v), -1, 4294967296, true)
		if err != nil {
			return err
		}
		frame.pushU32(uint32(r))
	case opI32TruncSF64:
		v := frame.popF64()
		r, err := truncToInt(v, -2147483649, 2147483648, false)
		if err != nil {
			return err
		}
		frame.pushI32(int32(r))
	case opI32TruncUF64:
		v := frame.popF64()
		r, err := truncToInt(v, -1, 4294967296, true)
		if err != nil {
			return err
		}
		frame.pushU32(uint32(r))
	case opI64TruncSF32:
		v := frame.popF32()
		r, err := truncToInt(float64(v), -9223373136366403584, 9223372036854775808, false)
		if err != nil {
			return err
		}
		frame.pushI64(int64(r))
	case opI64TruncUF32:
		v := frame.popF32()
		r, err := truncToInt(float64(v), -1, 18446744073709551616, true)
		if err != nil {
			return err
		}
		frame.push(uint64(r))
	case opI64TruncSF64:
		v := frame.popF64()
		r, err := truncToInt(v, -9223372036854777856, 9223372036854775808, false)
		if err != nil {
			return err
		}
		frame.pushI64(int64(r))
	case opI64TruncUF64:
		v := frame.popF64()
		r, err := truncToInt(v, -1, 18446744073709551616, true)
		if err != nil {
			return err
		}
		frame.push(uint64(r))

	case opF32ConvertSI32:
		frame.pushF32(float32(frame.popI32()))
	case opF32ConvertUI32:
		frame.pushF32(float32(frame.popU32()))
	case opF32ConvertSI64:
		frame.pushF32(float32(frame.popI64()))
	case opF32ConvertUI64:
		frame.pushF32(float32(frame.pop()))
	case opF32DemoteF64:
		frame.pushF32(canon32(float32(frame.popF64())))
	case opF64ConvertSI32:
		frame.pushF64(float64(frame.popI32()))
	case opF64ConvertUI32:
		frame.pushF64(float64(frame.popU32()))
	case opF64ConvertSI64:
		frame.pushF64(float64(frame.popI64()))
	case opF64ConvertUI64:
		frame.pushF64(float64(frame.pop()))
	case opF64PromoteF32:
		frame.pushF64(canon64(float64(frame.popF32())))

	case opI32ReinterpretF32:
		frame.pushU32(math.Float32bits(frame.popF32()))
	case opI64ReinterpretF64:
		frame.push(math.Float64bits(frame.popF64()))
	case opF32ReinterpretI32:
		frame.push(uint64(frame.popU32()))
	case opF64ReinterpretI64:
		frame.push(frame.pop())

	default:
		return execMemory(inst, frame, body, op)
	}
	return nil
}

func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// truncToInt implements spec.md §4.8's trunc_{s,u} boundary rules: NaN
// traps InvalidConversionToInteger. lo and hi are the nearest integers
// outside the target range that the source float type can represent; a
// truncated value at or below lo, or at or above hi, traps IntegerOverflow.
func truncToInt(v float64, lo, hi float64, unsigned bool) (int64, *werr.Error) {
	if math.IsNaN(v) {
		return 0, werr.New(werr.PhaseExecution, werr.KindInvalidConversionToInteger)
	}
	t := math.Trunc(v)
	if t <= lo || t >= hi {
		return 0, werr.New(werr.PhaseExecution, werr.KindIntegerOverflow)
	}
	if unsigned {
		return int64(uint64(t)), nil
	}
	return int64(t), nil
}

func execMemory(inst *wasm.Instance, frame *callFrame, body []byte, op byte) *werr.Error {
	align, err := readU32(body, &frame.ip)
	if err != nil {
		return err
	}
	_ = align
	offset, err := readU32(body, &frame.ip)
	if err != nil {
		return err
	}

	switch op {
	case opI32Load:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 4)
		if err != nil {
			return err
		}
		frame.pushU32(binary.LittleEndian.Uint32(inst.Memory.Region.Bytes[s:e]))
	case opI64Load:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 8)
		if err != nil {
			return err
		}
		frame.push(binary.LittleEndian.Uint64(inst.Memory.Region.Bytes[s:e]))
	case opF32Load:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 4)
		if err != nil {
			return err
		}
		frame.push(uint64(binary.LittleEndian.Uint32(inst.Memory.Region.Bytes[s:e])))
	case opF64Load:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 8)
		if err != nil {
			return err
		}
		frame.push(binary.LittleEndian.Uint64(inst.Memory.Region.Bytes[s:e]))
	case opI32Load8S:
		addr := frame.popU32()
		s, _, err := memBounds(inst, addr, offset, 1)
		if err != nil {
			return err
		}
		frame.pushI32(int32(int8(inst.Memory.Region.Bytes[s])))
	case opI32Load8U:
		addr := frame.popU32()
		s, _, err := memBounds(inst, addr, offset, 1)
		if err != nil {
			return err
		}
		frame.pushU32(uint32(inst.Memory.Region.Bytes[s]))
	case opI32Load16S:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 2)
		if err != nil {
			return err
		}
		frame.pushI32(int32(int16(binary.LittleEndian.Uint16(inst.Memory.Region.Bytes[s:e]))))
	case opI32Load16U:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 2)
		if err != nil {
			return err
		}
		frame.pushU32(uint32(binary.LittleEndian.Uint16(inst.Memory.Region.Bytes[s:e])))
	case opI64Load8S:
		addr := frame.popU32()
		s, _, err := memBounds(inst, addr, offset, 1)
		if err != nil {
			return err
		}
		frame.pushI64(int64(int8(inst.Memory.Region.Bytes[s])))
	case opI64Load8U:
		addr := frame.popU32()
		s, _, err := memBounds(inst, addr, offset, 1)
		if err != nil {
			return err
		}
		frame.push(uint64(inst.Memory.Region.Bytes[s]))
	case opI64Load16S:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 2)
		if err != nil {
			return err
		}
		frame.pushI64(int64(int16(binary.LittleEndian.Uint16(inst.Memory.Region.Bytes[s:e]))))
	case opI64Load16U:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 2)
		if err != nil {
			return err
		}
		frame.push(uint64(binary.LittleEndian.Uint16(inst.Memory.Region.Bytes[s:e])))
	case opI64Load32S:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 4)
		if err != nil {
			return err
		}
		frame.pushI64(int64(int32(binary.LittleEndian.Uint32(inst.Memory.Region.Bytes[s:e]))))
	case opI64Load32U:
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 4)
		if err != nil {
			return err
		}
		frame.push(uint64(binary.LittleEndian.Uint32(inst.Memory.Region.Bytes[s:e])))

	case opI32Store:
		v := frame.popU32()
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(inst.Memory.Region.Bytes[s:e], v)
	case opI64Store:
		v := frame.pop()
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(inst.Memory.Region.Bytes[s:e], v)
	case opF32Store:
		v := uint32(frame.pop())
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(inst.Memory.Region.Bytes[s:e], v)
	case opF64Store:
		v := frame.pop()
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(inst.Memory.Region.Bytes[s:e], v)
	case opI32Store8:
		v := frame.popU32()
		addr := frame.popU32()
		s, _, err := memBounds(inst, addr, offset, 1)
		if err != nil {
			return err
		}
		inst.Memory.Region.Bytes[s] = byte(v)
	case opI32Store16:
		v := frame.popU32()
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(inst.Memory.Region.Bytes[s:e], uint16(v))
	case opI64Store8:
		v := frame.pop()
		addr := frame.popU32()
		s, _, err := memBounds(inst, addr, offset, 1)
		if err != nil {
			return err
		}
		inst.Memory.Region.Bytes[s] = byte(v)
	case opI64Store16:
		v := frame.pop()
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(inst.Memory.Region.Bytes[s:e], uint16(v))
	case opI64Store32:
		v := frame.pop()
		addr := frame.popU32()
		s, e, err := memBounds(inst, addr, offset, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(inst.Memory.Region.Bytes[s:e], uint32(v))

	default:
		return werr.New(werr.PhaseExecution, werr.KindUnreachable).WithExtra("unknown opcode %#x at runtime", op)
	}
	return nil
}
