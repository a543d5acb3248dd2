package wasm

import "github.com/dtvmgo/dtvm/internal/werr"

// controlLabelKind classifies an open control-flow block during validation.
type controlLabelKind byte

const (
	labelFunction controlLabelKind = iota
	labelBlock
	labelLoop
	labelIf
)

// controlBlock is one entry of the validator's block stack (spec §4.5
// "ControlBlock").
type controlBlock struct {
	Kind        controlLabelKind
	ParamTypes  []ValueType
	ResultTypes []ValueType
	// StackBase is the value-stack height when this block was entered,
	// counting its param arity as already present.
	StackBase   int
	Polymorphic bool
	HasElse     bool

	// StartPos is the byte position of this block's own opcode (Block/Loop/
	// If); -1 for the synthetic function-root block, which no branch can
	// target by address (a `return` or a br to the deepest depth handles
	// that case instead).
	StartPos int
	ElsePos  int
}

// branchArity returns the type vector a branch to this block must supply:
// a Loop's own params (branching re-enters at the top), otherwise its
// results.
func (b *controlBlock) branchArity() []ValueType {
	if b.Kind == labelLoop {
		return b.ParamTypes
	}
	return b.ResultTypes
}

func sameTypeVector(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// funcValidator is the mutable state of one validateFunction pass.
type funcValidator struct {
	m      *Module
	locals []ValueType
	ft     *FunctionType

	vs         []ValueType
	stackBytes int
	maxBytes   int

	blocks   []controlBlock
	maxDepth int
}

func (v *funcValidator) top() *controlBlock { return &v.blocks[len(v.blocks)-1] }

func (v *funcValidator) push(t ValueType) {
	v.vs = append(v.vs, t)
	v.stackBytes += t.Size()
	if v.stackBytes > v.maxBytes {
		v.maxBytes = v.stackBytes
	}
}

func (v *funcValidator) pop() (ValueType, *werr.Error) {
	top := v.top()
	if len(v.vs) > top.StackBase {
		t := v.vs[len(v.vs)-1]
		v.vs = v.vs[:len(v.vs)-1]
		v.stackBytes -= t.Size()
		return t, nil
	}
	if top.Polymorphic {
		return ValueTypeAny, nil
	}
	return 0, werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra("stack underflow")
}

func typeCompatible(got, want ValueType) bool {
	return got == want || got == ValueTypeAny || want == ValueTypeAny
}

func (v *funcValidator) popExpect(want ValueType) *werr.Error {
	got, err := v.pop()
	if err != nil {
		return err
	}
	if !typeCompatible(got, want) {
		return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).
			WithExtra("want %s got %s", ValueTypeName(want), ValueTypeName(got))
	}
	return nil
}

// checkArity verifies that the top len(arity) stack values match arity, in
// order (arity's last element is the stack top). When pop is false the
// values are restored, as required for br_if and end.
func (v *funcValidator) checkArity(arity []ValueType, pop bool) *werr.Error {
	popped := make([]ValueType, len(arity))
	for i := len(arity) - 1; i >= 0; i-- {
		got, err := v.pop()
		if err != nil {
			return err
		}
		if !typeCompatible(got, arity[i]) {
			return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).
				WithExtra("branch arity: want %s got %s", ValueTypeName(arity[i]), ValueTypeName(got))
		}
		popped[i] = got
	}
	if !pop {
		for _, t := range popped {
			v.push(t)
		}
	}
	return nil
}

// setPolymorphic discards whatever the current block has accumulated above
// its base and marks it polymorphic: further pops within it yield `any`
// until the block closes (spec §4.5 "Polymorphic stacks").
func (v *funcValidator) setPolymorphic() {
	top := v.top()
	for _, t := range v.vs[top.StackBase:] {
		v.stackBytes -= t.Size()
	}
	v.vs = v.vs[:top.StackBase]
	top.Polymorphic = true
}

func (v *funcValidator) enterBlock(kind controlLabelKind, params, results []ValueType, startPos int) *werr.Error {
	if err := v.checkArity(params, false); err != nil {
		return err
	}
	v.blocks = append(v.blocks, controlBlock{
		Kind:        kind,
		ParamTypes:  params,
		ResultTypes: results,
		StackBase:   len(v.vs) - len(params),
		StartPos:    startPos,
		ElsePos:     -1,
	})
	if len(v.blocks) > v.maxDepth {
		v.maxDepth = len(v.blocks)
	}
	return nil
}

// readBlockType decodes a block's type immediate: 0x40 (void), a bare value
// type, or a signed index into the module's Type section (the multi-value
// shape spec.md §4.5 calls "a reference to a declared function type").
func readBlockType(d *decoder, m *Module) (params, results []ValueType, rerr *werr.Error) {
	b, err := d.byte()
	if err != nil {
		return nil, nil, err
	}
	if b == blockTypeEmpty {
		return nil, nil, nil
	}
	if IsValueType(b) {
		return nil, []ValueType{ValueType(b)}, nil
	}
	d.pos--
	idx, err := d.i64()
	if err != nil {
		return nil, nil, err
	}
	if idx < 0 || int(idx) >= len(m.Types) {
		return nil, nil, werr.New(werr.PhaseLoad, werr.KindUnknownType)
	}
	ft := m.Types[idx]
	return ft.Params, ft.Results, nil
}

const reservedByteMustBeZero = "reserved byte must be zero"

type loadSig struct {
	natAlign uint32
	result   ValueType
}

var loadSigs = map[byte]loadSig{
	opI32Load:    {2, ValueTypeI32},
	opI64Load:    {3, ValueTypeI64},
	opF32Load:    {2, ValueTypeF32},
	opF64Load:    {3, ValueTypeF64},
	opI32Load8S:  {0, ValueTypeI32},
	opI32Load8U:  {0, ValueTypeI32},
	opI32Load16S: {1, ValueTypeI32},
	opI32Load16U: {1, ValueTypeI32},
	opI64Load8S:  {0, ValueTypeI64},
	opI64Load8U:  {0, ValueTypeI64},
	opI64Load16S: {1, ValueTypeI64},
	opI64Load16U: {1, ValueTypeI64},
	opI64Load32S: {2, ValueTypeI64},
	opI64Load32U: {2, ValueTypeI64},
}

type storeSig struct {
	natAlign uint32
	operand  ValueType
}

var storeSigs = map[byte]storeSig{
	opI32Store:   {2, ValueTypeI32},
	opI64Store:   {3, ValueTypeI64},
	opF32Store:   {2, ValueTypeF32},
	opF64Store:   {3, ValueTypeF64},
	opI32Store8:  {0, ValueTypeI32},
	opI32Store16: {1, ValueTypeI32},
	opI64Store8:  {0, ValueTypeI64},
	opI64Store16: {1, ValueTypeI64},
	opI64Store32: {2, ValueTypeI64},
}

type numSig struct {
	pops []ValueType
	push ValueType
}

var numSigs = map[byte]numSig{
	opI32Eqz: {[]ValueType{ValueTypeI32}, ValueTypeI32},
	opI32Clz: {[]ValueType{ValueTypeI32}, ValueTypeI32}, opI32Ctz: {[]ValueType{ValueTypeI32}, ValueTypeI32},
	opI32Popcnt: {[]ValueType{ValueTypeI32}, ValueTypeI32},

	opI32Eq: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32Ne: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32LtS: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32LtU: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32GtS: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32GtU: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32LeS: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32LeU: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32GeS: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32GeU: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32Add: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32Sub: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32Mul: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32DivS: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32DivU: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32RemS: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32RemU: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32And: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32Or: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32Xor: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32Shl: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32ShrS: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32ShrU: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32}, opI32Rotl: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},
	opI32Rotr: {[]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32},

	opI64Eqz: {[]ValueType{ValueTypeI64}, ValueTypeI32},
	opI64Clz: {[]ValueType{ValueTypeI64}, ValueTypeI64}, opI64Ctz: {[]ValueType{ValueTypeI64}, ValueTypeI64},
	opI64Popcnt: {[]ValueType{ValueTypeI64}, ValueTypeI64},

	opI64Eq: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32}, opI64Ne: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32},
	opI64LtS: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32}, opI64LtU: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32},
	opI64GtS: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32}, opI64GtU: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32},
	opI64LeS: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32}, opI64LeU: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32},
	opI64GeS: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32}, opI64GeU: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI32},
	opI64Add: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64}, opI64Sub: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64},
	opI64Mul: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64}, opI64DivS: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64},
	opI64DivU: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64}, opI64RemS: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64},
	opI64RemU: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64}, opI64And: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64},
	opI64Or: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64}, opI64Xor: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64},
	opI64Shl: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64}, opI64ShrS: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64},
	opI64ShrU: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64}, opI64Rotl: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64},
	opI64Rotr: {[]ValueType{ValueTypeI64, ValueTypeI64}, ValueTypeI64},

	opF32Abs: {[]ValueType{ValueTypeF32}, ValueTypeF32}, opF32Neg: {[]ValueType{ValueTypeF32}, ValueTypeF32},
	opF32Ceil: {[]ValueType{ValueTypeF32}, ValueTypeF32}, opF32Floor: {[]ValueType{ValueTypeF32}, ValueTypeF32},
	opF32Trunc: {[]ValueType{ValueTypeF32}, ValueTypeF32}, opF32Nearest: {[]ValueType{ValueTypeF32}, ValueTypeF32},
	opF32Sqrt: {[]ValueType{ValueTypeF32}, ValueTypeF32},
	opF32Eq:   {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeI32}, opF32Ne: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeI32},
	opF32Lt: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeI32}, opF32Gt: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeI32},
	opF32Le: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeI32}, opF32Ge: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeI32},
	opF32Add: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeF32}, opF32Sub: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeF32},
	opF32Mul: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeF32}, opF32Div: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeF32},
	opF32Min: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeF32}, opF32Max: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeF32},
	opF32Copysign: {[]ValueType{ValueTypeF32, ValueTypeF32}, ValueTypeF32},

	opF64Abs: {[]ValueType{ValueTypeF64}, ValueTypeF64}, opF64Neg: {[]ValueType{ValueTypeF64}, ValueTypeF64},
	opF64Ceil: {[]ValueType{ValueTypeF64}, ValueTypeF64}, opF64Floor: {[]ValueType{ValueTypeF64}, ValueTypeF64},
	opF64Trunc: {[]ValueType{ValueTypeF64}, ValueTypeF64}, opF64Nearest: {[]ValueType{ValueTypeF64}, ValueTypeF64},
	opF64Sqrt: {[]ValueType{ValueTypeF64}, ValueTypeF64},
	opF64Eq:   {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeI32}, opF64Ne: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeI32},
	opF64Lt: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeI32}, opF64Gt: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeI32},
	opF64Le: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeI32}, opF64Ge: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeI32},
	opF64Add: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeF64}, opF64Sub: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeF64},
	opF64Mul: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeF64}, opF64Div: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeF64},
	opF64Min: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeF64}, opF64Max: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeF64},
	opF64Copysign: {[]ValueType{ValueTypeF64, ValueTypeF64}, ValueTypeF64},

	opI32WrapI64:    {[]ValueType{ValueTypeI64}, ValueTypeI32},
	opI32TruncSF32:  {[]ValueType{ValueTypeF32}, ValueTypeI32}, opI32TruncUF32: {[]ValueType{ValueTypeF32}, ValueTypeI32},
	opI32TruncSF64:  {[]ValueType{ValueTypeF64}, ValueTypeI32}, opI32TruncUF64: {[]ValueType{ValueTypeF64}, ValueTypeI32},
	opI64ExtendSI32: {[]ValueType{ValueTypeI32}, ValueTypeI64}, opI64ExtendUI32: {[]ValueType{ValueTypeI32}, ValueTypeI64},
	opI64TruncSF32:  {[]ValueType{ValueTypeF32}, ValueTypeI64}, opI64TruncUF32: {[]ValueType{ValueTypeF32}, ValueTypeI64},
	opI64TruncSF64:  {[]ValueType{ValueTypeF64}, ValueTypeI64}, opI64TruncUF64: {[]ValueType{ValueTypeF64}, ValueTypeI64},
	opF32ConvertSI32: {[]ValueType{ValueTypeI32}, ValueTypeF32}, opF32ConvertUI32: {[]ValueType{ValueTypeI32}, ValueTypeF32},
	opF32ConvertSI64: {[]ValueType{ValueTypeI64}, ValueTypeF32}, opF32ConvertUI64: {[]ValueType{ValueTypeI64}, ValueTypeF32},
	opF32DemoteF64:   {[]ValueType{ValueTypeF64}, ValueTypeF32},
	opF64ConvertSI32: {[]ValueType{ValueTypeI32}, ValueTypeF64}, opF64ConvertUI32: {[]ValueType{ValueTypeI32}, ValueTypeF64},
	opF64ConvertSI64: {[]ValueType{ValueTypeI64}, ValueTypeF64}, opF64ConvertUI64: {[]ValueType{ValueTypeI64}, ValueTypeF64},
	opF64PromoteF32:     {[]ValueType{ValueTypeF32}, ValueTypeF64},
	opI32ReinterpretF32: {[]ValueType{ValueTypeF32}, ValueTypeI32},
	opI64ReinterpretF64: {[]ValueType{ValueTypeF64}, ValueTypeI64},
	opF32ReinterpretI32: {[]ValueType{ValueTypeI32}, ValueTypeF32},
	opF64ReinterpretI64: {[]ValueType{ValueTypeI64}, ValueTypeF64},
	opI32Extend8S:       {[]ValueType{ValueTypeI32}, ValueTypeI32},
	opI32Extend16S:      {[]ValueType{ValueTypeI32}, ValueTypeI32},
	opI64Extend8S:       {[]ValueType{ValueTypeI64}, ValueTypeI64},
	opI64Extend16S:      {[]ValueType{ValueTypeI64}, ValueTypeI64},
	opI64Extend32S:      {[]ValueType{ValueTypeI64}, ValueTypeI64},
}

// validateFunction runs the structured-stack validator over one function
// body, rewriting drop/select/get_global/set_global to their 64-bit variant
// in place where the popped or accessed value is 64-bit. On success it
// records MaxStackSizeBytes and MaxBlockDepth on code.
func validateFunction(m *Module, funcIdx uint32, code *CodeEntry) *werr.Error {
	ft := m.FuncType(funcIdx)

	locals := append([]ValueType{}, ft.Params...)
	for _, g := range code.Locals {
		for i := uint32(0); i < g.Count; i++ {
			locals = append(locals, g.Type)
		}
	}

	v := &funcValidator{
		m: m, ft: ft, locals: locals,
		blocks: []controlBlock{{Kind: labelFunction, ResultTypes: ft.Results, StartPos: -1, ElsePos: -1}},
	}
	v.maxDepth = 1
	code.BlockTargets = make(map[int]BlockTarget)

	d := &decoder{buf: code.Body}

	for {
		if len(v.blocks) == 0 {
			break
		}
		opPos := d.pos
		op, err := d.byte()
		if err != nil {
			return err
		}

		if sig, ok := numSigs[op]; ok {
			for i := len(sig.pops) - 1; i >= 0; i-- {
				if err := v.popExpect(sig.pops[i]); err != nil {
					return err
				}
			}
			v.push(sig.push)
			continue
		}

		switch op {
		case opUnreachable:
			v.setPolymorphic()

		case opNop:

		case opBlock, opLoop, opIf:
			params, results, err := readBlockType(d, m)
			if err != nil {
				return err
			}
			if op == opIf {
				if err := v.popExpect(ValueTypeI32); err != nil {
					return err
				}
			}
			kind := labelBlock
			if op == opLoop {
				kind = labelLoop
			} else if op == opIf {
				kind = labelIf
			}
			if err := v.enterBlock(kind, params, results, opPos); err != nil {
				return err
			}

		case opElse:
			top := v.top()
			if top.Kind != labelIf {
				return werr.New(werr.PhaseLoad, werr.KindElseMissing)
			}
			top.ElsePos = opPos
			if err := v.checkArity(top.ResultTypes, false); err != nil {
				return err
			}
			if len(v.vs) != top.StackBase+len(top.ResultTypes) && !top.Polymorphic {
				return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra("extra values before else")
			}
			v.vs = v.vs[:top.StackBase]
			v.stackBytes = 0
			for _, t := range v.vs {
				v.stackBytes += t.Size()
			}
			top.Polymorphic = false
			top.HasElse = true
			for _, t := range top.ParamTypes {
				v.push(t)
			}

		case opEnd:
			top := v.top()
			if err := v.checkArity(top.ResultTypes, false); err != nil {
				return err
			}
			if len(v.vs) != top.StackBase+len(top.ResultTypes) {
				if !top.Polymorphic {
					return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra("extra values at end")
				}
				v.vs = v.vs[:top.StackBase+len(top.ResultTypes)]
			}
			if top.Kind == labelIf && !top.HasElse && !sameTypeVector(top.ParamTypes, top.ResultTypes) {
				return werr.New(werr.PhaseLoad, werr.KindUnbalancedIf)
			}
			if top.StartPos >= 0 {
				elsePos := 0
				if top.ElsePos >= 0 {
					elsePos = top.ElsePos
				}
				code.BlockTargets[top.StartPos] = BlockTarget{ElsePos: elsePos, EndPos: d.pos}
			}
			v.blocks = v.blocks[:len(v.blocks)-1]
			if len(v.blocks) == 0 {
				if !d.eof() {
					return werr.New(werr.PhaseLoad, werr.KindJunkAfterLastSection).WithExtra("bytes after function end")
				}
				code.MaxStackSizeBytes = v.maxBytes
				code.MaxBlockDepth = v.maxDepth
				return nil
			}

		case opBr, opBrIf:
			depth, err := d.u32()
			if err != nil {
				return err
			}
			if op == opBrIf {
				if err := v.popExpect(ValueTypeI32); err != nil {
					return err
				}
			}
			if int(depth) >= len(v.blocks) {
				return werr.New(werr.PhaseLoad, werr.KindUnknownLabel)
			}
			target := &v.blocks[len(v.blocks)-1-int(depth)]
			if op == opBr {
				if err := v.checkArity(target.branchArity(), true); err != nil {
					return err
				}
				v.setPolymorphic()
			} else {
				if err := v.checkArity(target.branchArity(), false); err != nil {
					return err
				}
			}

		case opBrTable:
			n, err := d.u32()
			if err != nil {
				return err
			}
			targets := make([]uint32, n)
			for i := range targets {
				if targets[i], err = d.u32(); err != nil {
					return err
				}
			}
			defaultDepth, err := d.u32()
			if err != nil {
				return err
			}
			if err := v.popExpect(ValueTypeI32); err != nil {
				return err
			}
			if int(defaultDepth) >= len(v.blocks) {
				return werr.New(werr.PhaseLoad, werr.KindUnknownLabel)
			}
			arity := v.blocks[len(v.blocks)-1-int(defaultDepth)].branchArity()
			for _, depth := range targets {
				if int(depth) >= len(v.blocks) {
					return werr.New(werr.PhaseLoad, werr.KindUnknownLabel)
				}
				other := v.blocks[len(v.blocks)-1-int(depth)].branchArity()
				if !sameTypeVector(arity, other) {
					return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra("br_table arity mismatch")
				}
			}
			if err := v.checkArity(arity, true); err != nil {
				return err
			}
			v.setPolymorphic()

		case opReturn:
			if err := v.checkArity(ft.Results, true); err != nil {
				return err
			}
			v.setPolymorphic()

		case opCall:
			callee, err := d.u32()
			if err != nil {
				return err
			}
			if int(callee) >= m.TotalFunctions() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownFunction)
			}
			cft := m.FuncType(callee)
			for i := len(cft.Params) - 1; i >= 0; i-- {
				if err := v.popExpect(cft.Params[i]); err != nil {
					return err
				}
			}
			for _, r := range cft.Results {
				v.push(r)
			}

		case opCallIndirect:
			typeIdx, err := d.u32()
			if err != nil {
				return err
			}
			if int(typeIdx) >= len(m.Types) {
				return werr.New(werr.PhaseLoad, werr.KindUnknownType)
			}
			reserved, err := d.byte()
			if err != nil {
				return err
			}
			if reserved != 0 {
				return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra(reservedByteMustBeZero)
			}
			if !m.HasTable() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownTable)
			}
			if err := v.popExpect(ValueTypeI32); err != nil {
				return err
			}
			cft := m.Types[typeIdx]
			for i := len(cft.Params) - 1; i >= 0; i-- {
				if err := v.popExpect(cft.Params[i]); err != nil {
					return err
				}
			}
			for _, r := range cft.Results {
				v.push(r)
			}

		case opDrop:
			t, err := v.pop()
			if err != nil {
				return err
			}
			if t.Is64() {
				code.Body[opPos] = opDrop64
			}

		case opSelect:
			if err := v.popExpect(ValueTypeI32); err != nil {
				return err
			}
			b, err := v.pop()
			if err != nil {
				return err
			}
			a, err := v.pop()
			if err != nil {
				return err
			}
			if !typeCompatible(a, b) {
				return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra("select arm type mismatch")
			}
			result := a
			if result == ValueTypeAny {
				result = b
			}
			if result.Is64() {
				code.Body[opPos] = opSelect64
			}
			v.push(result)

		case opGetLocal, opSetLocal, opTeeLocal:
			idx, err := d.u32()
			if err != nil {
				return err
			}
			if int(idx) >= len(locals) {
				return werr.New(werr.PhaseLoad, werr.KindUnknownLocal)
			}
			lt := locals[idx]
			switch op {
			case opGetLocal:
				v.push(lt)
			case opSetLocal:
				if err := v.popExpect(lt); err != nil {
					return err
				}
			case opTeeLocal:
				if err := v.popExpect(lt); err != nil {
					return err
				}
				v.push(lt)
			}

		case opGetGlobal:
			idx, err := d.u32()
			if err != nil {
				return err
			}
			if int(idx) >= m.TotalGlobals() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownGlobal)
			}
			gt := m.GlobalTypeOf(idx)
			if gt.ValType.Is64() {
				code.Body[opPos] = opGetGlobal64
			}
			v.push(gt.ValType)

		case opSetGlobal:
			idx, err := d.u32()
			if err != nil {
				return err
			}
			if int(idx) >= m.TotalGlobals() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownGlobal)
			}
			if int(idx) < len(m.ImportGlobals) {
				return werr.New(werr.PhaseLoad, werr.KindUnsupportedImport).WithExtra("set_global of an imported global")
			}
			gt := m.GlobalTypeOf(idx)
			if !gt.Mutable {
				return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra("set_global of an immutable global")
			}
			if err := v.popExpect(gt.ValType); err != nil {
				return err
			}
			if gt.ValType.Is64() {
				code.Body[opPos] = opSetGlobal64
			}

		case opI32Const:
			if _, err := d.i32(); err != nil {
				return err
			}
			v.push(ValueTypeI32)
		case opI64Const:
			if _, err := d.i64(); err != nil {
				return err
			}
			v.push(ValueTypeI64)
		case opF32Const:
			if _, err := d.f32bits(); err != nil {
				return err
			}
			v.push(ValueTypeF32)
		case opF64Const:
			if _, err := d.f64bits(); err != nil {
				return err
			}
			v.push(ValueTypeF64)

		case opMemorySize, opMemoryGrow:
			if !m.HasMemory() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownMemory)
			}
			reserved, err := d.byte()
			if err != nil {
				return err
			}
			if reserved != 0 {
				return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra(reservedByteMustBeZero)
			}
			if op == opMemoryGrow {
				if err := v.popExpect(ValueTypeI32); err != nil {
					return err
				}
			}
			v.push(ValueTypeI32)

		default:
			if sig, ok := loadSigs[op]; ok {
				if !m.HasMemory() {
					return werr.New(werr.PhaseLoad, werr.KindUnknownMemory)
				}
				align, err := d.u32()
				if err != nil {
					return err
				}
				if align > sig.natAlign {
					return werr.New(werr.PhaseLoad, werr.KindInvalidAlignment)
				}
				if _, err := d.u32(); err != nil { // offset
					return err
				}
				if err := v.popExpect(ValueTypeI32); err != nil {
					return err
				}
				v.push(sig.result)
				continue
			}
			if sig, ok := storeSigs[op]; ok {
				if !m.HasMemory() {
					return werr.New(werr.PhaseLoad, werr.KindUnknownMemory)
				}
				align, err := d.u32()
				if err != nil {
					return err
				}
				if align > sig.natAlign {
					return werr.New(werr.PhaseLoad, werr.KindInvalidAlignment)
				}
				if _, err := d.u32(); err != nil { // offset
					return err
				}
				if err := v.popExpect(sig.operand); err != nil {
					return err
				}
				if err := v.popExpect(ValueTypeI32); err != nil {
					return err
				}
				continue
			}
			return werr.New(werr.PhaseLoad, werr.KindTypeMismatch).WithExtra("unknown opcode %#x", op)
		}
	}

	return werr.New(werr.PhaseLoad, werr.KindJunkAfterLastSection).WithExtra("function body missing end")
}
