package wasm

import "github.com/dtvmgo/dtvm/internal/werr"

const funcTypeTag byte = 0x60

func decodeTypeSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	if count > MaxTypes {
		return werr.New(werr.PhaseLoad, werr.KindTooManyTypes)
	}
	for i := uint32(0); i < count; i++ {
		tag, err := d.byte()
		if err != nil {
			return err
		}
		if tag != funcTypeTag {
			return werr.New(werr.PhaseLoad, werr.KindInvalidFuncTypeHeader)
		}
		nParams, err := d.u32()
		if err != nil {
			return err
		}
		params := make([]ValueType, nParams)
		for p := range params {
			if params[p], err = d.valueType(); err != nil {
				return err
			}
		}
		nResults, err := d.u32()
		if err != nil {
			return err
		}
		if nResults > 1 {
			return werr.New(werr.PhaseLoad, werr.KindInvalidFuncTypeHeader).WithExtra("MVP allows at most one result")
		}
		results := make([]ValueType, nResults)
		for r := range results {
			if results[r], err = d.valueType(); err != nil {
				return err
			}
		}
		ft := &FunctionType{Params: params, Results: results}
		ft.canonicalIndex = uint32(i)
		for j := uint32(0); j < i; j++ {
			if m.Types[j].EqualTo(ft) {
				ft.canonicalIndex = j
				break
			}
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func decodeImportSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	if count > MaxFunctions {
		return werr.New(werr.PhaseLoad, werr.KindTooManyImports)
	}
	for i := uint32(0); i < count; i++ {
		modName, err := d.name()
		if err != nil {
			return err
		}
		fieldName, err := d.name()
		if err != nil {
			return err
		}
		kindByte, err := d.byte()
		if err != nil {
			return err
		}
		imp := &Import{Module: modName, Name: fieldName}
		switch kindByte {
		case byte(ExternKindFunc):
			imp.Kind = ExternKindFunc
			idx, err := d.u32()
			if err != nil {
				return err
			}
			if int(idx) >= len(m.Types) {
				return werr.New(werr.PhaseLoad, werr.KindUnknownType)
			}
			imp.FuncTypeIndex = idx
			if len(m.ImportFuncs)+1 > MaxFunctions {
				return werr.New(werr.PhaseLoad, werr.KindTooManyFunctions)
			}
			m.ImportFuncs = append(m.ImportFuncs, imp)
		case byte(ExternKindTable):
			imp.Kind = ExternKindTable
			if m.TotalTables() > 0 {
				return werr.New(werr.PhaseLoad, werr.KindMultipleTables)
			}
			elemType, err := d.byte()
			if err != nil {
				return err
			}
			if elemType != 0x70 { // funcref
				return werr.New(werr.PhaseLoad, werr.KindInvalidValueType).WithExtra("only funcref tables supported")
			}
			min, max, err := d.limits(MaxTableSize)
			if err != nil {
				return err
			}
			imp.Table = &Table{Min: min, Max: max}
			m.ImportTables = append(m.ImportTables, imp)
		case byte(ExternKindMemory):
			imp.Kind = ExternKindMemory
			if m.TotalMemories() > 0 {
				return werr.New(werr.PhaseLoad, werr.KindMultipleMemories)
			}
			min, max, err := d.limits(MaxMemoryPages)
			if err != nil {
				return err
			}
			imp.Memory = &Memory{Min: min, Max: max}
			m.ImportMemories = append(m.ImportMemories, imp)
		case byte(ExternKindGlobal):
			imp.Kind = ExternKindGlobal
			vt, err := d.valueType()
			if err != nil {
				return err
			}
			mutByte, err := d.byte()
			if err != nil {
				return err
			}
			if mutByte > 1 {
				return werr.New(werr.PhaseLoad, werr.KindInvalidMutability)
			}
			imp.Global = &GlobalType{ValType: vt, Mutable: mutByte == 1}
			m.ImportGlobals = append(m.ImportGlobals, imp)
		default:
			return werr.New(werr.PhaseLoad, werr.KindInvalidExportDescriptor).WithExtra("unknown import kind %#x", kindByte)
		}
	}
	return nil
}

func decodeFunctionSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	if uint64(len(m.ImportFuncs))+uint64(count) > MaxFunctions {
		return werr.New(werr.PhaseLoad, werr.KindTooManyFunctions)
	}
	for i := uint32(0); i < count; i++ {
		typeIdx, err := d.u32()
		if err != nil {
			return err
		}
		if int(typeIdx) >= len(m.Types) {
			return werr.New(werr.PhaseLoad, werr.KindUnknownType)
		}
		m.Functions = append(m.Functions, FunctionDecl{
			TypeIndex:          typeIdx,
			CanonicalTypeIndex: m.Types[typeIdx].canonicalIndex,
		})
	}
	return nil
}

func decodeTableSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	if m.TotalTables()+int(count) > 1 {
		return werr.New(werr.PhaseLoad, werr.KindMultipleTables)
	}
	for i := uint32(0); i < count; i++ {
		elemType, err := d.byte()
		if err != nil {
			return err
		}
		if elemType != 0x70 {
			return werr.New(werr.PhaseLoad, werr.KindInvalidValueType).WithExtra("only funcref tables supported")
		}
		min, max, err := d.limits(MaxTableSize)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, &Table{Min: min, Max: max})
	}
	return nil
}

func decodeMemorySection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	if m.TotalMemories()+int(count) > 1 {
		return werr.New(werr.PhaseLoad, werr.KindMultipleMemories)
	}
	for i := uint32(0); i < count; i++ {
		min, max, err := d.limits(MaxMemoryPages)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, &Memory{Min: min, Max: max})
	}
	return nil
}

func decodeGlobalSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	if uint64(len(m.ImportGlobals))+uint64(count) > MaxGlobals {
		return werr.New(werr.PhaseLoad, werr.KindTooManyGlobals)
	}
	for i := uint32(0); i < count; i++ {
		vt, err := d.valueType()
		if err != nil {
			return err
		}
		mutByte, err := d.byte()
		if err != nil {
			return err
		}
		if mutByte > 1 {
			return werr.New(werr.PhaseLoad, werr.KindInvalidMutability)
		}
		init, err := d.constExpr(vt, m)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, &Global{
			Type: GlobalType{ValType: vt, Mutable: mutByte == 1},
			Init: init,
		})
	}
	return nil
}

func decodeExportSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := d.name()
		if err != nil {
			return err
		}
		kindByte, err := d.byte()
		if err != nil {
			return err
		}
		idx, err := d.u32()
		if err != nil {
			return err
		}
		kind := ExternKind(kindByte)
		switch kind {
		case ExternKindFunc:
			if int(idx) >= m.TotalFunctions() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownFunction)
			}
		case ExternKindTable:
			if int(idx) >= m.TotalTables() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownTable)
			}
		case ExternKindMemory:
			if int(idx) >= m.TotalMemories() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownMemory)
			}
		case ExternKindGlobal:
			if int(idx) >= m.TotalGlobals() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownGlobal)
			}
		default:
			return werr.New(werr.PhaseLoad, werr.KindInvalidExportDescriptor)
		}
		if !m.addExport(&Export{Name: name, Kind: kind, Index: idx}) {
			return werr.New(werr.PhaseLoad, werr.KindDuplicateExportName).WithExtra("%q", name)
		}
	}
	return nil
}

func decodeStartSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	idx, err := d.u32()
	if err != nil {
		return err
	}
	if int(idx) >= m.TotalFunctions() {
		return werr.New(werr.PhaseLoad, werr.KindUnknownFunction)
	}
	ft := m.FuncType(idx)
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return werr.New(werr.PhaseLoad, werr.KindInvalidStartFunctionType)
	}
	m.StartFunction = &idx
	return nil
}

func decodeElementSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tableIdx, err := d.u32()
		if err != nil {
			return err
		}
		if int(tableIdx) >= m.TotalTables() {
			return werr.New(werr.PhaseLoad, werr.KindUnknownTable)
		}
		offset, err := d.constExpr(ValueTypeI32, m)
		if err != nil {
			return err
		}
		n, err := d.u32()
		if err != nil {
			return err
		}
		funcs := make([]uint32, n)
		for j := range funcs {
			idx, err := d.u32()
			if err != nil {
				return err
			}
			if int(idx) >= m.TotalFunctions() {
				return werr.New(werr.PhaseLoad, werr.KindUnknownFunction)
			}
			funcs[j] = idx
		}
		m.Elements = append(m.Elements, &ElementSegment{TableIndex: tableIdx, Offset: offset, FuncIndexes: funcs})
	}
	return nil
}

func decodeDataCountSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.DataCount = &n
	return nil
}

func decodeCodeSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	if int(count) != len(m.Functions) {
		return werr.New(werr.PhaseLoad, werr.KindFunctionAndCodeSectionLengthMismatch)
	}
	for i := uint32(0); i < count; i++ {
		size, err := d.u32()
		if err != nil {
			return err
		}
		if size > MaxFunctionBodySize {
			return werr.New(werr.PhaseLoad, werr.KindFunctionSizeTooLarge)
		}
		bodyStart := d.pos
		bodyEnd := bodyStart + int(size)
		if bodyEnd > len(body) {
			return werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow)
		}

		localRunCount, err := d.u32()
		if err != nil {
			return err
		}
		var locals []LocalGroup
		var totalLocalCells uint64
		for j := uint32(0); j < localRunCount; j++ {
			n, err := d.u32()
			if err != nil {
				return err
			}
			vt, err := d.valueType()
			if err != nil {
				return err
			}
			totalLocalCells += uint64(n) * uint64(vt.Cells())
			locals = append(locals, LocalGroup{Count: n, Type: vt})
		}
		if totalLocalCells > MaxLocals {
			return werr.New(werr.PhaseLoad, werr.KindTooManyLocals)
		}

		opBody := make([]byte, bodyEnd-d.pos)
		copy(opBody, body[d.pos:bodyEnd])
		d.pos = bodyEnd

		m.Code = append(m.Code, &CodeEntry{
			Locals:        locals,
			NumLocalCells: int(totalLocalCells),
			Body:          opBody,
		})
	}
	return nil
}

func decodeDataSection(m *Module, body []byte) *werr.Error {
	d := newDecoder(body)
	count, err := d.u32()
	if err != nil {
		return err
	}
	var total uint64
	for i := uint32(0); i < count; i++ {
		memIdx, err := d.u32()
		if err != nil {
			return err
		}
		if memIdx != 0 {
			return werr.New(werr.PhaseLoad, werr.KindUnknownMemory)
		}
		offset, err := d.constExpr(ValueTypeI32, m)
		if err != nil {
			return err
		}
		n, err := d.u32()
		if err != nil {
			return err
		}
		b, err := d.bytes(int(n))
		if err != nil {
			return err
		}
		total += uint64(n)
		if total > MaxTotalDataBytes {
			return werr.New(werr.PhaseLoad, werr.KindDataSegmentDoesNotFit).WithExtra("total data exceeds 1 GiB")
		}
		m.Data = append(m.Data, &DataSegment{MemoryIndex: memIdx, Offset: offset, Bytes: b})
	}
	return nil
}

const nameSubsectionFunction = 1

// decodeCustomSection consumes only the Function subsection of the Name
// section (spec §4.4 "Name custom"); other custom sections are skipped.
// Returns true if body belongs to the Name section.
func decodeCustomSection(m *Module, body []byte) (bool, *werr.Error) {
	d := newDecoder(body)
	sectionName, err := d.name()
	if err != nil {
		return false, err
	}
	if sectionName != "name" {
		return false, nil
	}
	lastSubID := -1
	for !d.eof() {
		subID, err := d.byte()
		if err != nil {
			return true, err
		}
		if int(subID) <= lastSubID {
			return true, werr.New(werr.PhaseLoad, werr.KindSectionOutOfOrder).WithExtra("name subsection out of order")
		}
		lastSubID = int(subID)
		size, err := d.u32()
		if err != nil {
			return true, err
		}
		end := d.pos + int(size)
		if end > len(body) {
			return true, werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow)
		}
		if subID == nameSubsectionFunction {
			sub := newDecoder(body[d.pos:end])
			count, err := sub.u32()
			if err != nil {
				return true, err
			}
			m.FunctionNames = make(map[uint32]string, count)
			for i := uint32(0); i < count; i++ {
				idx, err := sub.u32()
				if err != nil {
					return true, err
				}
				nm, err := sub.name()
				if err != nil {
					return true, err
				}
				m.FunctionNames[idx] = nm
			}
		}
		d.pos = end
	}
	return true, nil
}

// resolveGasFunction designates an export named "func_gas" of type
// [i64] -> [] as the instance-wide gas-accounting function (spec §4.10).
func resolveGasFunction(m *Module) {
	exp, ok := m.FindExport("func_gas")
	if !ok || exp.Kind != ExternKindFunc {
		return
	}
	ft := m.FuncType(exp.Index)
	if len(ft.Params) == 1 && ft.Params[0] == ValueTypeI64 && len(ft.Results) == 0 {
		idx := exp.Index
		m.GasFuncIndex = &idx
	}
}
