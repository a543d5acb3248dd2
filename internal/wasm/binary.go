package wasm

import (
	"bytes"

	"github.com/dtvmgo/dtvm/internal/werr"
)

const (
	sectionCustom = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
	sectionDataCount
	sectionCountTotal
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d}
var version = []byte{0x01, 0x00, 0x00, 0x00}

// DecodeModule parses a complete Wasm binary module: header, sections (in
// the order spec.md §4.4 requires), and per-function validation (§4.5). The
// result is immutable and ready for Instantiate.
func DecodeModule(buf []byte, hint string) (*Module, *werr.Error) {
	if len(buf) > MaxModuleBytes {
		return nil, werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow).WithExtra("module exceeds 1 GiB")
	}
	if len(buf) < 8 || !bytes.Equal(buf[0:4], magic) {
		return nil, werr.New(werr.PhaseLoad, werr.KindMagicNotDetected)
	}
	if !bytes.Equal(buf[4:8], version) {
		return nil, werr.New(werr.PhaseLoad, werr.KindVersionMismatch)
	}

	m := &Module{NameHint: hint}
	d := &decoder{buf: buf, pos: 8}

	lastNonCustom := -1
	seenNameSection := false
	seenSections := make(map[int]bool)

	for !d.eof() {
		id, err := d.byte()
		if err != nil {
			return nil, err
		}
		size, err := d.u32()
		if err != nil {
			return nil, err
		}
		if size > MaxSectionBytes {
			return nil, werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow)
		}
		end := d.pos + int(size)
		if end > len(buf) {
			return nil, werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow)
		}
		body := buf[d.pos:end]

		if int(id) != sectionCustom {
			if int(id) <= lastNonCustom {
				return nil, werr.New(werr.PhaseLoad, werr.KindSectionOutOfOrder).WithExtra("section id %d", id)
			}
			if seenSections[int(id)] {
				return nil, werr.New(werr.PhaseLoad, werr.KindDuplicateSection)
			}
			seenSections[int(id)] = true
			lastNonCustom = int(id)
		} else if seenNameSection {
			return nil, werr.New(werr.PhaseLoad, werr.KindCustomSectionAfterNameSection)
		}

		var serr *werr.Error
		switch int(id) {
		case sectionCustom:
			isName, e := decodeCustomSection(m, body)
			serr = e
			if isName {
				seenNameSection = true
			}
		case sectionType:
			serr = decodeTypeSection(m, body)
		case sectionImport:
			serr = decodeImportSection(m, body)
		case sectionFunction:
			serr = decodeFunctionSection(m, body)
		case sectionTable:
			serr = decodeTableSection(m, body)
		case sectionMemory:
			serr = decodeMemorySection(m, body)
		case sectionGlobal:
			serr = decodeGlobalSection(m, body)
		case sectionExport:
			serr = decodeExportSection(m, body)
		case sectionStart:
			serr = decodeStartSection(m, body)
		case sectionElement:
			serr = decodeElementSection(m, body)
		case sectionDataCount:
			serr = decodeDataCountSection(m, body)
		case sectionCode:
			serr = decodeCodeSection(m, body)
		case sectionData:
			serr = decodeDataSection(m, body)
		default:
			return nil, werr.New(werr.PhaseLoad, werr.KindSectionOutOfOrder).WithExtra("unknown section id %d", id)
		}
		if serr != nil {
			return nil, serr
		}
		d.pos = end
	}

	if d.pos != len(buf) {
		return nil, werr.New(werr.PhaseLoad, werr.KindJunkAfterLastSection)
	}

	if len(m.Code) != len(m.Functions) {
		return nil, werr.New(werr.PhaseLoad, werr.KindFunctionAndCodeSectionLengthMismatch)
	}
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return nil, werr.New(werr.PhaseLoad, werr.KindDataCountAndDataSectionLengthMismatch)
	}

	for i, code := range m.Code {
		funcIdx := uint32(len(m.ImportFuncs) + i)
		if err := validateFunction(m, funcIdx, code); err != nil {
			return nil, err
		}
	}

	resolveGasFunction(m)
	m.Layout = computeLayout(m)
	return m, nil
}
