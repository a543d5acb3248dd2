// Package werr implements the engine's closed error taxonomy: every error
// the loader, validator, instantiator and interpreter can raise is one of a
// fixed set of Kinds, tagged with the Phase that raised it.
package werr

import "fmt"

// Phase identifies which stage of a module's life raised an Error.
type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseLoad
	PhaseInstantiation
	PhaseCompilation
	PhaseBeforeExecution
	PhaseExecution
)

func (p Phase) String() string {
	switch p {
	case PhaseLoad:
		return "load error"
	case PhaseInstantiation:
		return "instantiation error"
	case PhaseCompilation:
		return "compilation error"
	case PhaseBeforeExecution:
		return "pre-execution error"
	case PhaseExecution:
		return "execution error"
	default:
		return "error"
	}
}

// Kind is a closed enumeration of error kinds. Equality between Errors is by
// Kind alone; Phase and the message are presentation detail.
type Kind uint32

const (
	KindNone Kind = iota

	// --- Load / validation ---
	KindMagicNotDetected
	KindVersionMismatch
	KindJunkAfterLastSection
	KindSectionSizeOverflow
	KindSectionOutOfOrder
	KindDuplicateSection
	KindCustomSectionAfterNameSection
	KindLEBIntTooLong
	KindLEBIntTooLarge
	KindInvalidUTF8Encoding
	KindInvalidValueType
	KindInvalidMutability
	KindInvalidFuncTypeHeader
	KindTooManyTypes
	KindTooManyFunctions
	KindTooManyImports
	KindTooManyTables
	KindTooManyMemories
	KindTooManyGlobals
	KindTooManyLocals
	KindFunctionSizeTooLarge
	KindFunctionAndCodeSectionLengthMismatch
	KindDataCountAndDataSectionLengthMismatch
	KindUnknownType
	KindUnknownFunction
	KindUnknownTable
	KindUnknownMemory
	KindUnknownGlobal
	KindUnknownLocal
	KindUnknownLabel
	KindDuplicateExportName
	KindInvalidExportDescriptor
	KindInvalidStartFunctionType
	KindElementSegmentDoesNotFit
	KindDataSegmentDoesNotFit
	KindInvalidInitExpr
	KindUnsupportedImport
	KindImportSignatureMismatch
	KindHostModuleNotFound
	KindHostFunctionNotFound
	KindMultipleMemories
	KindMultipleTables
	KindInvalidAlignment
	KindTypeMismatch
	KindElseMissing
	KindUnbalancedIf

	// --- Instantiation ---
	KindMemorySizeTooLarge
	KindTooManyMemoriesAtInstantiation
	KindElementDoesNotFitTable
	KindDataDoesNotFitMemory

	// --- Execution (traps) ---
	KindUnreachable
	KindOutOfBoundsMemory
	KindIntegerOverflow
	KindIntegerDivByZero
	KindInvalidConversionToInteger
	KindUndefinedElement
	KindUninitializedElement
	KindIndirectCallTypeMismatch
	KindCallStackExhausted
	KindGasLimitExceeded
	KindInstanceExit

	// --- Misc ---
	KindSymbolAllocFailed
	KindMemoryAllocFailed
)

var messages = map[Kind]string{
	KindMagicNotDetected:                      "magic header not detected",
	KindVersionMismatch:                       "unknown binary version",
	KindJunkAfterLastSection:                  "junk after last section",
	KindSectionSizeOverflow:                   "section size overflows buffer",
	KindSectionOutOfOrder:                     "section out of order",
	KindDuplicateSection:                      "duplicate section",
	KindCustomSectionAfterNameSection:         "custom section after name section",
	KindLEBIntTooLong:                         "integer representation too long",
	KindLEBIntTooLarge:                        "integer too large",
	KindInvalidUTF8Encoding:                   "invalid UTF-8 encoding",
	KindInvalidValueType:                      "invalid value type",
	KindInvalidMutability:                     "invalid mutability",
	KindInvalidFuncTypeHeader:                 "invalid function type header",
	KindTooManyTypes:                          "too many types",
	KindTooManyFunctions:                      "too many functions",
	KindTooManyImports:                        "too many imports",
	KindTooManyTables:                         "too many tables",
	KindTooManyMemories:                       "too many memories",
	KindTooManyGlobals:                        "too many globals",
	KindTooManyLocals:                         "too many locals",
	KindFunctionSizeTooLarge:                  "function size too large",
	KindFunctionAndCodeSectionLengthMismatch:  "function and code section have inconsistent lengths",
	KindDataCountAndDataSectionLengthMismatch: "data count and data section have inconsistent lengths",
	KindUnknownType:                           "unknown type",
	KindUnknownFunction:                       "unknown function",
	KindUnknownTable:                          "unknown table",
	KindUnknownMemory:                         "unknown memory",
	KindUnknownGlobal:                         "unknown global",
	KindUnknownLocal:                          "unknown local",
	KindUnknownLabel:                          "unknown label",
	KindDuplicateExportName:                   "duplicate export name",
	KindInvalidExportDescriptor:               "invalid export descriptor",
	KindInvalidStartFunctionType:              "invalid start function type",
	KindElementSegmentDoesNotFit:              "element segment does not fit",
	KindDataSegmentDoesNotFit:                 "data segment does not fit",
	KindInvalidInitExpr:                       "invalid constant expression",
	KindUnsupportedImport:                     "unsupported import",
	KindImportSignatureMismatch:               "import signature mismatch",
	KindHostModuleNotFound:                    "host module not found",
	KindHostFunctionNotFound:                  "host function not found",
	KindMultipleMemories:                      "multiple memories",
	KindMultipleTables:                        "multiple tables",
	KindInvalidAlignment:                      "invalid alignment",
	KindTypeMismatch:                          "type mismatch",
	KindElseMissing:                           "else is expected",
	KindUnbalancedIf:                          "type mismatch between if and else branches",
	KindMemorySizeTooLarge:                    "memory size too large",
	KindTooManyMemoriesAtInstantiation:        "too many memories",
	KindElementDoesNotFitTable:                "element segment does not fit in table",
	KindDataDoesNotFitMemory:                  "data segment does not fit in memory",
	KindUnreachable:                           "unreachable",
	KindOutOfBoundsMemory:                     "out of bounds memory access",
	KindIntegerOverflow:                       "integer overflow",
	KindIntegerDivByZero:                      "integer divide by zero",
	KindInvalidConversionToInteger:            "invalid conversion to integer",
	KindUndefinedElement:                      "undefined element",
	KindUninitializedElement:                  "uninitialized element",
	KindIndirectCallTypeMismatch:              "indirect call type mismatch",
	KindCallStackExhausted:                    "call stack exhausted",
	KindGasLimitExceeded:                      "gas limit exceeded",
	KindInstanceExit:                          "instance exited",
	KindSymbolAllocFailed:                     "symbol allocation failed",
	KindMemoryAllocFailed:                     "memory allocation failed",
}

// Error is the engine's single error type. The zero value is not a valid
// Error; the absence of an error is represented by a nil *Error, which keeps
// "no error" distinguishable from any Kind including KindNone.
type Error struct {
	Phase Phase
	Kind  Kind
	extra string
}

// New creates an Error for the given phase and kind.
func New(phase Phase, kind Kind) *Error {
	return &Error{Phase: phase, Kind: kind}
}

// WithExtra attaches dynamic context (e.g. "#42" or a field name) to the
// error's message and returns the same *Error for chaining.
func (e *Error) WithExtra(format string, args ...interface{}) *Error {
	if e == nil {
		return e
	}
	e.extra = fmt.Sprintf(format, args...)
	return e
}

// Extra returns the dynamic context attached via WithExtra, if any.
func (e *Error) Extra() string {
	if e == nil {
		return ""
	}
	return e.extra
}

// Is reports whether e carries the given Kind. A nil Error reports false
// for every kind, KindNone included.
func (e *Error) Is(kind Kind) bool {
	return e != nil && e.Kind == kind
}

// Same reports whether two errors carry the same Kind; this is the taxonomy's
// notion of error equality (messages and extra context are not compared).
func (e *Error) Same(other *Error) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.Kind == other.Kind
}

// Error implements the error interface. Message returns the same text
// without the phase prefix.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Phase, e.Message())
}

// Message formats the error without a phase prefix, suitable for contexts
// that already report the phase separately.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	msg := messages[e.Kind]
	if msg == "" {
		msg = fmt.Sprintf("error kind %d", e.Kind)
	}
	if e.extra != "" {
		return msg + " (" + e.extra + ")"
	}
	return msg
}

// IsTrap reports whether e was raised in the Execution phase, i.e. it is an
// unrecoverable error that unwinds a running call. The Kind is not checked.
func (e *Error) IsTrap() bool {
	return e != nil && e.Phase == PhaseExecution
}
