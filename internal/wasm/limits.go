package wasm

// Limits enforced uniformly at load time (spec.md §3 "Preset limits").
// These are tuneable constants, not hard-coded throughout the loader.
const (
	MaxTypes            = 65535
	MaxFunctions        = 65535
	MaxGlobals          = 65535
	MaxFunctionBodySize = 16 * 1024 * 1024
	MaxLocals           = 65535
	MaxMemoryPages      = 65536
	PageSize            = 65536
	MaxTableSize        = 1048576
	MaxTotalDataBytes   = 1 << 30
	MaxModuleBytes      = 1 << 30
	MaxSectionBytes     = 512 * 1024 * 1024
)

// MaxLinearMemoryBytes is the absolute per-instance ceiling for linear
// memory regardless of any embedder-configured clamp.
const MaxLinearMemoryBytes = uint64(MaxMemoryPages) * PageSize
