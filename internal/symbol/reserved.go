package symbol

// reservedNames are interned first, so they occupy the lowest handles and
// are well-known to the rest of the engine without a pool lookup at every
// use site.
var reservedNames = []string{
	"", // index 0 == Handle(1): the empty name, used by anonymous exports
	"env",
	"spectest",
	"wasi_snapshot_preview1",
	"func_gas",
	"gas",
	"memory",
	"__asyncify_state",
	"asm2wasm_i32_rem",
}

// Reserved handles for names the engine itself looks for, independent of
// any particular module. Entry i of reservedNames gets Handle(i+1), since
// Handle 0 is null.
var (
	Empty      = Handle(1)
	Env        = Handle(2)
	Spectest   = Handle(3)
	WASIName   = Handle(4)
	FuncGas    = Handle(5)
	Gas        = Handle(6)
	Memory     = Handle(7)
	AsyncState = Handle(8)
	I32Rem     = Handle(9)
)
