package wasm

// InstanceLayout is the sizing summary computed once per Module (spec §4.7
// "Instance layout & instantiator"). The reference design lays every array
// out at 8-byte-aligned offsets within one contiguous instance buffer; this
// port keeps the vocabulary but backs each region with its own slice (see
// DESIGN.md), so the fields below record region sizes rather than offsets.
type InstanceLayout struct {
	NumFunctions int
	NumTables    int
	NumMemories  int
	NumGlobals   int

	// GlobalRegionBytes is the total byte size of the global-variable region,
	// every global rounded up to an 8-byte cell regardless of its value type.
	GlobalRegionBytes int
}

func computeLayout(m *Module) *InstanceLayout {
	l := &InstanceLayout{
		NumFunctions: m.TotalFunctions(),
		NumTables:    m.TotalTables(),
		NumMemories:  m.TotalMemories(),
		NumGlobals:   m.TotalGlobals(),
	}
	l.GlobalRegionBytes = l.NumGlobals * 8
	return l
}
