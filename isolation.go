package dtvm

// Isolation is an execution scope that owns Instances (spec.md §2, §3
// "Re-entrancy and back-pointers"). Ownership is strictly top-down: a
// Runtime owns its Isolations and HostModules and Modules; an Isolation
// owns its Instances. Instances hold a non-owning back-reference to their
// Isolation and, transitively, their Runtime.
type Isolation struct {
	runtime *Runtime
}

// NewIsolation opens a fresh Isolation on r. Instances created within it
// share r's host registry, engine, logger, and statistics.
func (r *Runtime) NewIsolation() *Isolation {
	return &Isolation{runtime: r}
}

// Runtime returns the Isolation's owning Runtime.
func (iso *Isolation) Runtime() *Runtime { return iso.runtime }
