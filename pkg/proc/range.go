package proc

// MemoryRange describes one mapped region of the target's address space.
// Ranges are constructed fresh on every enumeration or lookup and are never
// mutated afterwards.
type MemoryRange struct {
	// Base is the start of the region.
	Base Address
	// Size is the length of the region in bytes, always > 0.
	Size uint64
	// Protection is the symbolic protection string reported by the agent,
	// e.g. "r-x" or "rw-".
	Protection string
	// Data holds the region's bytes. It is nil unless the range was
	// resolved with data included.
	Data []byte
}

// End returns the first address past the region.
func (m *MemoryRange) End() Address {
	return m.Base.Add(m.Size)
}

// Contains reports whether addr falls inside the region.
func (m *MemoryRange) Contains(addr Address) bool {
	return addr >= m.Base && addr < m.End()
}

// Module describes one loaded module of the target process.
type Module struct {
	Name string
	Base Address
	Size uint64
	Path string
}

// Export is one exported function of a loaded module, as reported by the
// agent's export enumeration.
type Export struct {
	Name    string
	Address Address
	// Type is the agent-reported export kind, e.g. "function".
	Type string
	// Module is the name of the module exporting the symbol.
	Module string
}
