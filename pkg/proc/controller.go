package proc

// ProcessController is the contract between the unpacking driver and a
// process-control implementation. All operations are synchronous: they block
// the calling goroutine until the remote call completes, with no built-in
// timeout. Implementations hold no shared mutable state other than the
// export cache, whose only writer is the calling goroutine; concurrent use
// from multiple goroutines must be serialized by the caller.
type ProcessController interface {
	Info
	MemoryIntrospection
	MemoryManipulation

	// TerminateProcess forcibly kills the target and releases the
	// instrumentation attachment. Calling it twice is undefined.
	TerminateProcess() error
}

// Info provides the fixed facts about the controlled process, set once at
// construction from values reported by the target agent.
type Info interface {
	Pid() int
	MainModuleName() string
	Architecture() Architecture
	PointerSize() int
	PageSize() uint64
}

// MemoryIntrospection enumerates the target's modules, mapped ranges and
// exported functions. Lookup results are fresh snapshots, except the export
// mapping which is cached until the caller explicitly requests a refresh.
type MemoryIntrospection interface {
	// FindModuleByAddress looks up which loaded module contains address.
	// Returns nil (and no error) when no module contains it.
	FindModuleByAddress(address Address) (*Module, error)

	// FindRangeByAddress resolves the memory region containing address,
	// or nil when the address is not mapped. When includeData is true the
	// region's bytes are read eagerly into the returned range.
	FindRangeByAddress(address Address, includeData bool) (*MemoryRange, error)

	// EnumerateModules returns a snapshot of the names of currently
	// loaded modules.
	EnumerateModules() ([]string, error)

	// EnumerateModuleRanges returns all mapped regions belonging to the
	// named module, each optionally populated with data.
	EnumerateModuleRanges(moduleName string, includeData bool) ([]MemoryRange, error)

	// EnumerateExportedFunctions returns the exported functions of all
	// loaded modules keyed by address. The result is a cached snapshot:
	// the first call performs a full enumeration, later calls return the
	// same mapping until updateCache forces a fresh enumeration that
	// replaces the cache wholesale.
	EnumerateExportedFunctions(updateCache bool) (map[Address]Export, error)
}

// MemoryManipulation reads and changes the target's memory.
type MemoryManipulation interface {
	// AllocateProcessMemory maps size bytes of fresh memory in the
	// target, near the given address if possible (best effort hint).
	AllocateProcessMemory(size uint64, near Address) (Address, error)

	// QueryMemoryProtection returns the protection string of the region
	// containing address. Fails with *QueryProcessMemoryError when the
	// remote call faults.
	QueryMemoryProtection(address Address) (string, error)

	// SetMemoryProtection changes the protection of [address,
	// address+size). A false result means the change did not (fully)
	// apply; no error is returned for that case, so callers must
	// re-query to confirm.
	SetMemoryProtection(address Address, size uint64, protection string) (bool, error)

	// ReadProcessMemory reads size bytes starting at address. Fails with
	// *ReadProcessMemoryError on any fault; partial data is discarded.
	ReadProcessMemory(address Address, size uint64) ([]byte, error)

	// WriteProcessMemory writes data starting at address. Fails with
	// *WriteProcessMemoryError on any fault.
	WriteProcessMemory(address Address, data []byte) error
}
