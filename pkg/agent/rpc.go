// Package agent models the instrumentation agent injected into the target
// process. The agent is an opaque peer: it performs all in-process memory
// scanning and execution tracing itself and exposes the fixed
// remote-procedure surface below, plus an out-of-band message stream used
// for asynchronous event notification.
//
// Nothing in this package interprets the agent's events; see pkg/events for
// the message protocol and pkg/bridge for the process-control implementation
// built on top of this surface.
package agent

import "github.com/unhusk/unhusk/pkg/proc"

// RPC is the remote-procedure surface exposed by the injected agent. Every
// call is synchronous and blocks until the agent replies; there is no
// built-in timeout. Addresses cross the wire as hexadecimal strings, raw
// memory as base64-encoded bytes.
//
// Implementations other than *Conn exist only in tests; the bridge is
// written against this interface so it can be exercised with a fake peer.
type RPC interface {
	GetArchitecture() (string, error)
	GetPointerSize() (int, error)
	GetPageSize() (uint64, error)

	// FindModuleByAddress returns the module containing addr, or nil.
	FindModuleByAddress(addr proc.Address) (*ModuleRecord, error)
	// FindRangeByAddress returns the mapped range containing addr, or nil.
	FindRangeByAddress(addr proc.Address) (*RangeRecord, error)
	EnumerateModules() ([]string, error)
	EnumerateModuleRanges(moduleName string) ([]RangeRecord, error)
	EnumerateExportedFunctions() ([]ExportRecord, error)

	// AllocateProcessMemory returns the hex address of a fresh mapping of
	// size bytes, placed near the hint when possible.
	AllocateProcessMemory(size uint64, near proc.Address) (string, error)
	QueryMemoryProtection(addr proc.Address) (string, error)
	SetMemoryProtection(addr proc.Address, size uint64, protection string) (bool, error)
	ReadProcessMemory(addr proc.Address, size uint64) ([]byte, error)
	WriteProcessMemory(addr proc.Address, data []byte) error

	// SetupOEPTracing arms the agent's entry-point tracing for the named
	// main module. The agent reports the result asynchronously with an
	// oep_reached message.
	SetupOEPTracing(moduleName string) error
}

// ModuleRecord is a loaded module as reported by the agent.
type ModuleRecord struct {
	Name string `json:"name"`
	Base string `json:"base"`
	Size uint64 `json:"size"`
	Path string `json:"path"`
}

// RangeRecord is a mapped memory region as reported by the agent.
type RangeRecord struct {
	Base       string `json:"base"`
	Size       uint64 `json:"size"`
	Protection string `json:"protection"`
}

// ExportRecord is one exported symbol as reported by the agent.
type ExportRecord struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Module  string `json:"module"`
}
