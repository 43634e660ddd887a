// Package bridge implements proc.ProcessController on top of the
// remote-procedure surface of an injected agent.
//
// The channel under the agent RPC has a hard payload ceiling, so bulk
// memory transfers are split into fixed-size chunks here. Faults reported
// by the agent for a memory operation are re-raised as the typed errors of
// pkg/proc, preserving the fault as the cause; every other failure
// (connection loss, malformed replies) propagates unchanged since it
// indicates a broken session rather than a failed operation.
package bridge

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/unhusk/unhusk/pkg/agent"
	"github.com/unhusk/unhusk/pkg/logflags"
	"github.com/unhusk/unhusk/pkg/proc"
)

// maxChunkSize is the largest single-call transfer the bridge will ask of
// the agent. The channel rejects frames of 128 MiB and up; half that leaves
// comfortable room for framing and encoding overhead. Fixed so transfer
// behavior is deterministic regardless of caller-requested sizes.
const maxChunkSize = 64 * 1024 * 1024

// Controller implements proc.ProcessController over an instrumentation
// session. All fields except the export cache are fixed at construction;
// the cache's only writer is the calling goroutine.
type Controller struct {
	pid            int
	mainModuleName string
	arch           proc.Architecture
	pointerSize    int
	pageSize       uint64

	rpc     agent.RPC
	engine  agent.Engine
	session agent.Session
	log     *logrus.Entry

	exports *exportCache
}

var _ proc.ProcessController = &Controller{}

// New builds a Controller for the process the session is attached to. It
// issues exactly three remote calls, learning the target's architecture,
// pointer size and page size. An architecture string the model does not
// recognize fails construction with *proc.ErrUnknownArchitecture: the agent
// and target are incompatible and no session state can be trusted.
func New(pid int, mainModuleName string, engine agent.Engine, session agent.Session, script agent.Script) (*Controller, error) {
	rpc := script.Exports()

	archStr, err := rpc.GetArchitecture()
	if err != nil {
		return nil, err
	}
	arch, err := proc.ParseArchitecture(archStr)
	if err != nil {
		return nil, err
	}
	pointerSize, err := rpc.GetPointerSize()
	if err != nil {
		return nil, err
	}
	pageSize, err := rpc.GetPageSize()
	if err != nil {
		return nil, err
	}

	return &Controller{
		pid:            pid,
		mainModuleName: mainModuleName,
		arch:           arch,
		pointerSize:    pointerSize,
		pageSize:       pageSize,
		rpc:            rpc,
		engine:         engine,
		session:        session,
		log:            logflags.BridgeLogger(),
	}, nil
}

func (p *Controller) Pid() int                        { return p.pid }
func (p *Controller) MainModuleName() string          { return p.mainModuleName }
func (p *Controller) Architecture() proc.Architecture { return p.arch }
func (p *Controller) PointerSize() int                { return p.pointerSize }
func (p *Controller) PageSize() uint64                { return p.pageSize }

// FindModuleByAddress returns the module containing address, or nil.
func (p *Controller) FindModuleByAddress(address proc.Address) (*proc.Module, error) {
	rec, err := p.rpc.FindModuleByAddress(address)
	if err != nil || rec == nil {
		return nil, err
	}
	base, err := proc.ParseAddress(rec.Base)
	if err != nil {
		return nil, err
	}
	return &proc.Module{Name: rec.Name, Base: base, Size: rec.Size, Path: rec.Path}, nil
}

// FindRangeByAddress resolves the region containing address, reading its
// bytes when includeData is set.
func (p *Controller) FindRangeByAddress(address proc.Address, includeData bool) (*proc.MemoryRange, error) {
	rec, err := p.rpc.FindRangeByAddress(address)
	if err != nil || rec == nil {
		return nil, err
	}
	return p.recordToRange(rec, includeData)
}

// EnumerateModules returns a snapshot of loaded module names.
func (p *Controller) EnumerateModules() ([]string, error) {
	return p.rpc.EnumerateModules()
}

// EnumerateModuleRanges returns the mapped regions of the named module.
func (p *Controller) EnumerateModuleRanges(moduleName string, includeData bool) ([]proc.MemoryRange, error) {
	recs, err := p.rpc.EnumerateModuleRanges(moduleName)
	if err != nil {
		return nil, err
	}
	ranges := make([]proc.MemoryRange, 0, len(recs))
	for i := range recs {
		r, err := p.recordToRange(&recs[i], includeData)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, *r)
	}
	return ranges, nil
}

// AllocateProcessMemory maps size bytes in the target near the given hint.
func (p *Controller) AllocateProcessMemory(size uint64, near proc.Address) (proc.Address, error) {
	addrStr, err := p.rpc.AllocateProcessMemory(size, near)
	if err != nil {
		return 0, err
	}
	return proc.ParseAddress(addrStr)
}

// QueryMemoryProtection returns the protection of the region containing
// address, failing with *proc.QueryProcessMemoryError on an agent fault.
func (p *Controller) QueryMemoryProtection(address proc.Address) (string, error) {
	protection, err := p.rpc.QueryMemoryProtection(address)
	if err != nil {
		if isRPCError(err) {
			return "", &proc.QueryProcessMemoryError{Addr: address, Err: err}
		}
		return "", err
	}
	return protection, nil
}

// SetMemoryProtection changes the protection of [address, address+size). A
// false result carries no error; callers confirm by re-querying.
func (p *Controller) SetMemoryProtection(address proc.Address, size uint64, protection string) (bool, error) {
	return p.rpc.SetMemoryProtection(address, size, protection)
}

// ReadProcessMemory reads size bytes at address, one chunk at a time. Any
// chunk fault aborts the transfer with *proc.ReadProcessMemoryError and the
// data accumulated so far is discarded.
func (p *Controller) ReadProcessMemory(address proc.Address, size uint64) ([]byte, error) {
	if logflags.Bridge() && size > maxChunkSize {
		p.log.Debugf("reading %d bytes at %s in %d-byte chunks", size, address, maxChunkSize)
	}
	data := make([]byte, 0, size)
	for offset := uint64(0); offset < size; offset += maxChunkSize {
		chunkSize := size - offset
		if chunkSize > maxChunkSize {
			chunkSize = maxChunkSize
		}
		chunk, err := p.rpc.ReadProcessMemory(address.Add(offset), chunkSize)
		if err != nil {
			if isRPCError(err) {
				return nil, &proc.ReadProcessMemoryError{Addr: address, Size: size, Err: err}
			}
			return nil, err
		}
		data = append(data, chunk...)
	}
	return data, nil
}

// WriteProcessMemory writes data at address, chunked symmetrically with
// reads. A chunk fault aborts with *proc.WriteProcessMemoryError; chunks
// already written stay written.
func (p *Controller) WriteProcessMemory(address proc.Address, data []byte) error {
	for offset := 0; offset < len(data); offset += maxChunkSize {
		end := offset + maxChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := p.rpc.WriteProcessMemory(address.Add(uint64(offset)), data[offset:end]); err != nil {
			if isRPCError(err) {
				return &proc.WriteProcessMemoryError{Addr: address, Size: uint64(len(data)), Err: err}
			}
			return err
		}
	}
	return nil
}

// TerminateProcess kills the target and releases the attachment. Calling it
// twice is undefined.
func (p *Controller) TerminateProcess() error {
	p.log.Debugf("terminating pid %d", p.pid)
	if err := p.engine.Kill(p.pid); err != nil {
		return err
	}
	return p.session.Detach()
}

func (p *Controller) recordToRange(rec *agent.RangeRecord, includeData bool) (*proc.MemoryRange, error) {
	base, err := proc.ParseAddress(rec.Base)
	if err != nil {
		return nil, err
	}
	var data []byte
	if includeData {
		data, err = p.ReadProcessMemory(base, rec.Size)
		if err != nil {
			return nil, err
		}
	}
	return &proc.MemoryRange{
		Base:       base,
		Size:       rec.Size,
		Protection: rec.Protection,
		Data:       data,
	}, nil
}

func isRPCError(err error) bool {
	var rpcErr *agent.RPCError
	return errors.As(err, &rpcErr)
}
