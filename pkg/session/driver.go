package session

import (
	"time"

	"github.com/unhusk/unhusk/pkg/agent"
	"github.com/unhusk/unhusk/pkg/config"
	"github.com/unhusk/unhusk/pkg/events"
	"github.com/unhusk/unhusk/pkg/logflags"
	"github.com/unhusk/unhusk/pkg/proc"
)

// Result is what an unpacking run produces: the entry-point event, the
// module it landed in, a snapshot of that module's mapped ranges with their
// bytes, and the module's header page. Reconstruction and dumping of the
// snapshot belong to downstream layers.
type Result struct {
	Event  events.OEPEvent
	Module *proc.Module
	Ranges []proc.MemoryRange
	Header []byte
}

// Run drives one complete unpacking session: launch, wait for the original
// entry point, snapshot. The wait is the driver's only liveness guard: a
// target that exits or hangs before unpacking produces no event, so a zero
// timeout can block forever. On timeout or protocol failure the target is
// terminated.
//
// The returned controller stays attached so callers can do further work
// (patching, protection changes) before terminating the target themselves.
func Run(exePath string, engine agent.Engine, timeout time.Duration) (*Result, proc.ProcessController, error) {
	notifier := events.NewOEPNotifier()
	ctrl, err := Launch(exePath, engine, notifier)
	if err != nil {
		return nil, nil, err
	}

	ev, err := notifier.Wait(timeout)
	if err != nil {
		if terr := ctrl.TerminateProcess(); terr != nil {
			logflags.SessionLogger().WithError(terr).Warn("could not terminate target")
		}
		return nil, nil, err
	}

	res, err := Snapshot(ctrl, ev)
	if err != nil {
		return nil, ctrl, err
	}
	return res, ctrl, nil
}

// RunWithConfig is Run configured from the user's config file: logging
// flags, engine address and wait timeout all come from cfg.
func RunWithConfig(exePath string, cfg *config.Config) (*Result, proc.ProcessController, error) {
	if err := logflags.Setup(cfg.Log, cfg.LogOutput); err != nil {
		return nil, nil, err
	}
	engine, err := agent.DialEngine(cfg.AgentAddr)
	if err != nil {
		return nil, nil, err
	}
	defer engine.Close()
	return Run(exePath, engine, time.Duration(cfg.OEPTimeoutSeconds)*time.Second)
}

// Snapshot captures the unpacked module the instant after ev was delivered:
// every mapped range of the module containing the entry point, with data,
// plus the header page at the module base. Header reads go through a page
// cache because downstream reconstruction re-probes the same page many
// times with small reads.
func Snapshot(ctrl proc.ProcessController, ev events.OEPEvent) (*Result, error) {
	mod, err := ctrl.FindModuleByAddress(ev.OEP)
	if err != nil {
		return nil, err
	}
	moduleName := ctrl.MainModuleName()
	if mod != nil {
		moduleName = mod.Name
	}

	ranges, err := ctrl.EnumerateModuleRanges(moduleName, true)
	if err != nil {
		return nil, err
	}

	mem, err := proc.NewCachedMemory(proc.Reader(ctrl), ctrl.PageSize(), 64)
	if err != nil {
		return nil, err
	}
	header := make([]byte, ctrl.PageSize())
	if _, err := mem.ReadMemory(header, ev.Base); err != nil {
		return nil, err
	}

	return &Result{
		Event:  ev,
		Module: mod,
		Ranges: ranges,
		Header: header,
	}, nil
}
