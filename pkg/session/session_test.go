package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/unhusk/unhusk/pkg/agent"
	"github.com/unhusk/unhusk/pkg/events"
	"github.com/unhusk/unhusk/pkg/proc"
)

// fakeRig is an engine, session, script and agent surface in one, recording
// every step of the bootstrap in order. Resume triggers the oep_reached
// message the way a real target would, on a separate goroutine.
type fakeRig struct {
	steps   []string
	handler agent.MessageHandler

	oepMessage   string
	sendOnResume bool

	ranges map[string][]agent.RangeRecord
}

func newFakeRig() *fakeRig {
	return &fakeRig{
		oepMessage:   `{"type":"send","payload":{"event":"oep_reached","BASE":"0x400000","OEP":"0x401234"}}`,
		sendOnResume: true,
		ranges: map[string][]agent.RangeRecord{
			"target.exe": {
				{Base: "0x400000", Size: 0x1000, Protection: "r--"},
				{Base: "0x401000", Size: 0x1000, Protection: "r-x"},
			},
		},
	}
}

func (r *fakeRig) step(s string) { r.steps = append(r.steps, s) }

// Engine.

func (r *fakeRig) SpawnSuspended(path string) (int, error) { r.step("spawn"); return 42, nil }
func (r *fakeRig) Attach(pid int) (agent.Session, error)   { r.step("attach"); return r, nil }
func (r *fakeRig) Kill(pid int) error                      { r.step("kill"); return nil }

func (r *fakeRig) Resume(pid int) error {
	r.step("resume")
	if r.sendOnResume {
		go r.handler([]byte(r.oepMessage))
	}
	return nil
}

// Session.

func (r *fakeRig) CreateScript(source string) (agent.Script, error) {
	r.step("create_script")
	if source == "" {
		return nil, errors.New("empty script source")
	}
	return r, nil
}

func (r *fakeRig) Detach() error { r.step("detach"); return nil }

// Script.

func (r *fakeRig) SetMessageHandler(h agent.MessageHandler) {
	r.step("set_message_handler")
	r.handler = h
}

func (r *fakeRig) Load() error        { r.step("load_script"); return nil }
func (r *fakeRig) Exports() agent.RPC { return r }
func (r *fakeRig) Unload() error      { return nil }

// Agent RPC surface.

func (r *fakeRig) GetArchitecture() (string, error) { r.step("get_architecture"); return "ia32", nil }
func (r *fakeRig) GetPointerSize() (int, error)     { r.step("get_pointer_size"); return 4, nil }
func (r *fakeRig) GetPageSize() (uint64, error)     { r.step("get_page_size"); return 0x1000, nil }

func (r *fakeRig) FindModuleByAddress(addr proc.Address) (*agent.ModuleRecord, error) {
	if addr >= 0x400000 && addr < 0x410000 {
		return &agent.ModuleRecord{Name: "target.exe", Base: "0x400000", Size: 0x10000}, nil
	}
	return nil, nil
}

func (r *fakeRig) FindRangeByAddress(addr proc.Address) (*agent.RangeRecord, error) {
	return nil, nil
}

func (r *fakeRig) EnumerateModules() ([]string, error) {
	return []string{"target.exe"}, nil
}

func (r *fakeRig) EnumerateModuleRanges(moduleName string) ([]agent.RangeRecord, error) {
	return r.ranges[moduleName], nil
}

func (r *fakeRig) EnumerateExportedFunctions() ([]agent.ExportRecord, error) {
	return nil, nil
}

func (r *fakeRig) AllocateProcessMemory(size uint64, near proc.Address) (string, error) {
	return "0x500000", nil
}

func (r *fakeRig) QueryMemoryProtection(addr proc.Address) (string, error) {
	return "r-x", nil
}

func (r *fakeRig) SetMemoryProtection(addr proc.Address, size uint64, protection string) (bool, error) {
	return true, nil
}

func (r *fakeRig) ReadProcessMemory(addr proc.Address, size uint64) ([]byte, error) {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(addr.Add(uint64(i)))
	}
	return out, nil
}

func (r *fakeRig) WriteProcessMemory(addr proc.Address, data []byte) error { return nil }

func (r *fakeRig) SetupOEPTracing(moduleName string) error {
	r.step(fmt.Sprintf("setup_oep_tracing(%s)", moduleName))
	return nil
}

func TestLaunchSequence(t *testing.T) {
	rig := newFakeRig()
	rig.sendOnResume = false

	notifier := events.NewOEPNotifier()
	ctrl, err := Launch(`C:\samples\target.exe`, rig, notifier)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if ctrl.Pid() != 42 || ctrl.Architecture() != proc.X86 || ctrl.PointerSize() != 4 {
		t.Errorf("wrong controller identity: pid=%d arch=%v", ctrl.Pid(), ctrl.Architecture())
	}

	want := []string{
		"spawn",
		"attach",
		"create_script",
		"set_message_handler",
		"load_script",
		"get_architecture",
		"get_pointer_size",
		"get_page_size",
		"setup_oep_tracing(target.exe)",
		"resume",
	}
	if len(rig.steps) != len(want) {
		t.Fatalf("bootstrap steps %v, expected %v", rig.steps, want)
	}
	for i := range want {
		if rig.steps[i] != want[i] {
			t.Fatalf("step %d is %q, expected %q (full: %v)", i, rig.steps[i], want[i], rig.steps)
		}
	}
}

func TestRunProducesSnapshot(t *testing.T) {
	rig := newFakeRig()

	res, ctrl, err := Run(`C:\samples\target.exe`, rig, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer ctrl.TerminateProcess()

	if res.Event.Base != 0x400000 || res.Event.OEP != 0x401234 {
		t.Errorf("wrong event: %+v", res.Event)
	}
	if res.Module == nil || res.Module.Name != "target.exe" {
		t.Errorf("wrong module: %+v", res.Module)
	}
	if len(res.Ranges) != 2 {
		t.Fatalf("snapshot has %d ranges, expected 2", len(res.Ranges))
	}
	for _, rng := range res.Ranges {
		if uint64(len(rng.Data)) != rng.Size {
			t.Errorf("range %s snapshot incomplete: %d of %d bytes", rng.Base, len(rng.Data), rng.Size)
		}
	}
	if uint64(len(res.Header)) != ctrl.PageSize() {
		t.Errorf("header is %d bytes, expected one page", len(res.Header))
	}
}

func TestRunTimeoutTerminatesTarget(t *testing.T) {
	rig := newFakeRig()
	rig.sendOnResume = false

	_, _, err := Run(`C:\samples\target.exe`, rig, 20*time.Millisecond)
	if !errors.Is(err, events.ErrOEPTimeout) {
		t.Fatalf("got %v, expected ErrOEPTimeout", err)
	}
	killed := false
	for _, s := range rig.steps {
		if s == "kill" {
			killed = true
		}
	}
	if !killed {
		t.Error("target not terminated after timeout")
	}
}

func TestRunProtocolViolationFailsRun(t *testing.T) {
	rig := newFakeRig()
	rig.oepMessage = `{"type":"send","payload":{"event":"unpack_done"}}`

	_, _, err := Run(`C:\samples\target.exe`, rig, 5*time.Second)
	var uerr *events.ErrUnknownMessage
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, expected ErrUnknownMessage", err)
	}
}
