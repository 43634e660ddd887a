package bridge

import (
	"reflect"
	"testing"

	"github.com/unhusk/unhusk/pkg/agent"
)

func TestExportCacheIsLazy(t *testing.T) {
	rpc := newFakeRPC()
	rpc.exportSnapshots = [][]agent.ExportRecord{exportSnapshot(3)}
	ctrl, _, _ := testController(t, rpc)

	if rpc.exportCalls != 0 {
		t.Fatal("construction enumerated exports")
	}

	first, err := ctrl.EnumerateExportedFunctions(false)
	assertNoError(err, t, "EnumerateExportedFunctions")
	if rpc.exportCalls != 1 || len(first) != 3 {
		t.Fatalf("first enumeration: %d calls, %d exports", rpc.exportCalls, len(first))
	}

	// Second call must return the identical snapshot with no remote call.
	second, err := ctrl.EnumerateExportedFunctions(false)
	assertNoError(err, t, "EnumerateExportedFunctions cached")
	if rpc.exportCalls != 1 {
		t.Errorf("cached enumeration issued a remote call")
	}
	if reflect.ValueOf(first).Pointer() != reflect.ValueOf(second).Pointer() {
		t.Error("cached enumeration returned a different mapping")
	}
}

func TestExportCacheRefreshReplacesSnapshot(t *testing.T) {
	rpc := newFakeRPC()
	rpc.exportSnapshots = [][]agent.ExportRecord{exportSnapshot(3), exportSnapshot(5)}
	ctrl, _, _ := testController(t, rpc)

	first, err := ctrl.EnumerateExportedFunctions(false)
	assertNoError(err, t, "first enumeration")

	second, err := ctrl.EnumerateExportedFunctions(true)
	assertNoError(err, t, "refresh")
	if rpc.exportCalls != 2 {
		t.Errorf("refresh issued %d remote calls, expected 2 total", rpc.exportCalls)
	}
	if len(first) != 3 || len(second) != 5 {
		t.Errorf("snapshots have %d and %d exports, expected 3 and 5", len(first), len(second))
	}
	if reflect.ValueOf(first).Pointer() == reflect.ValueOf(second).Pointer() {
		t.Error("refresh did not replace the mapping")
	}

	third, err := ctrl.EnumerateExportedFunctions(false)
	assertNoError(err, t, "post-refresh enumeration")
	if reflect.ValueOf(third).Pointer() != reflect.ValueOf(second).Pointer() {
		t.Error("cache does not hold the refreshed snapshot")
	}
}

func TestExportCacheFailedRefreshKeepsNothing(t *testing.T) {
	rpc := newFakeRPC()
	// No snapshots: every enumeration faults.
	ctrl, _, _ := testController(t, rpc)

	if _, err := ctrl.EnumerateExportedFunctions(false); err == nil {
		t.Fatal("expected enumeration fault")
	}
	// The fault must not have installed a partial cache.
	rpc.exportSnapshots = [][]agent.ExportRecord{exportSnapshot(2)}
	rpc.exportCalls = 0
	exports, err := ctrl.EnumerateExportedFunctions(false)
	assertNoError(err, t, "enumeration after fault")
	if len(exports) != 2 {
		t.Errorf("got %d exports, expected 2", len(exports))
	}
}

func TestFindExportsByPrefix(t *testing.T) {
	rpc := newFakeRPC()
	rpc.exportSnapshots = [][]agent.ExportRecord{
		{
			{Type: "function", Name: "LoadLibraryA", Address: "0x1000", Module: "kernel32.dll"},
			{Type: "function", Name: "LoadLibraryW", Address: "0x1010", Module: "kernel32.dll"},
			{Type: "function", Name: "LoadLibraryA", Address: "0x2000", Module: "kernelbase.dll"},
			{Type: "function", Name: "GetProcAddress", Address: "0x1020", Module: "kernel32.dll"},
		},
	}
	ctrl, _, _ := testController(t, rpc)

	exports, err := ctrl.FindExportsByPrefix("LoadLibrary")
	assertNoError(err, t, "FindExportsByPrefix")
	if len(exports) != 3 {
		t.Fatalf("got %d exports, expected 3", len(exports))
	}
	// Ordered by name, then address: both LoadLibraryA entries before W.
	if exports[0].Name != "LoadLibraryA" || exports[0].Address != 0x1000 ||
		exports[1].Name != "LoadLibraryA" || exports[1].Address != 0x2000 ||
		exports[2].Name != "LoadLibraryW" {
		t.Errorf("wrong order: %+v", exports)
	}

	none, err := ctrl.FindExportsByPrefix("Zw")
	assertNoError(err, t, "FindExportsByPrefix miss")
	if len(none) != 0 {
		t.Errorf("expected no matches, got %+v", none)
	}
}
