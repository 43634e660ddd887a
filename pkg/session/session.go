// Package session boots an unpacking session: it spawns the target
// suspended, attaches the instrumentation engine, injects the packaged
// agent script, wires event delivery and arms entry-point tracing before
// letting the target run.
package session

import (
	"path/filepath"

	"github.com/unhusk/unhusk/pkg/agent"
	"github.com/unhusk/unhusk/pkg/bridge"
	"github.com/unhusk/unhusk/pkg/events"
	"github.com/unhusk/unhusk/pkg/logflags"
)

// Launch spawns the executable suspended, injects the agent and resumes the
// target once tracing is armed. The notifier's handler is installed before
// the script loads, so no message can be missed. Faults during spawn,
// attach or script load are not recoverable here and propagate to the
// caller; the target may be left suspended.
func Launch(exePath string, engine agent.Engine, notifier *events.OEPNotifier) (*bridge.Controller, error) {
	log := logflags.SessionLogger()
	mainModuleName := filepath.Base(exePath)

	pid, err := engine.SpawnSuspended(exePath)
	if err != nil {
		return nil, err
	}
	log.Debugf("spawned %s suspended, pid %d", exePath, pid)

	sess, err := engine.Attach(pid)
	if err != nil {
		return nil, err
	}
	script, err := sess.CreateScript(agent.ScriptSource)
	if err != nil {
		return nil, err
	}
	script.SetMessageHandler(notifier.Handler())
	if err := script.Load(); err != nil {
		return nil, err
	}

	ctrl, err := bridge.New(pid, mainModuleName, engine, sess, script)
	if err != nil {
		return nil, err
	}
	log.Debugf("target is %s, %d-byte pointers, %d-byte pages",
		ctrl.Architecture(), ctrl.PointerSize(), ctrl.PageSize())

	if err := script.Exports().SetupOEPTracing(mainModuleName); err != nil {
		return nil, err
	}
	if err := engine.Resume(pid); err != nil {
		return nil, err
	}
	log.Debugf("pid %d resumed, tracing armed", pid)

	return ctrl, nil
}
