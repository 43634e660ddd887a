package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unhusk/unhusk/pkg/agent"
	"github.com/unhusk/unhusk/pkg/logflags"
	"github.com/unhusk/unhusk/pkg/proc"
)

// ErrOEPTimeout is returned by Wait when the target neither reached its
// entry point nor failed within the deadline. The protocol has no
// keep-alive; a packed target that exits or hangs produces no event at all.
var ErrOEPTimeout = errors.New("timed out waiting for original entry point")

// OEPEvent is the unpacking-complete notification: execution reached the
// original entry point of the module loaded at Base.
type OEPEvent struct {
	Base proc.Address
	OEP  proc.Address
}

// OEPNotifier is the single-slot handoff between the channel's dispatch
// goroutine and the driver. The dispatch side records exactly one event (or
// one protocol failure); the driver blocks in Wait and does all of its
// remote-call-driven reaction after waking.
type OEPNotifier struct {
	mu        sync.Mutex
	delivered bool
	ch        chan waitResult
}

type waitResult struct {
	ev  OEPEvent
	err error
}

// NewOEPNotifier returns an empty notifier.
func NewOEPNotifier() *OEPNotifier {
	return &OEPNotifier{ch: make(chan waitResult, 1)}
}

// Handler adapts the notifier to the channel's message handler. Unknown
// message shapes fail the wait instead of being raised on the dispatch
// goroutine, so the driver sees the broken contract as a typed error.
func (n *OEPNotifier) Handler() agent.MessageHandler {
	return func(raw []byte) {
		if err := Dispatch(raw, n.Notify); err != nil {
			n.fail(err)
		}
	}
}

// Notify records the event. Exactly one event is expected per run; a second
// delivery is dropped with a warning.
func (n *OEPNotifier) Notify(base, oep proc.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.delivered {
		logflags.EventsLogger().Warnf("duplicate oep_reached event (base=%s oep=%s) dropped", base, oep)
		return
	}
	n.delivered = true
	n.ch <- waitResult{ev: OEPEvent{Base: base, OEP: oep}}
}

func (n *OEPNotifier) fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.delivered {
		logflags.EventsLogger().WithError(err).Warn("protocol failure after event delivery")
		return
	}
	n.delivered = true
	n.ch <- waitResult{err: err}
}

// Wait blocks until the event arrives, the protocol fails, or the timeout
// elapses. A zero timeout waits forever.
func (n *OEPNotifier) Wait(timeout time.Duration) (OEPEvent, error) {
	if timeout == 0 {
		r := <-n.ch
		return r.ev, r.err
	}
	select {
	case r := <-n.ch:
		return r.ev, r.err
	case <-time.After(timeout):
		return OEPEvent{}, ErrOEPTimeout
	}
}

// WaitContext is Wait bounded by a context instead of a duration.
func (n *OEPNotifier) WaitContext(ctx context.Context) (OEPEvent, error) {
	select {
	case r := <-n.ch:
		return r.ev, r.err
	case <-ctx.Done():
		return OEPEvent{}, ctx.Err()
	}
}
