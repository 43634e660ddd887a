// Package events parses the out-of-band messages produced by the injected
// agent and turns them into typed events for the unpacking driver.
//
// Messages arrive on the channel's receive goroutine, which must never be
// used to issue new remote calls, so delivery is split in two phases: the
// dispatch side only records the event in an OEPNotifier, and the driver
// reacts after waking from Wait on its own goroutine.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/unhusk/unhusk/pkg/logflags"
	"github.com/unhusk/unhusk/pkg/proc"
)

// Message is the wire shape of one out-of-band agent message.
type Message struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Stack       string   `json:"stack,omitempty"`
	Payload     *Payload `json:"payload,omitempty"`
}

// Payload carries the event-specific fields of a "send" message. Addresses
// are hexadecimal strings.
type Payload struct {
	Event string `json:"event"`
	Base  string `json:"BASE,omitempty"`
	OEP   string `json:"OEP,omitempty"`
}

// ErrUnknownMessage means the agent produced a message this version of the
// protocol does not define. It signals an agent/bridge version mismatch and
// is fatal for the session.
type ErrUnknownMessage struct {
	Raw []byte
	Err error
}

func (err *ErrUnknownMessage) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("unknown agent message %s: %v", err.Raw, err.Err)
	}
	return fmt.Sprintf("unknown agent message: %s", err.Raw)
}

func (err *ErrUnknownMessage) Unwrap() error { return err.Err }

// Dispatch parses one raw message. Agent-reported errors are logged with
// their stack trace and dropped; an oep_reached event invokes notify with
// the parsed module base and OEP addresses. Anything else returns
// *ErrUnknownMessage.
//
// notify runs in the caller's (dispatch) context and therefore must not
// issue remote calls; it should only record the event.
func Dispatch(raw []byte, notify func(base, oep proc.Address)) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &ErrUnknownMessage{Raw: raw, Err: err}
	}

	switch msg.Type {
	case "error":
		log := logflags.EventsLogger()
		log.Errorf("agent error: %s", msg.Description)
		if msg.Stack != "" {
			log.Error(msg.Stack)
		}
		return nil
	case "send":
		if msg.Payload == nil {
			break
		}
		if msg.Payload.Event == "oep_reached" {
			base, err := proc.ParseAddress(msg.Payload.Base)
			if err != nil {
				return &ErrUnknownMessage{Raw: raw, Err: err}
			}
			oep, err := proc.ParseAddress(msg.Payload.OEP)
			if err != nil {
				return &ErrUnknownMessage{Raw: raw, Err: err}
			}
			notify(base, oep)
			return nil
		}
	}
	return &ErrUnknownMessage{Raw: raw}
}
