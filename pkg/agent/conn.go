// This file implements the channel through which remote calls and messages
// flow between the controlling process and the injected agent. The wire
// format is length-prefixed JSON frames over a byte stream:
//
//   request:  {"id": n, "method": "...", "params": [...]}
//   reply:    {"id": n, "result": ...} or {"id": n, "error": "..."}
//   message:  {"type": "...", ...}   (out of band, no id)
//
// Replies are correlated to requests by id, so the driver can have at most
// one call in flight per Conn; the conn serializes callers. Out-of-band
// messages are delivered to the registered MessageHandler on the conn's
// receive goroutine.
//
// Frames cannot exceed maxFrameSize on either side; bulk transfers are
// chunked above this layer (see pkg/bridge).

package agent

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/unhusk/unhusk/pkg/logflags"
	"github.com/unhusk/unhusk/pkg/proc"
)

// maxFrameSize is the hard payload ceiling of the channel. A frame this
// large or larger is a protocol violation on either side.
const maxFrameSize = 128 * 1024 * 1024

// ErrConnClosed is returned by calls issued after the channel shut down.
var ErrConnClosed = errors.New("agent connection closed")

// RPCError is a fault reported by the agent for one remote call, for
// example a read of an unmapped address. It is distinct from channel
// failures (io errors, malformed frames), which indicate a broken session
// rather than a failed operation.
type RPCError struct {
	Method  string
	Message string
}

func (err *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: %s", err.Method, err.Message)
}

// MessageHandler receives raw out-of-band messages. It runs on the conn's
// receive goroutine: it MUST NOT issue calls on the same conn (the receive
// loop is blocked inside the handler, so a reply could never arrive) and
// should only record the event for later handling.
type MessageHandler func(raw []byte)

type envelope struct {
	ID     uint64        `json:"id,omitempty"`
	Method string        `json:"method,omitempty"`
	Params []interface{} `json:"params,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`

	Type string `json:"type,omitempty"`
}

// Conn is a channel to an injected agent. It implements the RPC surface
// synchronously and forwards out-of-band messages to a MessageHandler.
type Conn struct {
	rwc io.ReadWriteCloser
	log *logrus.Entry

	writeMu sync.Mutex // serializes frame writes

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]chan envelope
	handler  MessageHandler
	closeErr error
}

var _ RPC = &Conn{}

// NewConn wraps an established byte stream and starts its receive loop.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	c := &Conn{
		rwc:     rwc,
		log:     logflags.WireLogger(),
		pending: make(map[uint64]chan envelope),
	}
	go c.recvLoop()
	return c
}

// Dial connects to a channel endpoint exposed by the instrumentation
// engine.
func Dial(addr string) (*Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// SetMessageHandler installs the handler for out-of-band messages. It must
// be installed before the agent script is loaded; messages arriving with no
// handler installed are logged and dropped.
func (c *Conn) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Close shuts the channel down. Pending and future calls fail with
// ErrConnClosed.
func (c *Conn) Close() error {
	c.shutdown(ErrConnClosed)
	return c.rwc.Close()
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return
	}
	c.closeErr = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

func (c *Conn) recvLoop() {
	for {
		raw, err := c.readFrame()
		if err != nil {
			c.shutdown(fmt.Errorf("agent connection lost: %v", err))
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.shutdown(fmt.Errorf("malformed frame from agent: %v", err))
			return
		}
		switch {
		case env.ID != 0:
			c.mu.Lock()
			ch := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ch == nil {
				c.log.Warnf("reply for unknown call id %d", env.ID)
				continue
			}
			ch <- env
		case env.Type != "":
			c.mu.Lock()
			h := c.handler
			c.mu.Unlock()
			if h == nil {
				c.log.Warnf("dropping message with no handler installed: %s", raw)
				continue
			}
			h(raw)
		default:
			c.shutdown(fmt.Errorf("frame with neither id nor type: %s", raw))
			return
		}
	}
}

// call issues one remote call and blocks until the agent replies. A
// non-nil result is filled from the reply.
func (c *Conn) call(method string, params []interface{}, result interface{}) error {
	ch := make(chan envelope, 1)

	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	req, err := json.Marshal(envelope{ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	if logflags.Wire() {
		c.log.Debugf("-> %s", req)
	}
	if err := c.writeFrame(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	env, ok := <-ch
	if !ok {
		c.mu.Lock()
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	if logflags.Wire() {
		c.log.Debugf("<- id=%d err=%v", env.ID, env.Error)
	}
	if env.Error != nil {
		return &RPCError{Method: method, Message: *env.Error}
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("malformed %s reply: %v", method, err)
		}
	}
	return nil
}

func (c *Conn) writeFrame(body []byte) error {
	if len(body) >= maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds channel ceiling", len(body))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := c.rwc.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.rwc.Write(body)
	return err
}

func (c *Conn) readFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.rwc, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n >= maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds channel ceiling", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.rwc, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Remote-procedure surface. Addresses go out as hexadecimal strings, raw
// bytes as base64 (the natural JSON encoding of []byte).

func (c *Conn) GetArchitecture() (string, error) {
	var arch string
	err := c.call("get_architecture", nil, &arch)
	return arch, err
}

func (c *Conn) GetPointerSize() (int, error) {
	var size int
	err := c.call("get_pointer_size", nil, &size)
	return size, err
}

func (c *Conn) GetPageSize() (uint64, error) {
	var size uint64
	err := c.call("get_page_size", nil, &size)
	return size, err
}

func (c *Conn) FindModuleByAddress(addr proc.Address) (*ModuleRecord, error) {
	var mod *ModuleRecord
	err := c.call("find_module_by_address", []interface{}{addr.String()}, &mod)
	return mod, err
}

func (c *Conn) FindRangeByAddress(addr proc.Address) (*RangeRecord, error) {
	var rng *RangeRecord
	err := c.call("find_range_by_address", []interface{}{addr.String()}, &rng)
	return rng, err
}

func (c *Conn) EnumerateModules() ([]string, error) {
	var names []string
	err := c.call("enumerate_modules", nil, &names)
	return names, err
}

func (c *Conn) EnumerateModuleRanges(moduleName string) ([]RangeRecord, error) {
	var ranges []RangeRecord
	err := c.call("enumerate_module_ranges", []interface{}{moduleName}, &ranges)
	return ranges, err
}

func (c *Conn) EnumerateExportedFunctions() ([]ExportRecord, error) {
	var exports []ExportRecord
	err := c.call("enumerate_exported_functions", nil, &exports)
	return exports, err
}

func (c *Conn) AllocateProcessMemory(size uint64, near proc.Address) (string, error) {
	var addr string
	err := c.call("allocate_process_memory", []interface{}{size, near.String()}, &addr)
	return addr, err
}

func (c *Conn) QueryMemoryProtection(addr proc.Address) (string, error) {
	var prot string
	err := c.call("query_memory_protection", []interface{}{addr.String()}, &prot)
	return prot, err
}

func (c *Conn) SetMemoryProtection(addr proc.Address, size uint64, protection string) (bool, error) {
	var ok bool
	err := c.call("set_memory_protection", []interface{}{addr.String(), size, protection}, &ok)
	return ok, err
}

func (c *Conn) ReadProcessMemory(addr proc.Address, size uint64) ([]byte, error) {
	var data []byte
	err := c.call("read_process_memory", []interface{}{addr.String(), size}, &data)
	return data, err
}

func (c *Conn) WriteProcessMemory(addr proc.Address, data []byte) error {
	return c.call("write_process_memory", []interface{}{addr.String(), data}, nil)
}

func (c *Conn) SetupOEPTracing(moduleName string) error {
	return c.call("setup_oep_tracing", []interface{}{moduleName}, nil)
}
