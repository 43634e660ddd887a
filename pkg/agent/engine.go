package agent

// The instrumentation engine owns process spawning, attachment and script
// injection. Those mechanics are outside this module; the interfaces below
// are the boundary the session bootstrap is written against, and the
// Remote* types bind them to an engine reachable over the frame protocol of
// this package. Tests substitute fakes.

// Engine spawns and controls target processes.
type Engine interface {
	// SpawnSuspended starts the executable with its initial thread
	// suspended and returns the new process id.
	SpawnSuspended(path string) (int, error)
	// Attach opens an instrumentation session on a running process.
	Attach(pid int) (Session, error)
	// Resume releases a process spawned suspended.
	Resume(pid int) error
	// Kill forcibly terminates the process.
	Kill(pid int) error
}

// Session is an instrumentation attachment to one process.
type Session interface {
	// CreateScript binds the given agent source to a fresh script
	// context inside the target.
	CreateScript(source string) (Script, error)
	// Detach releases the attachment, leaving the process running.
	Detach() error
}

// Script is an injected agent script.
type Script interface {
	// SetMessageHandler installs the handler for the script's
	// out-of-band messages. Must be called before Load; the engine may
	// begin delivering messages as soon as the script runs.
	SetMessageHandler(MessageHandler)
	// Load compiles and runs the script inside the target. After Load
	// returns the script's exports are callable.
	Load() error
	// Exports is the script's remote-procedure surface.
	Exports() RPC
	// Unload tears the script down.
	Unload() error
}

// RemoteEngine drives an instrumentation engine over a control channel
// speaking the frame protocol of this package.
type RemoteEngine struct {
	ctrl *Conn
}

var _ Engine = &RemoteEngine{}

// DialEngine connects to an engine's control endpoint.
func DialEngine(addr string) (*RemoteEngine, error) {
	ctrl, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	return &RemoteEngine{ctrl: ctrl}, nil
}

// Close releases the control channel. Sessions opened through Attach have
// their own channels and stay usable.
func (e *RemoteEngine) Close() error {
	return e.ctrl.Close()
}

func (e *RemoteEngine) SpawnSuspended(path string) (int, error) {
	var pid int
	err := e.ctrl.call("spawn", []interface{}{path}, &pid)
	return pid, err
}

// Attach asks the engine for a per-process channel endpoint and dials it.
func (e *RemoteEngine) Attach(pid int) (Session, error) {
	var addr string
	if err := e.ctrl.call("attach", []interface{}{pid}, &addr); err != nil {
		return nil, err
	}
	conn, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	return &remoteSession{conn: conn}, nil
}

func (e *RemoteEngine) Resume(pid int) error {
	return e.ctrl.call("resume", []interface{}{pid}, nil)
}

func (e *RemoteEngine) Kill(pid int) error {
	return e.ctrl.call("kill", []interface{}{pid}, nil)
}

type remoteSession struct {
	conn *Conn
}

func (s *remoteSession) CreateScript(source string) (Script, error) {
	if err := s.conn.call("create_script", []interface{}{source}, nil); err != nil {
		return nil, err
	}
	return &remoteScript{conn: s.conn}, nil
}

func (s *remoteSession) Detach() error {
	err := s.conn.call("detach", nil, nil)
	s.conn.Close()
	return err
}

type remoteScript struct {
	conn *Conn
}

func (s *remoteScript) SetMessageHandler(h MessageHandler) {
	s.conn.SetMessageHandler(h)
}

func (s *remoteScript) Load() error {
	return s.conn.call("load_script", nil, nil)
}

func (s *remoteScript) Exports() RPC {
	return s.conn
}

func (s *remoteScript) Unload() error {
	return s.conn.call("unload_script", nil, nil)
}
