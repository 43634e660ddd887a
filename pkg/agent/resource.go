package agent

import _ "embed"

// ScriptSource is the packaged agent script. Its exports must match the RPC
// interface of this package and its messages the shapes in pkg/events.
//
//go:embed script/agent.js
var ScriptSource string
