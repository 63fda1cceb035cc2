package debugwire

import "github.com/wagiedev/execctl-go/internal/debug"

// Message types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Request operations.
const (
	OpSuspend   = "suspend"
	OpResume    = "resume"
	OpThreads   = "threads"
	OpFrames    = "frames"
	OpGetBool   = "get_bool"
	OpSetBool   = "set_bool"
	OpGetObject = "get_object"
	OpThrow     = "throw"
	OpDispose   = "dispose"
)

// Message is one line of the debug protocol.
//
// Wire format for a request:
//
//	{"type":"request","id":"01J...","op":"set_bool","object":"inv-3","name":"expectingStop","value":true}
//
// Wire format for a response:
//
//	{"type":"response","id":"01J...","threads":["main","invoke-3"]}
//	{"type":"response","id":"01J...","error":"no such thread"}
//
// Wire format for an event:
//
//	{"type":"event","event":"vm_death","detail":"exit 0"}
type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Request fields.
	Op     string         `json:"op,omitempty"`
	Thread debug.ThreadID `json:"thread,omitempty"`
	Object debug.ObjectID `json:"object,omitempty"`
	Name   string         `json:"name,omitempty"`
	Value  *bool          `json:"value,omitempty"`

	// Response fields.
	Error   string             `json:"error,omitempty"`
	Threads []debug.ThreadID   `json:"threads,omitempty"`
	Frames  []debug.StackFrame `json:"frames,omitempty"`
	Ref     debug.ObjectID     `json:"ref,omitempty"`

	// Event fields.
	Event  debug.EventKind `json:"event,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// IsError reports whether a response carries an error.
func (m *Message) IsError() bool {
	return m.Error != ""
}
