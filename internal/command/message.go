package command

import (
	"fmt"

	"github.com/wagiedev/execctl-go/internal/errors"
)

// Commands understood by the agent.
const (
	CmdHandshake      = "handshake"
	CmdLoad           = "load"
	CmdRedefine       = "redefine"
	CmdInvoke         = "invoke"
	CmdVarValue       = "var_value"
	CmdAddToClasspath = "add_to_classpath"
)

// Response statuses.
const (
	StatusSuccess        = "success"
	StatusFail           = "fail"
	StatusException      = "exception"
	StatusCorralled      = "corralled"
	StatusKilled         = "killed"
	StatusNotImplemented = "not_implemented"
)

// ProtocolVersion is exchanged in the handshake.
const ProtocolVersion = "1"

// Class is the bytecode of one class to install in the worker.
type Class struct {
	Name  string `json:"name"`
	Bytes []byte `json:"bytes"`
}

// Request is a command sent to the agent.
//
// Wire format:
//
//	{"cmd":"invoke","class":"Echo","method":"run"}
//	{"cmd":"load","classes":[{"name":"Echo","bytes":"yv66vg=="}]}
type Request struct {
	Cmd     string  `json:"cmd"`
	Version string  `json:"version,omitempty"`
	Classes []Class `json:"classes,omitempty"`
	Class   string  `json:"class,omitempty"`
	Method  string  `json:"method,omitempty"`
	Var     string  `json:"var,omitempty"`
	Path    string  `json:"path,omitempty"`
}

// Response is the agent's answer to a Request.
//
// Wire format:
//
//	{"status":"success","value":"5"}
//	{"status":"exception","exception_class":"ArithmeticException","message":"/ by zero"}
type Response struct {
	Status         string   `json:"status"`
	Value          string   `json:"value,omitempty"`
	Message        string   `json:"message,omitempty"`
	ExceptionClass string   `json:"exception_class,omitempty"`
	Trace          []string `json:"trace,omitempty"`
	ID             string   `json:"id,omitempty"`
}

// Err maps a non-success response onto the error taxonomy. It returns nil
// for a success response.
func (r *Response) Err(cmd string) error {
	switch r.Status {
	case StatusSuccess:
		return nil

	case StatusFail:
		if cmd == CmdLoad || cmd == CmdRedefine || cmd == CmdAddToClasspath {
			return &errors.ClassInstallError{Message: r.Message}
		}

		return &errors.ExecutionFailure{Message: r.Message}

	case StatusException:
		return &errors.UserException{
			ClassName: r.ExceptionClass,
			Message:   r.Message,
			Trace:     r.Trace,
		}

	case StatusCorralled:
		return &errors.ResolutionError{ID: r.ID, Message: r.Message}

	case StatusKilled:
		return &errors.StoppedError{}

	case StatusNotImplemented:
		return &errors.NotImplementedError{Command: cmd}

	default:
		return &errors.InternalError{
			Op:  cmd,
			Err: fmt.Errorf("unexpected response status %q", r.Status),
		}
	}
}

// Success builds a success response carrying value.
func Success(value string) *Response {
	return &Response{Status: StatusSuccess, Value: value}
}

// Failure builds a response with status and message.
func Failure(status, message string) *Response {
	return &Response{Status: status, Message: message}
}
