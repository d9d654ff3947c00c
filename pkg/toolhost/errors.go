package toolhost

import "errors"

var (
	// ErrUnsupportedScriptKind is returned when the tool host script has an
	// extension other than .py or .js.
	ErrUnsupportedScriptKind = errors.New("unsupported script kind")

	// ErrConnectionFailed wraps spawn, handshake and transport failures
	// during Connect.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrToolInvocation is returned when the tool host reports that a tool
	// call failed.
	ErrToolInvocation = errors.New("tool invocation failed")

	// ErrSessionClosed is returned for requests issued after Close or after
	// the child process exited.
	ErrSessionClosed = errors.New("session closed")
)
