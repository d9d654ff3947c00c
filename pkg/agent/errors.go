package agent

import "errors"

var (
	// ErrToolArgumentParse is returned when the model supplies tool
	// arguments that are not a JSON object matching the tool's schema.
	ErrToolArgumentParse = errors.New("tool argument parse error")

	// ErrModelCall wraps any failure from the model provider.
	ErrModelCall = errors.New("model call failed")
)
