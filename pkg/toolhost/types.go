package toolhost

import (
	"encoding/json"
	"fmt"
	"strings"
)

// protocolVersion is the MCP protocol version advertised during initialize.
const protocolVersion = "2024-11-05"

// Tool is a tool descriptor as returned by tools/list. InputSchema keeps the
// raw bytes sent by the tool host.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentBlock is a single content item in a tools/call result.
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Data     string          `json:"data,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// CallResult is the result payload of tools/call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text joins the result content into one string. Text blocks are kept
// verbatim; other blocks become inline markers such as "[image]".
func (r *CallResult) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]", b.Type))
	}
	return strings.Join(parts, "\n")
}

// ServerInfo identifies the tool host as reported by initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type toolsListResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}
