package toolhost

import (
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// JSON-RPC error codes used when answering requests from the tool host.
const (
	codeMethodNotFound = -32601
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// envelope is any inbound message: a response to one of our requests, a
// request from the tool host, or a notification.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (e *envelope) isResponse() bool {
	return e.Method == "" && len(e.ID) > 0
}

func (e *envelope) isRequest() bool {
	return e.Method != "" && len(e.ID) > 0 && string(e.ID) != "null"
}

// numericID returns the ID as an int64 when it is a JSON number.
func (e *envelope) numericID() (int64, bool) {
	var id int64
	if err := json.Unmarshal(e.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
