package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// InitializeMethod is the protocol-initialization method name. A request with
// this method and no session identifier is the only way to mint a session.
const InitializeMethod = "initialize"

// Message is the raw JSON representation of a JSON-RPC message. The gateway
// never interprets params or results; it only classifies framing.
type Message []byte

// Envelope is the framing-level view of a single JSON-RPC message: enough
// structure to classify it as request, notification, or response and to echo
// its id, while leaving params/result opaque.
type Envelope struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// Parse decodes and validates a single JSON-RPC message. Batch arrays are not
// messages and fail here.
func Parse(data []byte) (*Envelope, error) {
	type rawEnvelope Envelope
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.JSONRPCVersion != ProtocolVersion {
		return nil, fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, raw.JSONRPCVersion)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil

	if hasMethod {
		if hasResult || hasError {
			return nil, fmt.Errorf("request message cannot have result or error fields")
		}
	} else {
		if hasResult && hasError {
			return nil, fmt.Errorf("response message cannot have both result and error fields")
		}
		if !hasResult && !hasError {
			return nil, fmt.Errorf("response message must have either result or error field")
		}
	}

	e := Envelope(raw)
	return &e, nil
}

// IsRequest reports whether the message is a request expecting a reply.
func (e *Envelope) IsRequest() bool { return e.Method != "" && !e.ID.IsNil() }

// IsNotification reports whether the message is a fire-and-forget request.
func (e *Envelope) IsNotification() bool { return e.Method != "" && e.ID.IsNil() }

// IsResponse reports whether the message is a response to a server-initiated request.
func (e *Envelope) IsResponse() bool { return e.Method == "" }

// IsInitialize reports whether the message is a protocol-initialization request.
func (e *Envelope) IsInitialize() bool { return e.Method == InitializeMethod && e.IsRequest() }

// Type returns "request", "notification", or "response" for logging.
func (e *Envelope) Type() string {
	switch {
	case e.IsNotification():
		return "notification"
	case e.IsRequest():
		return "request"
	default:
		return "response"
	}
}

// Encode marshals the envelope back into a wire message.
func (e *Envelope) Encode() (Message, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return Message(b), nil
}

// NewResultResponse builds a successful JSON-RPC response envelope.
func NewResultResponse(id *RequestID, result any) (*Envelope, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Envelope{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string) *Envelope {
	return &Envelope{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}
