package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603

	// ErrorCodeInvalidSession indicates the request carried no usable session
	// identifier: either none was supplied on a non-initialize request, or the
	// supplied identifier has no live binding on this server.
	ErrorCodeInvalidSession ErrorCode = -32000
	// ErrorCodeSessionNotFound indicates the referenced session has no durable
	// record on this server.
	ErrorCodeSessionNotFound ErrorCode = -32001
)
