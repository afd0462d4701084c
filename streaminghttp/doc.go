// Package streaminghttp fronts a tool-call style JSON-RPC protocol with
// durable, capacity-bounded sessions over a bidirectional HTTP transport. It
// mounts as a standard net/http handler.
//
// Every inbound request is classified by the presence of the Mcp-Session-Id
// header and the state of the session it names:
//
//   - header present, live binding: the request is dispatched to the bound
//     protocol handler and the session's access time is refreshed.
//   - header absent, initialize request: a new session is admitted (evicting
//     the least-recently-accessed session if at capacity), its record is
//     persisted write-through, and the new id is returned in the
//     Mcp-Session-Id response header.
//   - header present, no live binding: rejected with the -32000 envelope; a
//     surviving durable record is not enough to serve requests, and the
//     gateway never silently mints a replacement session.
//   - header absent, non-initialize request: rejected with the same envelope.
//
// GET attaches a Server-Sent Events stream that relays server-initiated
// messages; DELETE closes the live transport while leaving the durable record
// in place; DELETE {endpoint}/session removes the record, the access-order
// entry, and any binding as one coordinated operation. GET /health is
// unconditionally 200.
//
// # Error Handling
//
// Protocol errors (bad, missing, or unknown session ids; malformed bodies)
// are surfaced synchronously with specific status codes and structured
// bodies and are never retried server-side. Persistence failures are logged
// and swallowed; in-memory state stays authoritative. Panics escaping the
// bound handler are caught at the router boundary and converted into a
// generic internal-error response.
package streaminghttp
