package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/mcp-session-gateway/internal/jsonrpc"
)

var (
	// ErrSessionNotFound indicates no durable record exists for the session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoLiveBinding indicates a durable record may exist but no live
	// transport binding does, so the session cannot serve requests.
	ErrNoLiveBinding = errors.New("no live transport binding for session")
)

// SessionRecord is the durable state of a session. It is exclusively owned by
// the Store; callers receive copies and mutate only through the Manager.
type SessionRecord struct {
	SessionID    string         `json:"sessionId"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastAccessed time.Time      `json:"lastAccessed"`
	Config       map[string]any `json:"config,omitempty"`
}

// Clone returns a deep-enough copy for handing across the ownership boundary.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Config != nil {
		cp.Config = make(map[string]any, len(r.Config))
		for k, v := range r.Config {
			cp.Config[k] = v
		}
	}
	return &cp
}

// Store is the durable key-value store of session records. Implementations
// are write-through: Put and Delete must flush before returning. Loading and
// persistence failures are the implementation's to report; the Manager treats
// them as non-fatal and keeps serving from memory.
type Store interface {
	// Load reads any previously persisted records. A missing or corrupt
	// backing store is not an error; implementations log and start empty.
	Load(ctx context.Context) error

	// Get returns a copy of the record for id, or false if absent.
	Get(ctx context.Context, id string) (*SessionRecord, bool)

	// Put upserts the record and synchronously persists.
	Put(ctx context.Context, rec *SessionRecord) error

	// Delete removes the record and synchronously persists. Deleting an
	// absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// Size returns the number of stored records.
	Size(ctx context.Context) int

	// All returns a copy of every stored record, in no particular order.
	All(ctx context.Context) []*SessionRecord
}

// Handler is a bound protocol handler: the collaborator-owned object that
// actually interprets tool-call messages for one session.
type Handler interface {
	// Handle processes one inbound protocol message and returns the reply, or
	// nil for notifications. It may be long-running and is always invoked
	// outside the Manager's lock.
	Handle(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error)

	// Close releases any handler-held resources. Called once, after the
	// session's transport is torn down.
	Close() error
}

// HandlerFactory creates a protocol handler bound to a fresh transport. The
// gateway guarantees the factory sees each transport at most once and that at
// most one live handler exists per session id at a time.
type HandlerFactory func(ctx context.Context, t Transport) (Handler, error)

// Transport is the live, connection-scoped channel over which protocol
// messages flow. It is ephemeral: closing it tears down the binding but never
// the durable record.
type Transport interface {
	// SessionID returns the resolved, validated session identifier this
	// transport is bound to.
	SessionID() string

	// Send queues a server-initiated message for delivery to the client.
	Send(ctx context.Context, msg jsonrpc.Message) error

	// Close tears the transport down. Idempotent.
	Close() error

	// Done is closed when the transport has been torn down.
	Done() <-chan struct{}
}
