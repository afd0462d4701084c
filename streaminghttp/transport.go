package streaminghttp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ggoodman/mcp-session-gateway/internal/jsonrpc"
	"github.com/ggoodman/mcp-session-gateway/sessions"
	"github.com/oklog/ulid/v2"
)

// ErrTransportClosed is returned by Send after the transport is torn down.
var ErrTransportClosed = errors.New("transport closed")

// outboundBuffer bounds the number of server-initiated messages queued while
// no consumer stream is attached. Overflow drops the newest message; pushes
// are best-effort.
const outboundBuffer = 64

type event struct {
	id   string
	data jsonrpc.Message
}

var _ sessions.Transport = (*transport)(nil)

// transport is the HTTP-backed sessions.Transport. Server-initiated messages
// queue on a bounded channel that a GET stream drains; request/response
// exchanges bypass the queue and ride the POST response directly.
type transport struct {
	sessionID string
	log       *slog.Logger
	onClose   func(*transport)

	outbound chan event

	mu       sync.Mutex
	closed   bool
	attached bool
	done     chan struct{}
}

func newTransport(sessionID string, log *slog.Logger, onClose func(*transport)) *transport {
	return &transport{
		sessionID: sessionID,
		log:       log,
		onClose:   onClose,
		outbound:  make(chan event, outboundBuffer),
		done:      make(chan struct{}),
	}
}

func (t *transport) SessionID() string { return t.sessionID }

func (t *transport) Send(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	ev := event{id: ulid.Make().String(), data: msg}
	select {
	case t.outbound <- ev:
		return nil
	default:
		t.log.Warn("transport.outbound.drop", slog.String("session_id", t.sessionID))
		return nil
	}
}

// Close tears the transport down and notifies the router exactly once. Safe
// to call from any goroutine, any number of times.
func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	if t.onClose != nil {
		t.onClose(t)
	}
	return nil
}

func (t *transport) Done() <-chan struct{} { return t.done }

// attach claims the single consumer stream slot. A second concurrent GET on
// the same session is refused rather than splitting the message sequence.
func (t *transport) attach() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.attached {
		return false
	}
	t.attached = true
	return true
}

func (t *transport) detach() {
	t.mu.Lock()
	t.attached = false
	t.mu.Unlock()
}
