package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-session-gateway/auth"
	"github.com/ggoodman/mcp-session-gateway/internal/jsonrpc"
	"github.com/ggoodman/mcp-session-gateway/internal/logctx"
	"github.com/ggoodman/mcp-session-gateway/internal/metrics"
	"github.com/ggoodman/mcp-session-gateway/sessions"
	"github.com/google/uuid"
)

var _ http.Handler = (*GatewayHandler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Use canonical header names for clarity; Go matches headers case-insensitively.
	mcpSessionIDHeader    = "Mcp-Session-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	invalidSessionText = "Invalid or missing session ID"
)

// Option configures the GatewayHandler.
type Option func(*newConfig)

type newConfig struct {
	logger        *slog.Logger
	authenticator auth.Authenticator
	metrics       *metrics.Metrics
	keepAlive     time.Duration
}

// WithLogger sets the slog logger used by the handler. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithAuthenticator requires bearer authentication on every session endpoint.
// Without this option the endpoints are open, which is the documented default.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *newConfig) { c.authenticator = a }
}

// WithMetrics sets the metrics sink. Defaults to unregistered no-op collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *newConfig) { c.metrics = m }
}

// WithKeepAliveInterval sets the SSE comment-ping interval on consumer
// streams. Defaults to 30s.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *newConfig) { c.keepAlive = d }
}

// GatewayHandler is the session lifecycle router. Every inbound request is
// classified against the presence of a session id header and a live transport
// binding, then reused, created, rejected, or torn down accordingly.
type GatewayHandler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	mgr       *sessions.Manager
	factory   sessions.HandlerFactory
	auth      auth.Authenticator
	metrics   *metrics.Metrics
	keepAlive time.Duration
}

// New constructs a GatewayHandler mounted at endpoint (an absolute path such
// as "/mcp"). The factory is invoked once per created session with the fresh
// transport; the handler it returns receives every message for that session
// until the binding is torn down.
func New(endpoint string, mgr *sessions.Manager, factory sessions.HandlerFactory, opts ...Option) (*GatewayHandler, error) {
	if mgr == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("handler factory is required")
	}
	if endpoint == "" || !strings.HasPrefix(endpoint, "/") {
		return nil, fmt.Errorf("endpoint must be an absolute path, got %q", endpoint)
	}

	cfg := &newConfig{logger: slog.Default(), metrics: metrics.NewNop(), keepAlive: 30 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &GatewayHandler{
		log:       slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		mgr:       mgr,
		factory:   factory,
		auth:      cfg.authenticator,
		metrics:   cfg.metrics,
		keepAlive: cfg.keepAlive,
	}

	endpoint = strings.TrimSuffix(endpoint, "/")
	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", endpoint), h.handlePost)
	mux.HandleFunc(fmt.Sprintf("GET %s", endpoint), h.handleGet)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", endpoint), h.handleDelete)
	mux.HandleFunc(fmt.Sprintf("DELETE %s/session", endpoint), h.handleDeleteSession)
	mux.HandleFunc("GET /health", h.handleHealth)
	h.mux = mux
	return h, nil
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeRPCError emits a JSON-RPC error envelope as the HTTP response body.
func writeRPCError(w http.ResponseWriter, status int, env *jsonrpc.Envelope) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// writeNoValidSession writes the documented rejection for POSTs that cannot
// be matched to a live session: no identifier on a non-initialize request, or
// an identifier with no live binding. Note the explicit null id.
func writeNoValidSession(w http.ResponseWriter) {
	writeRPCError(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(
		jsonrpc.NewRequestID(nil),
		jsonrpc.ErrorCodeInvalidSession,
		"Bad Request: No valid session ID provided",
	))
}

// writeSessionNotFound writes the documented rejection for out-of-band
// deletion of an unknown session; this envelope carries no id member.
func writeSessionNotFound(w http.ResponseWriter) {
	writeRPCError(w, http.StatusNotFound, jsonrpc.NewErrorResponse(
		nil,
		jsonrpc.ErrorCodeSessionNotFound,
		"Session not found",
	))
}

// handleHealth is unconditionally healthy and not session-aware.
func (h *GatewayHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePost carries protocol messages: it either reuses the live session
// named by the Mcp-Session-Id header, creates a session for an initialize
// request with no header, or rejects.
func (h *GatewayHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	outcome := "error"
	defer func() {
		h.metrics.RequestDuration.WithLabelValues(http.MethodPost, outcome).Observe(time.Since(start).Seconds())
	}()

	if h.checkAuthentication(ctx, r, w) == nil {
		outcome = "unauthorized"
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "content_type.unsupported")
		outcome = "rejected"
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeRPCError(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(nil), jsonrpc.ErrorCodeParseError, "Parse error"))
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		h.metrics.RequestsRejected.WithLabelValues("malformed").Inc()
		outcome = "rejected"
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeRPCError(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(nil), jsonrpc.ErrorCodeInvalidRequest, "batch messages are not supported"))
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		h.metrics.RequestsRejected.WithLabelValues("malformed").Inc()
		outcome = "rejected"
		return
	}

	msg, err := jsonrpc.Parse(raw)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(nil), jsonrpc.ErrorCodeInvalidRequest, "invalid JSON-RPC message: "+err.Error()))
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		h.metrics.RequestsRejected.WithLabelValues("malformed").Inc()
		outcome = "rejected"
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		if !msg.IsInitialize() {
			// Non-initialize request with no session id: reject, with no
			// observable side effect on stored state.
			writeNoValidSession(w)
			h.log.InfoContext(ctx, "session.id.missing")
			h.metrics.RequestsRejected.WithLabelValues("no_session_id").Inc()
			outcome = "rejected"
			return
		}
		outcome = h.createSession(ctx, w, msg, jsonrpc.Message(raw), start)
		return
	}

	tr, handler, err := h.mgr.UseSession(ctx, sessID)
	if err != nil {
		// A durable record without a binding cannot be transparently resumed;
		// both it and a wholly unknown id get the same rejection.
		writeNoValidSession(w)
		if errors.Is(err, sessions.ErrNoLiveBinding) {
			h.log.InfoContext(ctx, "session.binding.miss", slog.String("session_id", sessID))
			h.metrics.RequestsRejected.WithLabelValues("no_live_binding").Inc()
		} else {
			h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", sessID))
			h.metrics.RequestsRejected.WithLabelValues("unknown_session").Inc()
		}
		outcome = "rejected"
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, Live: true})
	h.log.InfoContext(ctx, "session.reuse.ok")
	outcome = h.dispatchToSession(ctx, w, r, tr, handler, msg, jsonrpc.Message(raw), start)
}

// createSession admits a new session for an initialize request: capacity is
// enforced first, then the record is persisted, the transport built, and the
// collaborator's handler bound. A failed initialization leaves no record
// behind.
func (h *GatewayHandler) createSession(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.Envelope, raw jsonrpc.Message, start time.Time) string {
	rec, evicted, err := h.mgr.CreateSession(ctx, nil)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "failed to create session"))
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return "error"
	}
	for _, id := range evicted {
		h.log.InfoContext(ctx, "session.evict", slog.String("session_id", id))
	}

	sessID := rec.SessionID
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, Live: true})

	t := newTransport(sessID, h.log, func(tp *transport) { h.mgr.UnbindTransport(sessID, tp) })
	handler, err := h.factory(ctx, t)
	if err != nil {
		_ = h.mgr.DeleteSession(ctx, sessID)
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "failed to initialize session"))
		h.log.ErrorContext(ctx, "session.handler.fail", slog.String("err", err.Error()))
		return "error"
	}
	if err := h.mgr.Bind(ctx, sessID, t, handler); err != nil {
		_ = t.Close()
		_ = handler.Close()
		_ = h.mgr.DeleteSession(ctx, sessID)
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "failed to bind session"))
		h.log.ErrorContext(ctx, "session.bind.fail", slog.String("err", err.Error()))
		return "error"
	}

	res, err := h.dispatch(ctx, handler, raw)
	if err != nil || res == nil {
		_ = t.Close()
		_ = h.mgr.DeleteSession(ctx, sessID)
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "failed to initialize session"))
		if err != nil {
			h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		} else {
			h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", "handler returned no initialize response"))
		}
		return "error"
	}

	// The new id travels back on the transport's own negotiation header, not
	// in the response body.
	w.Header().Set(mcpSessionIDHeader, sessID)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.create.ok", slog.Duration("dur", time.Since(start)))
	return "created"
}

// dispatchToSession forwards a message to the session's bound handler.
// Requests answer over a per-request SSE stream; notifications and client
// responses are accepted with no body.
func (h *GatewayHandler) dispatchToSession(ctx context.Context, w http.ResponseWriter, r *http.Request, tr sessions.Transport, handler sessions.Handler, msg *jsonrpc.Envelope, raw jsonrpc.Message, start time.Time) string {
	if !msg.IsRequest() {
		if _, err := h.dispatch(ctx, handler, raw); err != nil {
			writeRPCError(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInternalError, "internal server error"))
			h.log.ErrorContext(ctx, "message.inbound.fail", slog.String("err", err.Error()))
			return "error"
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "message.inbound.ok", slog.Duration("dur", time.Since(start)))
		return "accepted"
	}

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			w.WriteHeader(http.StatusNotAcceptable)
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return "rejected"
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return "error"
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	res, err := h.dispatch(ctx, handler, raw)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		env := jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "internal server error")
		if res, err = env.Encode(); err != nil {
			return "error"
		}
	}
	if res == nil {
		h.log.WarnContext(ctx, "rpc.inbound.no_response")
		return "error"
	}
	if err := writeSSEEvent(wf, "", res); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return "error"
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
	return "ok"
}

// handleGet attaches a consumer stream to an established session and relays
// server-initiated messages as SSE events until either side goes away.
func (h *GatewayHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	outcome := "error"
	defer func() {
		h.metrics.RequestDuration.WithLabelValues(http.MethodGet, outcome).Observe(time.Since(start).Seconds())
	}()

	if h.checkAuthentication(ctx, r, w) == nil {
		outcome = "unauthorized"
		return
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "accept.unsupported")
		outcome = "rejected"
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	tr, _, err := h.useLive(ctx, sessID)
	if err != nil {
		http.Error(w, invalidSessionText, http.StatusBadRequest)
		h.metrics.RequestsRejected.WithLabelValues("no_live_binding").Inc()
		outcome = "rejected"
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, Live: true})

	tp, ok := tr.(*transport)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "transport.type.unexpected")
		return
	}
	if !tp.attach() {
		w.WriteHeader(http.StatusConflict)
		h.log.WarnContext(ctx, "sse.stream.duplicate")
		outcome = "rejected"
		return
	}
	defer tp.detach()

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			outcome = "ok"
			return
		case <-tp.Done():
			h.log.InfoContext(ctx, "sse.stream.transport_closed", slog.Duration("dur", time.Since(start)))
			outcome = "ok"
			return
		case ev := <-tp.outbound:
			if err := writeSSEEvent(wf, ev.id, ev.data); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.InfoContext(ctx, "sse.message.deliver")
		case <-keepAlive.C:
			if _, err := wf.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			wf.Flush()
		}
	}
}

// handleDelete closes the session's live transport. The durable record is
// deliberately left in place: metadata outlives any one connection.
func (h *GatewayHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	outcome := "error"
	defer func() {
		h.metrics.RequestDuration.WithLabelValues(http.MethodDelete, outcome).Observe(time.Since(start).Seconds())
	}()

	if h.checkAuthentication(ctx, r, w) == nil {
		outcome = "unauthorized"
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	tr, _, ok := h.peekLive(sessID)
	if !ok {
		http.Error(w, invalidSessionText, http.StatusBadRequest)
		h.metrics.RequestsRejected.WithLabelValues("no_live_binding").Inc()
		outcome = "rejected"
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, Live: true})

	// Closing the transport triggers unbind through its close hook.
	_ = tr.Close()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
	outcome = "ok"
}

// handleDeleteSession removes the durable record, the access-order entry, and
// any live binding as one coordinated operation. A live binding is not
// required; a durable record is.
func (h *GatewayHandler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.session_delete.start")

	outcome := "error"
	defer func() {
		h.metrics.RequestDuration.WithLabelValues("DELETE_SESSION", outcome).Observe(time.Since(start).Seconds())
	}()

	if h.checkAuthentication(ctx, r, w) == nil {
		outcome = "unauthorized"
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeSessionNotFound(w)
		h.metrics.RequestsRejected.WithLabelValues("not_found").Inc()
		outcome = "rejected"
		return
	}

	if err := h.mgr.DeleteSession(ctx, sessID); err != nil {
		writeSessionNotFound(w)
		h.log.InfoContext(ctx, "session.delete.miss", slog.String("session_id", sessID))
		h.metrics.RequestsRejected.WithLabelValues("not_found").Inc()
		outcome = "rejected"
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.session_delete.ok", slog.Duration("dur", time.Since(start)))
	outcome = "ok"
}

// useLive resolves a live binding for a non-empty session id, recording the
// access.
func (h *GatewayHandler) useLive(ctx context.Context, sessID string) (sessions.Transport, sessions.Handler, error) {
	if sessID == "" {
		return nil, nil, sessions.ErrSessionNotFound
	}
	return h.mgr.UseSession(ctx, sessID)
}

// peekLive resolves a live binding without recording an access.
func (h *GatewayHandler) peekLive(sessID string) (sessions.Transport, sessions.Handler, bool) {
	if sessID == "" {
		return nil, nil, false
	}
	return h.mgr.PeekBinding(sessID)
}

// dispatch invokes the bound protocol handler with a panic boundary: an
// escaping panic becomes an error at the router rather than a dead process.
func (h *GatewayHandler) dispatch(ctx context.Context, handler sessions.Handler, raw jsonrpc.Message) (res jsonrpc.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("protocol handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, raw)
}

// checkAuthentication enforces bearer auth when an authenticator is
// configured. It writes the failure response itself and returns nil; callers
// just return. With no authenticator every caller is the anonymous principal.
func (h *GatewayHandler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) auth.UserInfo {
	if h.auth == nil {
		return anonymousUser{}
	}

	authHeader := r.Header.Get(authorizationHeader)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Set(wwwAuthenticateHeader, `Bearer error="invalid_request"`)
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}

	userInfo, err := h.auth.CheckAuthentication(ctx, strings.TrimSpace(authHeader[len(bearerPrefix):]))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Set(wwwAuthenticateHeader, `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return nil
		}
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return nil
	}
	return userInfo
}

type anonymousUser struct{}

func (anonymousUser) UserID() string       { return "anonymous" }
func (anonymousUser) Claims(ref any) error { return nil }

// writeSSEEvent writes one Server-Sent Event frame and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
