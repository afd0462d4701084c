package sessions

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ggoodman/mcp-session-gateway/internal/lru"
	"github.com/ggoodman/mcp-session-gateway/internal/metrics"
	"github.com/google/uuid"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the slog logger used by the manager. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the metrics sink. Defaults to unregistered no-op collectors.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithMaxSessions sets the capacity bound enforced before each admission.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// DefaultMaxSessions bounds the durable record count when no option is given.
const DefaultMaxSessions = 100

// Manager owns every session collection — the durable Store, the access-order
// tracker, and the transport registry — behind a single mutex. All mutations
// for a given session id are serialized through that mutex; protocol dispatch
// into bound handlers and transport teardown happen outside it.
type Manager struct {
	log         *slog.Logger
	metrics     *metrics.Metrics
	maxSessions int
	now         func() time.Time

	mu    sync.Mutex
	store Store
	order *lru.Tracker
	reg   *registry
}

// NewManager loads the store and rebuilds the access order from persisted
// records (oldest last-access first). The transport registry always starts
// empty: bindings do not survive a restart.
func NewManager(ctx context.Context, store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		log:         slog.Default(),
		metrics:     metrics.NewNop(),
		maxSessions: DefaultMaxSessions,
		now:         func() time.Time { return time.Now().UTC() },
		store:       store,
		order:       lru.New(),
		reg:         newRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxSessions < 1 {
		// Capacity below one would let eviction drain the store and still
		// admit the new session past the bound.
		m.maxSessions = 1
	}

	if err := store.Load(ctx); err != nil {
		return nil, err
	}

	recs := store.All(ctx)
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].LastAccessed.Before(recs[j].LastAccessed)
	})
	for _, rec := range recs {
		m.order.Touch(rec.SessionID)
	}
	m.metrics.SessionsActive.Set(float64(store.Size(ctx)))

	if len(recs) > 0 {
		m.log.InfoContext(ctx, "sessions.restore.ok", slog.Int("count", len(recs)))
	}
	return m, nil
}

// CreateSession enforces the capacity bound, mints a new session id, and
// persists its record. Evicted session ids (victims of the capacity policy)
// are returned for auditing; their transports have already been closed. The
// caller binds a transport and handler with Bind once it has built them
// around the returned id.
func (m *Manager) CreateSession(ctx context.Context, config map[string]any) (*SessionRecord, []string, error) {
	m.mu.Lock()

	evicted, closers := m.enforceCapacityLocked(ctx)

	now := m.now()
	rec := &SessionRecord{
		SessionID:    uuid.NewString(),
		CreatedAt:    now,
		LastAccessed: now,
		Config:       config,
	}
	m.persistPutLocked(ctx, rec)
	m.order.Touch(rec.SessionID)
	m.metrics.SessionsCreated.Inc()
	m.metrics.SessionsActive.Set(float64(m.store.Size(ctx)))

	m.mu.Unlock()

	m.teardown(closers)
	for _, id := range evicted {
		m.log.InfoContext(ctx, "session.evict", slog.String("session_id", id))
	}
	return rec.Clone(), evicted, nil
}

// Bind registers a live transport and handler for a created session id,
// replacing any stale binding. Returns ErrSessionNotFound if the durable
// record no longer exists (for example, evicted between create and bind).
func (m *Manager) Bind(ctx context.Context, id string, t Transport, h Handler) error {
	m.mu.Lock()
	if _, ok := m.store.Get(ctx, id); !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	prev := m.reg.bind(id, t, h)
	m.mu.Unlock()

	if prev != nil {
		m.teardown([]*binding{prev})
		m.log.WarnContext(ctx, "session.bind.replace_stale", slog.String("session_id", id))
	}
	return nil
}

// UseSession resolves a live binding for id and records the access (updating
// the record's last-access time write-through and rotating the access order).
// Returns ErrNoLiveBinding when a durable record exists without a binding, or
// ErrSessionNotFound when nothing is known about the id.
func (m *Manager) UseSession(ctx context.Context, id string) (Transport, Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.reg.lookup(id)
	if !ok {
		if _, exists := m.store.Get(ctx, id); exists {
			return nil, nil, ErrNoLiveBinding
		}
		return nil, nil, ErrSessionNotFound
	}

	rec, ok := m.store.Get(ctx, id)
	if !ok {
		// Binding without a record violates the relationship invariant; treat
		// the binding as stale rather than serve from it.
		m.reg.unbind(id)
		return nil, nil, ErrSessionNotFound
	}

	rec.LastAccessed = m.now()
	m.persistPutLocked(ctx, rec)
	m.order.Touch(id)
	return b.transport, b.handler, nil
}

// GetRecord returns a copy of the durable record for id, independent of any
// live binding.
func (m *Manager) GetRecord(ctx context.Context, id string) (*SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Get(ctx, id)
}

// SetConfig replaces the session's config bag and persists the record.
func (m *Manager) SetConfig(ctx context.Context, id string, config map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.store.Get(ctx, id)
	if !ok {
		return ErrSessionNotFound
	}
	rec.Config = config
	rec.LastAccessed = m.now()
	m.persistPutLocked(ctx, rec)
	m.order.Touch(id)
	return nil
}

// DeleteSession removes the durable record, the access-order entry, and any
// live binding as one coordinated operation. Requires an existing record;
// a live binding is not required.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.store.Get(ctx, id); !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if err := m.store.Delete(ctx, id); err != nil {
		m.metrics.PersistFailures.Inc()
		m.log.ErrorContext(ctx, "store.persist.fail", slog.String("err", err.Error()))
	}
	m.order.Remove(id)
	b := m.reg.unbind(id)
	m.metrics.SessionsDeleted.Inc()
	m.metrics.SessionsActive.Set(float64(m.store.Size(ctx)))
	m.mu.Unlock()

	if b != nil {
		m.teardown([]*binding{b})
	}
	m.log.InfoContext(ctx, "session.delete.ok", slog.String("session_id", id))
	return nil
}

// Unbind tears down the live binding for id, if any, leaving the durable
// record untouched. A no-op for unknown or already-unbound ids.
func (m *Manager) Unbind(id string) {
	m.unbind(id, nil)
}

// UnbindTransport tears down the binding for id only while t is still the
// registered transport. Transports call this from their close hooks: after a
// replacing Bind, the stale transport's hook fires during teardown and must
// not remove the binding that replaced it.
func (m *Manager) UnbindTransport(id string, t Transport) {
	m.unbind(id, t)
}

func (m *Manager) unbind(id string, t Transport) {
	m.mu.Lock()
	if t != nil {
		if b, ok := m.reg.lookup(id); !ok || b.transport != t {
			m.mu.Unlock()
			return
		}
	}
	b := m.reg.unbind(id)
	m.mu.Unlock()

	if b != nil {
		m.teardown([]*binding{b})
		m.log.Info("session.unbind", slog.String("session_id", id))
	}
}

// PeekBinding resolves a live binding without recording an access. Used by
// teardown-style operations that must not rotate the eviction order.
func (m *Manager) PeekBinding(id string) (Transport, Handler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.reg.lookup(id)
	if !ok {
		return nil, nil, false
	}
	return b.transport, b.handler, true
}

// HasBinding reports whether a live binding exists for id.
func (m *Manager) HasBinding(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reg.lookup(id)
	return ok
}

// Size returns the number of durable session records.
func (m *Manager) Size(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Size(ctx)
}

// Shutdown closes every live transport. Durable records are left in place;
// remembering sessions across restarts is the point of the store.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	closers := make([]*binding, 0, m.reg.len())
	for id := range m.reg.bindings {
		closers = append(closers, m.reg.unbind(id))
	}
	m.mu.Unlock()

	m.teardown(closers)
	m.log.InfoContext(ctx, "sessions.shutdown", slog.Int("bindings_closed", len(closers)))
}

// enforceCapacityLocked evicts least-recently-accessed sessions until there is
// room to admit one more. It runs before admission, so the store never
// exceeds the configured maximum and a newly created session is never its own
// eviction candidate. Victims' bindings are returned for teardown outside the
// lock.
func (m *Manager) enforceCapacityLocked(ctx context.Context) (evicted []string, closers []*binding) {
	for m.store.Size(ctx) >= m.maxSessions {
		victim, ok := m.order.Oldest()
		if !ok {
			break
		}
		if err := m.store.Delete(ctx, victim); err != nil {
			m.metrics.PersistFailures.Inc()
			m.log.ErrorContext(ctx, "store.persist.fail", slog.String("err", err.Error()))
		}
		m.order.Remove(victim)
		if b := m.reg.unbind(victim); b != nil {
			closers = append(closers, b)
		}
		m.metrics.SessionsEvicted.Inc()
		evicted = append(evicted, victim)
	}
	return evicted, closers
}

// persistPutLocked writes through to the store. Persistence failures are
// logged and swallowed: the in-memory state stays authoritative for the
// remainder of the process lifetime.
func (m *Manager) persistPutLocked(ctx context.Context, rec *SessionRecord) {
	if err := m.store.Put(ctx, rec); err != nil {
		m.metrics.PersistFailures.Inc()
		m.log.ErrorContext(ctx, "store.persist.fail",
			slog.String("session_id", rec.SessionID),
			slog.String("err", err.Error()))
	}
}

// teardown closes transports and handlers outside the manager lock. Transport
// close callbacks re-enter the manager (Unbind), which must not deadlock.
func (m *Manager) teardown(bindings []*binding) {
	for _, b := range bindings {
		if b == nil {
			continue
		}
		_ = b.transport.Close()
		_ = b.handler.Close()
	}
}
