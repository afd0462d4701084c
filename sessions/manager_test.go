package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-gateway/internal/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// memStore is an in-memory Store with optional persist-failure injection. It
// stays authoritative in memory even when a flush "fails", matching the
// contract real stores implement.
type memStore struct {
	mu       sync.Mutex
	records  map[string]*SessionRecord
	failPuts bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*SessionRecord)}
}

func (s *memStore) Load(ctx context.Context) error { return nil }

func (s *memStore) Get(ctx context.Context, id string) (*SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *memStore) Put(ctx context.Context, rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SessionID] = rec.Clone()
	if s.failPuts {
		return errors.New("disk unavailable")
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *memStore) Size(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memStore) All(ctx context.Context) []*SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

type fakeTransport struct {
	id      string
	onClose func()
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id, done: make(chan struct{})}
}

func (t *fakeTransport) SessionID() string { return t.id }

func (t *fakeTransport) Send(ctx context.Context, msg jsonrpc.Message) error { return nil }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	// The hook runs outside the transport's own lock, like the real one.
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeHandler struct {
	mu     sync.Mutex
	closed bool
}

func (h *fakeHandler) Handle(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	return msg, nil
}

func (h *fakeHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// tickingClock hands out strictly increasing timestamps so access order has
// no ties.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestManager(t *testing.T, store Store, max int) *Manager {
	t.Helper()
	m, err := NewManager(t.Context(), store,
		WithMaxSessions(max),
		WithClock(tickingClock()),
	)
	require.NoError(t, err)
	return m
}

// createBound creates a session and binds a fake transport and handler, the
// way the router does.
func createBound(t *testing.T, m *Manager) (*SessionRecord, *fakeTransport, *fakeHandler) {
	t.Helper()
	ctx := t.Context()
	rec, _, err := m.CreateSession(ctx, nil)
	require.NoError(t, err)
	tr := newFakeTransport(rec.SessionID)
	tr.onClose = func() { m.UnbindTransport(rec.SessionID, tr) }
	h := &fakeHandler{}
	require.NoError(t, m.Bind(ctx, rec.SessionID, tr, h))
	return rec, tr, h
}

// requireConsistent asserts the access-order element set equals the store key
// set, the always-on relationship between the two collections.
func requireConsistent(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	orderKeys := m.order.Keys()
	require.Equal(t, m.store.Size(context.Background()), len(orderKeys))
	for _, id := range orderKeys {
		_, ok := m.store.Get(context.Background(), id)
		require.True(t, ok, "order contains %s but store does not", id)
	}
}

func TestLRUEvictionOrder(t *testing.T) {
	m := newTestManager(t, newMemStore(), 2)

	a, trA, _ := createBound(t, m)
	b, _, _ := createBound(t, m)

	createBound(t, m)

	// A was least recently accessed, so it is the one evicted.
	_, okA := m.GetRecord(t.Context(), a.SessionID)
	assert.False(t, okA)
	_, okB := m.GetRecord(t.Context(), b.SessionID)
	assert.True(t, okB)
	assert.Equal(t, 2, m.Size(t.Context()))
	assert.True(t, trA.isClosed(), "evicted session's transport must be closed")
	requireConsistent(t, m)
}

func TestTouchRotatesEvictionCandidate(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 2)

	a, _, _ := createBound(t, m)
	b, _, _ := createBound(t, m)

	// Accessing A makes B the oldest.
	_, _, err := m.UseSession(ctx, a.SessionID)
	require.NoError(t, err)

	createBound(t, m)

	_, okA := m.GetRecord(ctx, a.SessionID)
	assert.True(t, okA)
	_, okB := m.GetRecord(ctx, b.SessionID)
	assert.False(t, okB)
}

func TestCapacityInvariantHoldsUnderChurn(t *testing.T) {
	ctx := t.Context()
	const max = 3
	m := newTestManager(t, newMemStore(), max)

	for i := 0; i < 20; i++ {
		createBound(t, m)
		require.LessOrEqual(t, m.Size(ctx), max)
		requireConsistent(t, m)
	}
}

func TestUseSessionErrors(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 4)

	_, _, err := m.UseSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	rec, _, _ := createBound(t, m)
	m.Unbind(rec.SessionID)

	// Record survives unbinding but cannot serve requests.
	_, _, err = m.UseSession(ctx, rec.SessionID)
	assert.ErrorIs(t, err, ErrNoLiveBinding)
	_, ok := m.GetRecord(ctx, rec.SessionID)
	assert.True(t, ok)
}

func TestUseSessionUpdatesLastAccessed(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 4)

	rec, _, _ := createBound(t, m)
	before, ok := m.GetRecord(ctx, rec.SessionID)
	require.True(t, ok)

	_, _, err := m.UseSession(ctx, rec.SessionID)
	require.NoError(t, err)

	after, ok := m.GetRecord(ctx, rec.SessionID)
	require.True(t, ok)
	assert.True(t, after.LastAccessed.After(before.LastAccessed))
	assert.True(t, after.CreatedAt.Equal(before.CreatedAt))
}

func TestBindingExclusivity(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 4)

	rec, tr1, h1 := createBound(t, m)

	tr2 := newFakeTransport(rec.SessionID)
	h2 := &fakeHandler{}
	require.NoError(t, m.Bind(ctx, rec.SessionID, tr2, h2))

	// The stale binding is torn down, not left lingering.
	assert.True(t, tr1.isClosed())
	h1.mu.Lock()
	assert.True(t, h1.closed)
	h1.mu.Unlock()

	got, _, err := m.UseSession(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Same(t, Transport(tr2), got)
}

func TestBindReplaceSurvivesStaleCloseHook(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 4)

	rec, _, err := m.CreateSession(ctx, nil)
	require.NoError(t, err)

	bindHooked := func() (*fakeTransport, *fakeHandler) {
		tr := newFakeTransport(rec.SessionID)
		tr.onClose = func() { m.UnbindTransport(rec.SessionID, tr) }
		h := &fakeHandler{}
		require.NoError(t, m.Bind(ctx, rec.SessionID, tr, h))
		return tr, h
	}

	tr1, _ := bindHooked()
	tr2, h2 := bindHooked()

	// Replacing tears down the stale transport, whose close hook fires. The
	// hook must not remove the binding that replaced it.
	assert.True(t, tr1.isClosed())
	require.True(t, m.HasBinding(rec.SessionID))

	got, _, err := m.UseSession(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Same(t, Transport(tr2), got)
	assert.False(t, tr2.isClosed())
	h2.mu.Lock()
	assert.False(t, h2.closed)
	h2.mu.Unlock()

	// Closing the current transport still unbinds as usual.
	require.NoError(t, tr2.Close())
	assert.False(t, m.HasBinding(rec.SessionID))
}

func TestMaxSessionsFloorIsOne(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 0)

	a, _, err := m.CreateSession(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Size(ctx))

	b, evicted, err := m.CreateSession(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{a.SessionID}, evicted)
	assert.Equal(t, 1, m.Size(ctx))
	_, ok := m.GetRecord(ctx, b.SessionID)
	assert.True(t, ok)
	requireConsistent(t, m)
}

func TestBindUnknownSession(t *testing.T) {
	m := newTestManager(t, newMemStore(), 4)
	err := m.Bind(t.Context(), "ghost", newFakeTransport("ghost"), &fakeHandler{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteSessionIsCoordinated(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 4)

	rec, tr, h := createBound(t, m)
	require.NoError(t, m.DeleteSession(ctx, rec.SessionID))

	_, ok := m.GetRecord(ctx, rec.SessionID)
	assert.False(t, ok)
	assert.False(t, m.HasBinding(rec.SessionID))
	assert.True(t, tr.isClosed())
	h.mu.Lock()
	assert.True(t, h.closed)
	h.mu.Unlock()
	requireConsistent(t, m)

	assert.ErrorIs(t, m.DeleteSession(ctx, rec.SessionID), ErrSessionNotFound)
}

func TestDeleteWithoutBinding(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 4)

	rec, _, _ := createBound(t, m)
	m.Unbind(rec.SessionID)

	require.NoError(t, m.DeleteSession(ctx, rec.SessionID))
	assert.Equal(t, 0, m.Size(ctx))
}

func TestUnbindPreservesMetadata(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 4)

	rec, _, h := createBound(t, m)
	m.Unbind(rec.SessionID)

	_, ok := m.GetRecord(ctx, rec.SessionID)
	assert.True(t, ok)
	assert.False(t, m.HasBinding(rec.SessionID))
	h.mu.Lock()
	assert.True(t, h.closed)
	h.mu.Unlock()

	// Unbinding again is a no-op.
	m.Unbind(rec.SessionID)
	requireConsistent(t, m)
}

func TestPersistFailuresAreSwallowed(t *testing.T) {
	ctx := t.Context()
	store := newMemStore()
	store.failPuts = true
	m := newTestManager(t, store, 4)

	rec, _, err := m.CreateSession(ctx, map[string]any{"k": "v"})
	require.NoError(t, err)

	// In-memory state remains authoritative despite the failed flush.
	got, ok := m.GetRecord(ctx, rec.SessionID)
	require.True(t, ok)
	assert.Equal(t, "v", got.Config["k"])
}

func TestRestoreRebuildsAccessOrder(t *testing.T) {
	ctx := t.Context()
	store := newMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"mid", "newest", "oldest"} {
		offset := map[string]time.Duration{"oldest": 0, "mid": time.Hour, "newest": 2 * time.Hour}[id]
		require.NoError(t, store.Put(ctx, &SessionRecord{
			SessionID:    id,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			LastAccessed: base.Add(offset),
		}))
	}

	m, err := NewManager(ctx, store, WithMaxSessions(3), WithClock(tickingClock()))
	require.NoError(t, err)
	requireConsistent(t, m)

	// The registry starts empty after a restart even though records loaded.
	for _, id := range []string{"oldest", "mid", "newest"} {
		assert.False(t, m.HasBinding(id))
	}

	// Admission over capacity evicts the record with the stalest last access.
	_, evicted, err := m.CreateSession(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"oldest"}, evicted)
}

func TestShutdownClosesBindingsKeepsRecords(t *testing.T) {
	ctx := t.Context()
	m := newTestManager(t, newMemStore(), 4)

	a, trA, _ := createBound(t, m)
	b, trB, _ := createBound(t, m)

	m.Shutdown(ctx)

	assert.True(t, trA.isClosed())
	assert.True(t, trB.isClosed())
	assert.Equal(t, 2, m.Size(ctx))
	_, ok := m.GetRecord(ctx, a.SessionID)
	assert.True(t, ok)
	_, ok = m.GetRecord(ctx, b.SessionID)
	assert.True(t, ok)
}

// TestManagerInvariantsProperty drives random create/use/unbind/delete
// sequences and checks the capacity bound and store/order consistency after
// every step.
func TestManagerInvariantsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		const max = 4
		store := newMemStore()
		m, err := NewManager(ctx, store, WithMaxSessions(max), WithClock(tickingClock()))
		if err != nil {
			rt.Fatalf("NewManager: %v", err)
		}

		var ids []string
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, fmt.Sprintf("op%d", i)) {
			case 0: // create + bind
				rec, evicted, err := m.CreateSession(ctx, nil)
				if err != nil {
					rt.Fatalf("CreateSession: %v", err)
				}
				if err := m.Bind(ctx, rec.SessionID, newFakeTransport(rec.SessionID), &fakeHandler{}); err != nil {
					rt.Fatalf("Bind: %v", err)
				}
				ids = append(ids, rec.SessionID)
				for _, gone := range evicted {
					ids = remove(ids, gone)
				}
			case 1: // use
				if len(ids) == 0 {
					continue
				}
				id := ids[rapid.IntRange(0, len(ids)-1).Draw(rt, fmt.Sprintf("use%d", i))]
				if _, _, err := m.UseSession(ctx, id); err != nil && !errors.Is(err, ErrNoLiveBinding) {
					rt.Fatalf("UseSession(%s): %v", id, err)
				}
			case 2: // unbind
				if len(ids) == 0 {
					continue
				}
				m.Unbind(ids[rapid.IntRange(0, len(ids)-1).Draw(rt, fmt.Sprintf("unbind%d", i))])
			case 3: // delete
				if len(ids) == 0 {
					continue
				}
				id := ids[rapid.IntRange(0, len(ids)-1).Draw(rt, fmt.Sprintf("del%d", i))]
				if err := m.DeleteSession(ctx, id); err != nil {
					rt.Fatalf("DeleteSession(%s): %v", id, err)
				}
				ids = remove(ids, id)
			}

			if got := m.Size(ctx); got > max {
				rt.Fatalf("capacity invariant violated: size %d > max %d", got, max)
			}
			m.mu.Lock()
			orderKeys := m.order.Keys()
			storeSize := m.store.Size(ctx)
			consistent := len(orderKeys) == storeSize
			if consistent {
				for _, id := range orderKeys {
					if _, ok := m.store.Get(ctx, id); !ok {
						consistent = false
						break
					}
				}
			}
			m.mu.Unlock()
			if !consistent {
				rt.Fatalf("order/store divergence: order=%v storeSize=%d", orderKeys, storeSize)
			}
		}
	})
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
