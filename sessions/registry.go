package sessions

// registry is the in-memory mapping from session id to live transport and
// bound handler. It is never persisted and holds no lock of its own: the
// Manager's mutex covers every access.
type registry struct {
	bindings map[string]*binding
}

type binding struct {
	transport Transport
	handler   Handler
}

func newRegistry() *registry {
	return &registry{bindings: make(map[string]*binding)}
}

// bind registers a live pairing, replacing any stale entry for the same id.
// The replaced binding, if any, is returned so the caller can close it outside
// the lock.
func (r *registry) bind(id string, t Transport, h Handler) *binding {
	prev := r.bindings[id]
	r.bindings[id] = &binding{transport: t, handler: h}
	return prev
}

func (r *registry) lookup(id string) (*binding, bool) {
	b, ok := r.bindings[id]
	return b, ok
}

// unbind removes the pairing and returns it for teardown; nil if absent.
func (r *registry) unbind(id string) *binding {
	b, ok := r.bindings[id]
	if !ok {
		return nil
	}
	delete(r.bindings, id)
	return b
}

func (r *registry) len() int { return len(r.bindings) }
