package core

import "sync"

// slot is the per-printer entry: at most one live connection plus the
// last-known address. Its mutex makes every check-then-act on a printer
// atomic, so two callers racing to connect the same id cannot end up with
// two sockets, and commands on one printer are serialized.
type slot struct {
	mu   sync.Mutex
	conn *Conn
	addr *Endpoint
}

// Registry maps printer ids to their slots. Slots are created on demand and
// never removed; a printer that disconnected keeps its slot (and last-known
// address) for later on-demand reconnection.
type Registry struct {
	mu    sync.RWMutex
	slots map[int64]*slot
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[int64]*slot)}
}

func (r *Registry) slotFor(id int64) *slot {
	r.mu.RLock()
	sl := r.slots[id]
	r.mu.RUnlock()
	if sl != nil {
		return sl
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sl = r.slots[id]; sl == nil {
		sl = &slot{}
		r.slots[id] = sl
	}
	return sl
}

// LiveConn returns the open connection for id, or nil.
func (r *Registry) LiveConn(id int64) *Conn {
	sl := r.slotFor(id)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.conn != nil && sl.conn.Open() {
		return sl.conn
	}
	return nil
}

// Address returns the last-known address recorded for id.
func (r *Registry) Address(id int64) (Endpoint, bool) {
	sl := r.slotFor(id)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.addr == nil {
		return Endpoint{}, false
	}
	return *sl.addr, true
}

func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	return ids
}

// LiveCount reports how many printers currently hold an open session.
func (r *Registry) LiveCount() int {
	n := 0
	for _, id := range r.IDs() {
		if r.LiveConn(id) != nil {
			n++
		}
	}
	return n
}
