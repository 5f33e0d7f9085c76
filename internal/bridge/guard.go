package bridge

import "sync"

// Guard tracks conversations with a reply in flight. A second message from a
// peer whose reply is still being produced is dropped, not queued: by the time
// the current reply lands, the next fetch of history covers the newer message
// anyway.
type Guard struct {
	mu    sync.Mutex
	inUse map[int64]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{inUse: make(map[int64]struct{})}
}

// TryAdmit claims the conversation. It returns false when a reply for the
// peer is already in flight.
func (g *Guard) TryAdmit(peerID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inUse[peerID]; busy {
		return false
	}
	g.inUse[peerID] = struct{}{}
	return true
}

// Release frees the conversation. Releasing an unclaimed peer is a no-op.
func (g *Guard) Release(peerID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inUse, peerID)
}

// Busy reports how many conversations currently hold a claim.
func (g *Guard) Busy() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inUse)
}
