package feed

import (
	"sync"
	"time"
)

// NonceSource produces strictly increasing request identifiers. One
// instance is shared by every signing path in the process so nonces stay
// globally unique even when the wall clock stalls or steps backwards.
//
// It holds its own narrow lock and never participates in bus delivery,
// so it is callable from any goroutine including bus handlers.
type NonceSource struct {
	mu    sync.Mutex
	last  int64
	clock func() time.Time
}

// NewNonceSource constructs a nonce source backed by the system clock.
func NewNonceSource() *NonceSource {
	return &NonceSource{clock: time.Now}
}

// Next returns max(now_in_ms, last+1) and records it, guaranteeing the
// result is greater than every previously returned value.
func (n *NonceSource) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	nonce := n.clock().UnixMilli()
	if nonce <= n.last {
		nonce = n.last + 1
	}
	n.last = nonce
	return nonce
}
