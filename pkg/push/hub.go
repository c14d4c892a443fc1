package push

import (
	"errors"
	"sync"
)

// Hub keeps exactly one Conn per endpoint URL for the lifetime of its owner.
type Hub struct {
	opts Options

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

func NewHub(opts Options) *Hub {
	return &Hub{
		opts:  opts,
		conns: make(map[string]*Conn),
	}
}

// Connect returns the started connection for url, dialing it on first use.
// A connection closed behind the hub's back is replaced.
func (h *Hub) Connect(url string) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if c, ok := h.conns[url]; ok && !c.Closed() {
		return c, nil
	}
	c := Dial(url, h.opts)
	h.conns[url] = c
	return c, nil
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close closes every connection; the hub cannot be reused.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := h.conns
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
