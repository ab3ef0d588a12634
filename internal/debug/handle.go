package debug

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle is the identity of one interpreter instance. The controller
// compares handles by pointer and never keeps one alive: it holds weak
// references and expects Detach when a binding goes away.
type Handle struct {
	id   string
	name string

	mu        sync.RWMutex
	backtrace func() []Frame
}

// NewHandle creates a handle with a fresh unique id.
func NewHandle(name string) *Handle {
	return &Handle{
		id:   uuid.NewString(),
		name: name,
	}
}

// ID returns the unique handle id.
func (h *Handle) ID() string {
	return h.id
}

// Name returns the human readable binding name.
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// SetBacktrace registers the function the controller calls to snapshot the
// binding's call stack when it suspends. Frames are innermost first.
func (h *Handle) SetBacktrace(fn func() []Frame) {
	h.mu.Lock()
	h.backtrace = fn
	h.mu.Unlock()
}

// Backtrace returns the binding's current call stack, or nil.
func (h *Handle) Backtrace() []Frame {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	fn := h.backtrace
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// String returns "name#shortid".
func (h *Handle) String() string {
	if h == nil {
		return "<nil>"
	}
	short := h.id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s#%s", h.name, short)
}
