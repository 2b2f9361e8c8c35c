package simulation

import "sync"

// Holder publishes the current engine. A model refit swaps in a replacement
// engine while in-flight simulations keep the one they already resolved.
type Holder struct {
	mu     sync.RWMutex
	engine *Engine
}

// NewHolder creates a holder around the initial engine.
func NewHolder(engine *Engine) *Holder {
	return &Holder{engine: engine}
}

// Engine returns the current engine.
func (h *Holder) Engine() *Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// Swap replaces the current engine.
func (h *Holder) Swap(engine *Engine) {
	h.mu.Lock()
	h.engine = engine
	h.mu.Unlock()
}
