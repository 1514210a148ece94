package engine

import "sync"

// pauseFlags is the shared PauseView both the CDP and liquidation
// engines guard their operations against, keyed by the fixed module
// names each package declares ("cdp", "liquidation").
type pauseFlags struct {
	mu      sync.RWMutex
	stopped map[string]bool
}

func newPauseFlags() *pauseFlags {
	return &pauseFlags{stopped: make(map[string]bool)}
}

// IsPaused implements native/common.PauseView.
func (p *pauseFlags) IsPaused(module string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped[module]
}

func (p *pauseFlags) set(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped[module] = paused
}
