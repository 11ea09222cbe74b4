package coordinator

import (
	"sort"
	"sync"
)

// Registry holds the live coordinator per registered device. Creation and
// teardown are explicit; there is no ambient singleton.
type Registry struct {
	mu     sync.Mutex
	coords map[string]*Coordinator
}

func NewRegistry() *Registry {
	return &Registry{coords: make(map[string]*Coordinator)}
}

// Put installs a coordinator for the device, closing any previous one.
func (r *Registry) Put(deviceID string, c *Coordinator) {
	r.mu.Lock()
	prev := r.coords[deviceID]
	r.coords[deviceID] = c
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Get returns the coordinator for the device, if one is running.
func (r *Registry) Get(deviceID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coords[deviceID]
	return c, ok
}

// Remove tears down and forgets the device's coordinator.
func (r *Registry) Remove(deviceID string) bool {
	r.mu.Lock()
	c, ok := r.coords[deviceID]
	delete(r.coords, deviceID)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

// IDs lists the devices with a running coordinator.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.coords))
	for id := range r.coords {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll tears down every coordinator, for process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	coords := r.coords
	r.coords = make(map[string]*Coordinator)
	r.mu.Unlock()
	for _, c := range coords {
		c.Close()
	}
}
