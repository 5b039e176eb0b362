// Package hook implements the dimension-override extension point of the
// resize pipeline. Before the pipeline runs its own dimension calculation it
// offers the request to every registered handler, in order, threading the
// value each one returns into the next.
package hook

import (
	"sort"
	"sync"

	"github.com/menta2k/upscale-images/pkg/geometry"
)

// DefaultPriority is the priority used by Register.
const DefaultPriority = 10

// Request holds the arguments of a dimension calculation.
type Request struct {
	OrigW int  `json:"orig_w"`
	OrigH int  `json:"orig_h"`
	DestW int  `json:"dest_w"`
	DestH int  `json:"dest_h"`
	Crop  bool `json:"crop"`
}

// Func receives the geometry produced so far, nil when no handler has
// supplied one, and returns it unchanged or a replacement.
type Func func(current *geometry.Geometry, req Request) *geometry.Geometry

type handler struct {
	name     string
	priority int
	seq      int
	fn       Func
}

// Registry is an ordered list of named handlers. Lower priorities run first;
// equal priorities run in registration order. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers []handler
	seq      int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers fn under name. Adding a name that is already present
// replaces the previous handler.
func (r *Registry) Add(name string, priority int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(name)
	r.seq++
	r.handlers = append(r.handlers, handler{name: name, priority: priority, seq: r.seq, fn: fn})
	sort.SliceStable(r.handlers, func(i, j int) bool {
		if r.handlers[i].priority != r.handlers[j].priority {
			return r.handlers[i].priority < r.handlers[j].priority
		}
		return r.handlers[i].seq < r.handlers[j].seq
	})
}

// Remove unregisters the handler with the given name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

func (r *Registry) removeLocked(name string) bool {
	for i, h := range r.handlers {
		if h.name == name {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Names returns the handler names in execution order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		names = append(names, h.name)
	}
	return names
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Apply runs every handler in order and returns the final value, nil when
// no handler supplied a geometry.
func (r *Registry) Apply(req Request) *geometry.Geometry {
	r.mu.RLock()
	handlers := make([]handler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	var current *geometry.Geometry
	for _, h := range handlers {
		current = h.fn(current, req)
	}
	return current
}

// Upscale computes the geometry with upscaling allowed. A value already
// supplied by an earlier handler wins and is returned as is.
func Upscale(current *geometry.Geometry, req Request) *geometry.Geometry {
	if current != nil {
		return current
	}
	g := geometry.ResizeDimensions(req.OrigW, req.OrigH, req.DestW, req.DestH, req.Crop)
	return &g
}

// Register installs Upscale on r as "upscale".
func Register(r *Registry) {
	r.Add("upscale", DefaultPriority, Upscale)
}
