package session

import "sync"

// Registry is the single-slot cache holding the most recent analysis
// result. Publication replaces the held result wholesale; readers see
// either the old result or the new one in full, never a mix.
type Registry struct {
	mu      sync.RWMutex
	current *AnalysisResult
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish atomically replaces the held result.
func (g *Registry) Publish(result *AnalysisResult) {
	g.mu.Lock()
	g.current = result
	g.mu.Unlock()
}

// Resolve looks up an element by id against the currently published
// result. The second return is false if no result has been published
// yet or no element carries that id.
func (g *Registry) Resolve(id int) (Element, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return resolveIn(g.current, id)
}

// ResolveWithShape resolves an element together with the image shape of
// the result that produced it, in one snapshot. Callers de-normalizing
// bounds must use this rather than separate Resolve and Current calls,
// or a publish landing between the two could pair one result's bounds
// with another result's shape.
func (g *Registry) ResolveWithShape(id int) (Element, ImageShape, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := resolveIn(g.current, id)
	if !ok {
		return Element{}, ImageShape{}, false
	}
	return e, g.current.Shape, true
}

func resolveIn(current *AnalysisResult, id int) (Element, bool) {
	if current == nil {
		return Element{}, false
	}
	// Ids follow detection order, so the common case is a direct index.
	if id >= 0 && id < len(current.Elements) && current.Elements[id].ID == id {
		return current.Elements[id], true
	}
	for _, e := range current.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

// Current returns the published result, or false if none exists.
func (g *Registry) Current() (*AnalysisResult, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current, g.current != nil
}
