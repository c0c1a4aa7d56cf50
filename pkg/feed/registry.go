package feed

import (
	"fmt"
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry holds the feeds served by one process.
type Registry struct {
	feeds cmap.ConcurrentMap[string, *Feed]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: cmap.New[*Feed]()}
}

// Add registers f under its name.
func (r *Registry) Add(f *Feed) error {
	if !r.feeds.SetIfAbsent(f.Name(), f) {
		return fmt.Errorf("%w: %s", ErrFeedExists, f.Name())
	}
	return nil
}

// Get returns the feed called name.
func (r *Registry) Get(name string) (*Feed, error) {
	f, ok := r.feeds.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
	}
	return f, nil
}

// Names returns the sorted feed names.
func (r *Registry) Names() []string {
	names := r.feeds.Keys()
	sort.Strings(names)
	return names
}

// All returns the feeds sorted by name.
func (r *Registry) All() []*Feed {
	names := r.Names()
	out := make([]*Feed, 0, len(names))
	for _, name := range names {
		if f, ok := r.feeds.Get(name); ok {
			out = append(out, f)
		}
	}
	return out
}
