package sources

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[string]SourceFactory)
	mu       sync.RWMutex
)

// Register adds a source factory under key. Keys are either "type.name" for a dedicated
// implementation or a bare type for a generic one.
func Register(key string, factory SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[key] = factory
}

// Create builds the source called name of the given type. A "type.name" factory wins
// over the generic factory of the type. The name is passed to the factory as config["name"].
func Create(sourceType, name string, config map[string]interface{}) (Source, error) {
	mu.RLock()
	factory, ok := registry[fmt.Sprintf("%s.%s", sourceType, name)]
	if !ok {
		factory, ok = registry[sourceType]
	}
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownSource, sourceType, name)
	}

	cfg := make(map[string]interface{}, len(config)+1)
	for k, v := range config {
		cfg[k] = v
	}
	cfg["name"] = name
	return factory(cfg)
}

// List returns all registered factory keys, sorted.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
