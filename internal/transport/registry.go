package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a transport Client from a Config.
type Factory func(cfg Config) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a transport factory under the given name. The variant set
// is closed and populated at startup; registering a duplicate name panics
// so a wiring mistake fails fast.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("transport: Register called twice for %q", name))
	}
	registry[name] = factory
}

// New constructs the named transport. The name must resolve to exactly one
// registered factory; there is no first-registered fallback.
func New(name string, cfg Config) (Client, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("transport: unknown transport %q (registered: %v)", name, Names())
	}
	return factory(cfg)
}

// Names returns the registered transport names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
