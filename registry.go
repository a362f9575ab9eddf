package gocapture

import (
	"sync"

	"github.com/pkg/errors"
)

// A DriverFactory constructs a Driver for one kind of capture hardware.
type DriverFactory func() (Driver, error)

var registry = struct {
	mu        sync.Mutex
	factories map[string]DriverFactory
}{factories: map[string]DriverFactory{}}

// RegisterDriver makes a driver constructible by name, typically from an
// implementation package's init.
func RegisterDriver(name string, factory DriverFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[name] = factory
}

// NamedDriver constructs the driver registered under the given name.
func NamedDriver(name string) (Driver, error) {
	registry.mu.Lock()
	factory, ok := registry.factories[name]
	registry.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no capture driver registered as %q", name)
	}
	return factory()
}

// DriverNames lists the registered driver names.
func DriverNames() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	return names
}
