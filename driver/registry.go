package driver

import (
	"fmt"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Contract{}
)

// Register associates a Kind with its Contract implementation. Driver
// packages call this from an init() func, the same pattern
// database/sql itself uses: a driver that is never imported is never
// linked in, and a Kind with no registered Contract cannot be
// connected to — selection is a closed enumeration plus per-driver
// compile-time availability, not a runtime plugin lookup.
func Register(c Contract) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Kind()] = c
}

// Lookup returns the Contract registered for kind, or an error if no
// driver package registering that kind has been imported.
func Lookup(kind Kind) (Contract, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("driver: no contract registered for kind %s (missing blank import?)", kind)
	}
	return c, nil
}

// Registered reports whether kind currently has a Contract registered.
func Registered(kind Kind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[kind]
	return ok
}
