// Package registry keeps the set of known BMS drivers and classifies
// discovered advertisements against them.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/homefleet/bmsble/pkg/bms"
)

// Driver describes one BMS model: its static device info, the advertisement
// matchers that identify it, and a constructor. New takes the BLE address of
// the device and the reconnect flag (true = close the link after every poll).
type Driver struct {
	Name     string
	Info     bms.DeviceInfo
	Matchers []bms.Matcher
	New      func(address string, reconnect bool) (bms.BMS, error)
}

var (
	mu      sync.RWMutex
	drivers = map[string]Driver{}
)

// Register installs a driver. It panics on an empty name or duplicate
// registration to catch mistakes at start-up.
func Register(d Driver) {
	mu.Lock()
	defer mu.Unlock()
	if d.Name == "" {
		panic("registry: empty driver name")
	}
	if d.New == nil {
		panic(fmt.Sprintf("registry: driver %q has no constructor", d.Name))
	}
	if _, exists := drivers[d.Name]; exists {
		panic(fmt.Sprintf("registry: driver already registered for %q", d.Name))
	}
	drivers[d.Name] = d
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := drivers[name]
	return d, ok
}

// Match returns the driver whose matchers support adv. Drivers are tried in
// name order so classification is deterministic.
func Match(adv bms.Advertisement) (Driver, bool) {
	mu.RLock()
	defer mu.RUnlock()
	for _, name := range sortedNames() {
		d := drivers[name]
		if bms.Supported(d.Matchers, adv) {
			return d, true
		}
	}
	return Driver{}, false
}

// Names returns the registered driver names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedNames()
}

// sortedNames assumes the caller holds mu.
func sortedNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
