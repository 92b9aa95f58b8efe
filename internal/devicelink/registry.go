package devicelink

import (
	"sort"
	"sync"
)

// Device is one haptic device known to the device-control server.
type Device struct {
	// Index is the server-assigned device identifier. Unique within the
	// registry.
	Index uint32

	// Name is the human-readable device name.
	Name string

	// Info is the raw descriptor the server advertised the device with.
	Info DeviceInfo
}

// registry holds the devices currently advertised by the server.
//
// It is owned exclusively by the Client: entries are added, updated, and
// removed only by inbound protocol messages. Callers observe it through
// snapshot accessors.
type registry struct {
	mu      sync.RWMutex
	devices map[uint32]Device
}

func newRegistry() *registry {
	return &registry{devices: make(map[uint32]Device)}
}

// upsert inserts or overwrites the device with the given index.
func (r *registry) upsert(info DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[info.DeviceIndex] = Device{
		Index: info.DeviceIndex,
		Name:  info.DeviceName,
		Info:  info,
	}
}

// remove deletes the device with the given index. Removing an unknown
// index is a no-op.
func (r *registry) remove(index uint32) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[index]
	if ok {
		delete(r.devices, index)
	}
	return d, ok
}

// replaceAll bulk-inserts the full advertised device set. Existing entries
// for the same indices are overwritten; entries not in the list are kept,
// matching the server's incremental DeviceList semantics.
func (r *registry) replaceAll(infos []DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range infos {
		r.devices[info.DeviceIndex] = Device{
			Index: info.DeviceIndex,
			Name:  info.DeviceName,
			Info:  info,
		}
	}
}

// has reports whether a device with the given index is known.
func (r *registry) has(index uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[index]
	return ok
}

// snapshot returns a copy of all known devices, sorted by index.
func (r *registry) snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices
}

// ids returns the indices of all known devices, sorted ascending.
func (r *registry) ids() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint32, 0, len(r.devices))
	for index := range r.devices {
		ids = append(ids, index)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// count returns the number of known devices.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
