package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/homie-hub/internal/topic"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventType distinguishes registry notifications.
type EventType int

// Registry event types.
const (
	EventAdded EventType = iota + 1
	EventRemoved
	EventUpdated
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after the registry changed.
// Device is nil for EventRemoved, the device may already be gone upstream.
type Event struct {
	Type     EventType
	DeviceID string
	Device   *Device
}

// Changes is the result of ComputeChanges.
type Changes struct {
	Enabled   []string
	Disabled  []string
	Untouched []string
}

// Empty reports whether no device changes state.
func (c Changes) Empty() bool {
	return len(c.Enabled) == 0 && len(c.Disabled) == 0
}

// Source lists devices from the platform.
type Source interface {
	ListDevices(ctx context.Context) ([]*Device, error)
	GetDevice(ctx context.Context, id string) (*Device, error)
}

// Registry owns device identity: id to name, id to topic slug and back,
// plus per-device enablement.
//
// A device is registered iff it has an entry in every map; all maps are
// updated under one lock. Subscribers are notified after the lock is
// released.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	names    map[string]string // id -> name
	byName   map[string]string // name -> id
	slugs    map[string]string // id -> slug
	bySlug   map[string]string // slug -> id
	devices  map[string]*Device
	enabled  map[string]bool // sparse; missing means enabled
	subs     map[int]func(Event)
	nextSub  int
	logger   Logger
	loggerMu sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names:   make(map[string]string),
		byName:  make(map[string]string),
		slugs:   make(map[string]string),
		bySlug:  make(map[string]string),
		devices: make(map[string]*Device),
		enabled: make(map[string]bool),
		subs:    make(map[int]func(Event)),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Subscribe registers fn for registry events and returns a function that
// removes it.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) notify(ev Event) {
	r.mu.RLock()
	subs := make([]func(Event), 0, len(r.subs))
	for _, k := range slices.Sorted(maps.Keys(r.subs)) {
		subs = append(subs, r.subs[k])
	}
	r.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Register adds a device. It returns false without error when the device
// is already registered or lacks an id or name; the latter is logged.
func (r *Registry) Register(d *Device) bool {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		r.log().Warn("skipping device without id")
		return false
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		r.log().Warn("skipping device without name", "device_id", d.ID)
		return false
	}

	r.mu.Lock()
	if _, exists := r.names[d.ID]; exists {
		r.mu.Unlock()
		return false
	}
	slug := r.insertLocked(d.ID, name)
	cpy := d.DeepCopy()
	r.devices[d.ID] = cpy
	r.mu.Unlock()

	r.log().Debug("device registered", "device_id", d.ID, "name", name, "slug", slug)
	r.notify(Event{Type: EventAdded, DeviceID: d.ID, Device: cpy.DeepCopy()})
	return true
}

// insertLocked writes the identity maps. Caller holds r.mu.
func (r *Registry) insertLocked(id, name string) string {
	slug := r.uniqueSlugLocked(name, id)

	r.names[id] = name
	if _, taken := r.byName[name]; !taken {
		r.byName[name] = id
	}
	r.slugs[id] = slug
	r.bySlug[slug] = id
	return slug
}

// removeLocked deletes the identity maps. Caller holds r.mu.
func (r *Registry) removeLocked(id string) {
	name := r.names[id]
	if r.byName[name] == id {
		delete(r.byName, name)
	}
	slug := r.slugs[id]
	if r.bySlug[slug] == id {
		delete(r.bySlug, slug)
	}
	delete(r.names, id)
	delete(r.slugs, id)
}

// uniqueSlugLocked normalises name and appends -2, -3 ... when another
// device already owns the slug. Caller holds r.mu.
func (r *Registry) uniqueSlugLocked(name, id string) string {
	base := topic.Normalize(name)
	if base == "" {
		base = topic.Normalize(id)
	}
	if base == "" {
		base = "device"
	}

	slug := base
	for n := 2; ; n++ {
		owner, taken := r.bySlug[slug]
		if !taken || owner == id {
			return slug
		}
		slug = base + "-" + strconv.Itoa(n)
	}
}

// Unregister removes a device. Enablement overrides are kept so the
// device comes back in the same state.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	if _, exists := r.names[id]; !exists {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(id)
	delete(r.devices, id)
	r.mu.Unlock()

	r.log().Debug("device unregistered", "device_id", id)
	r.notify(Event{Type: EventRemoved, DeviceID: id})
	return true
}

// Update replaces the cached device. A renamed device gets a new slug.
// Unknown devices are registered instead.
func (r *Registry) Update(d *Device) bool {
	if d == nil || d.ID == "" {
		return false
	}

	r.mu.Lock()
	oldName, exists := r.names[d.ID]
	if !exists {
		r.mu.Unlock()
		return r.Register(d)
	}
	name := strings.TrimSpace(d.Name)
	if name != "" && name != oldName {
		r.removeLocked(d.ID)
		r.insertLocked(d.ID, name)
	}
	cpy := d.DeepCopy()
	if name == "" {
		cpy.Name = oldName
	}
	r.devices[d.ID] = cpy
	r.mu.Unlock()

	r.notify(Event{Type: EventUpdated, DeviceID: d.ID, Device: cpy.DeepCopy()})
	return true
}

// ResolveID maps an id, an exact name or a slug-equivalent string to the
// canonical device id, in that order of precedence.
func (r *Registry) ResolveID(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.names[ref]; ok {
		return ref, true
	}
	if id, ok := r.byName[strings.TrimSpace(ref)]; ok {
		return id, true
	}
	if id, ok := r.bySlug[topic.Normalize(ref)]; ok {
		return id, true
	}

	r.log().Debug("device reference not resolved", "ref", ref)
	return "", false
}

// ResolveDevice resolves a device value by its ID, then by its Name.
func (r *Registry) ResolveDevice(d *Device) (string, bool) {
	if d == nil {
		return "", false
	}
	if d.ID != "" {
		if id, ok := r.ResolveID(d.ID); ok {
			return id, true
		}
	}
	if d.Name != "" {
		return r.ResolveID(d.Name)
	}
	return "", false
}

// IsRegistered reports whether id is registered.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[id]
	return ok
}

// Name returns the registered display name.
func (r *Registry) Name(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.names[id]
	return n, ok
}

// Slug returns the topic slug assigned at registration.
func (r *Registry) Slug(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slugs[id]
	return s, ok
}

// Device returns a copy of the cached device.
func (r *Registry) Device(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return d.DeepCopy(), true
}

// IDs returns registered device ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.names))
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// SetEnabled records an explicit enablement for id. Disabling keeps the
// device registered and resolvable.
func (r *Registry) SetEnabled(id string, enabled bool) {
	r.mu.Lock()
	r.enabled[id] = enabled
	r.mu.Unlock()
}

// IsEnabled reports whether id is enabled. Devices default to enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isEnabledLocked(id)
}

func (r *Registry) isEnabledLocked(id string) bool {
	v, ok := r.enabled[id]
	return !ok || v
}

// Enablement returns a copy of the explicit overrides.
func (r *Registry) Enablement() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.enabled)
}

// EnabledCount returns how many registered devices are enabled.
func (r *Registry) EnabledCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id := range r.names {
		if r.isEnabledLocked(id) {
			n++
		}
	}
	return n
}

// ComputeChanges diffs a complete desired enablement map against the
// current state. Devices with an explicit override that are missing from
// desired fall back to the default and count as desired enabled.
// Each list is sorted.
func (r *Registry) ComputeChanges(desired map[string]bool) Changes {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := maps.Clone(desired)
	if want == nil {
		want = make(map[string]bool)
	}
	for id := range r.enabled {
		if _, ok := want[id]; !ok {
			want[id] = true
		}
	}

	var ch Changes
	for _, id := range slices.Sorted(maps.Keys(want)) {
		current := r.isEnabledLocked(id)
		switch {
		case want[id] && !current:
			ch.Enabled = append(ch.Enabled, id)
		case !want[id] && current:
			ch.Disabled = append(ch.Disabled, id)
		default:
			ch.Untouched = append(ch.Untouched, id)
		}
	}
	return ch
}

// Sync registers every platform device and unregisters devices the
// platform no longer lists.
func (r *Registry) Sync(ctx context.Context, src Source) error {
	devices, err := src.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing platform devices: %w", err)
	}

	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d == nil {
			continue
		}
		seen[d.ID] = true
		if r.IsRegistered(d.ID) {
			r.Update(d)
		} else {
			r.Register(d)
		}
	}

	for _, id := range r.IDs() {
		if !seen[id] {
			r.Unregister(id)
		}
	}

	r.log().Info("device registry synced", "count", r.Len())
	return nil
}
