package platform

import (
	"sort"
	"sync"
)

type listenerKey struct {
	deviceID     string
	capabilityID string
}

// Listeners is a keyed set of capability subscriptions.
//
// All public methods are thread-safe. Subscriptions are destroyed
// outside the lock.
type Listeners struct {
	mu   sync.Mutex
	subs map[listenerKey]Subscription
}

// NewListeners creates an empty set.
func NewListeners() *Listeners {
	return &Listeners{subs: make(map[listenerKey]Subscription)}
}

// Replace stores sub for the pair, destroying any previous subscription.
func (l *Listeners) Replace(deviceID, capabilityID string, sub Subscription) {
	key := listenerKey{deviceID, capabilityID}

	l.mu.Lock()
	prev := l.subs[key]
	if sub == nil {
		delete(l.subs, key)
	} else {
		l.subs[key] = sub
	}
	l.mu.Unlock()

	if prev != nil {
		prev.Destroy()
	}
}

// Destroy removes and destroys the subscription for the pair.
func (l *Listeners) Destroy(deviceID, capabilityID string) {
	l.Replace(deviceID, capabilityID, nil)
}

// DestroyDevice removes and destroys every subscription of a device.
func (l *Listeners) DestroyDevice(deviceID string) {
	l.mu.Lock()
	var drop []Subscription
	for k, s := range l.subs {
		if k.deviceID == deviceID {
			drop = append(drop, s)
			delete(l.subs, k)
		}
	}
	l.mu.Unlock()

	for _, s := range drop {
		s.Destroy()
	}
}

// DestroyAll removes and destroys every subscription.
func (l *Listeners) DestroyAll() {
	l.mu.Lock()
	drop := l.subs
	l.subs = make(map[listenerKey]Subscription)
	l.mu.Unlock()

	for _, s := range drop {
		s.Destroy()
	}
}

// Has reports whether the pair has a live subscription.
func (l *Listeners) Has(deviceID, capabilityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.subs[listenerKey{deviceID, capabilityID}]
	return ok
}

// Capabilities returns the subscribed capability ids of a device, sorted.
func (l *Listeners) Capabilities(deviceID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for k := range l.subs {
		if k.deviceID == deviceID {
			out = append(out, k.capabilityID)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live subscriptions.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
