// Package device holds the platform device model and the Registry that
// owns device identity.
//
// The Registry maps every device id to its display name and to a topic
// slug derived from that name, and back. Any of the three forms resolves
// to the canonical id through ResolveID. It also tracks per-device
// enablement: devices are enabled unless explicitly disabled, and a
// disabled device stays registered so it can be re-enabled without a
// platform round trip.
//
// Subscribers receive EventAdded, EventRemoved and EventUpdated after the
// registry state has changed. ComputeChanges turns a desired enablement
// map into the minimal enable/disable lists the dispatchers apply
// incrementally.
//
// # Usage
//
//	reg := device.NewRegistry()
//	reg.SetLogger(logger)
//	stop := reg.Subscribe(func(ev device.Event) { ... })
//	defer stop()
//
//	if err := reg.Sync(ctx, platform); err != nil {
//	    return err
//	}
//	id, ok := reg.ResolveID("Living Room Light")
package device
