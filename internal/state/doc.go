// Package state publishes device and hub state on the legacy topic scheme.
//
// DeviceDispatcher mirrors every enabled device capability to
//
//	{root}/{class}/{zone}/{device}/{capability}/state
//
// and accepts writes on the sibling .../set topic. SystemReporter sends a
// JSON snapshot of the hub to {root}/system/state on a fixed interval.
//
// Both are simpler siblings of the Homie dispatcher and share its queue
// and topic registry.
package state
