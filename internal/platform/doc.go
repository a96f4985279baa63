// Package platform defines the boundary to the smart-home device platform
// the hub bridges: device and zone listing, lifecycle events, capability
// value listeners and capability writes.
//
// Memory is the in-process implementation. It is seeded from a YAML
// devices file and is what the hub runs against when no external platform
// adapter is configured; tests drive it directly.
//
// Listeners holds one subscription per (device, capability) pair and
// destroys the previous one before storing a replacement, so re-subscribing
// never leaves a second live listener behind.
package platform
