// Package settings persists hub settings in SQLite.
//
// Two tables back it:
//   - settings: one JSON document per key, such as the applied Homie
//     settings
//   - device_overrides: explicit per-device enablement, so a device
//     disabled through the API stays disabled across restarts
//
// Devices without an override row are enabled.
package settings
