// Package api implements the hub's HTTP API.
//
// This package provides:
//   - Health and system status endpoints
//   - Prometheus metrics on /metrics
//   - Device listing and per-device enablement
//   - Reading and applying the Homie settings
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// The server never touches MQTT itself. Enablement and settings changes go
// through a Controller, normally the hub assembly, which persists them and
// applies them to every dispatcher.
//
// # Graceful Degradation
//
// The server runs without MQTT or a database. Health reports each
// dependency separately so a monitoring system can tell which one failed.
package api
