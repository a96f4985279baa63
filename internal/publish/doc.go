// Package publish owns the outbound side of the hub: a coalescing,
// paced publish queue and a per-device record of published topics used
// to retract a device's retained state.
//
// Queue semantics:
//   - At most one pending message per topic. Adding to a pending topic
//     replaces its payload, QoS and retain flag in place.
//   - Distinct topics drain in insertion order with a fixed delay between
//     sends.
//   - A failed send is logged and counted. It is not retried.
//   - Stop halts draining without dropping anything; Start resumes.
//
// A nil payload publishes an empty message, which clears a retained
// topic on the broker.
package publish
