// Package hub assembles the bridge: it opens the settings store, loads the
// device platform, connects to the broker and wires every convention
// publisher to the shared registry and publish queue.
//
// A Hub replaces process-wide singletons. Everything it owns is created in
// New, started in Start and torn down in reverse order by Close.
//
// Broker lifecycle:
//   - On connect the publish queue starts draining, the Homie device is
//     re-announced and Home Assistant discovery is republished.
//   - On disconnect the queue stops; pending messages are kept and
//     coalesced until the next connect.
//
// Hub also implements api.Controller so settings and enablement changes
// made over HTTP are persisted and applied to every publisher.
package hub
