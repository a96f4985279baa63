// Package hass publishes Home Assistant MQTT discovery documents for the
// Homie tree.
//
// Each Homie property becomes one entity under
//
//	{prefix}/{component}/{node}/{property}/config
//
// whose state and command topics point at the Homie property topics, so
// Home Assistant talks to the hub through the same tree as any other
// Homie controller. Documents follow node additions and removals and are
// cleared from the broker when a node goes away.
package hass
