// Package homie publishes the hub's devices as a Homie 3.0.1 device tree
// and routes "set" commands back to the platform.
//
// The hub is one Homie device rooted at Settings.Base. Each enabled
// platform device becomes a node; each capability becomes a property,
// except that a light's hue, saturation and temperature capabilities are
// presented as a single "color" property unless the color format is
// "values".
//
// Topic layout:
//
//	{base}/$homie, $name, $state, $implementation, $extensions, $nodes
//	{base}/{node}/$name, $type, $properties
//	{base}/{node}/{property}            retained value
//	{base}/{node}/{property}/$datatype  and the other property attributes
//	{base}/{node}/{property}/set        inbound commands
//
// Settings changes that alter the shape of the tree rebuild it from
// scratch. Enablement changes add or remove single nodes.
package homie
