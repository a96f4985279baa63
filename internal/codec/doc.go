// Package codec converts capability values between their typed,
// device-native form and the strings carried on MQTT.
//
// Parse and Format never fail. Malformed numeric input becomes zero and
// unknown types pass through, so one bad payload cannot stall a publish
// pipeline or a command route.
//
// Percentage scaling only touches capabilities whose unit is "%":
//
//	ScaleInt    device [0,1]   <-> wire [0,100]
//	ScaleFloat  device [0,100] <-> wire [0,1]
//	ScaleDefault               pass-through
//
// Under a fixed scale Parse(Format(v)) returns v within the capability's
// rounding.
package codec
