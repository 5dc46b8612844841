// Package protocol owns the message registry: type codes, payload layouts,
// direction rules and the JSON envelope used on the network side.
//
// Ownership boundary:
// - payload binary and JSON forms
// - type/direction gating
// - envelope parsing
package protocol
