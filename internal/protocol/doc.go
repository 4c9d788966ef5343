// Package protocol owns the device message contract.
//
// Ownership boundary:
// - endpoint identifiers and per-endpoint command codes
// - domain message builders (notification, music, phone, ping, time, version)
// - inbound payload parsers
//
// Frame layout lives in protocol/frame; the item encodings every builder
// funnels through live in protocol/typed.
package protocol
