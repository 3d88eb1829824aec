// Package protocol owns the EPP transport contract (RFC 5734).
//
// Ownership boundary:
// - frame: length-prefix codec
// - session: tcp/tls connection lifecycle and transport security
//
// Payloads are opaque XML; nothing under protocol parses them.
package protocol
