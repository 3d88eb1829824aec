// Package session owns the client side of one EPP transport connection.
//
// Ownership boundary:
// - tcp dial and optional tls handshake
// - transport security validation (tls version pinning, client certificates)
// - blocking byte-stream primitives used by the frame codec
// - connection state (unopened -> open -> closed)
//
// A Conn is never reopened and never shared between goroutines.
package session
