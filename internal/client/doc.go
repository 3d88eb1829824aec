// Package client drives one EPP session: dial, consume the greeting, then for
// each template render, send one frame and read exactly one response frame.
//
// Ownership boundary:
// - run state machine (greeting wait/skip, exchange loop, close)
// - phase-typed run errors
// - output hand-off through Observer
//
// Framing is delegated to protocol/frame, the socket to protocol/session and
// rendering to template.
package client
