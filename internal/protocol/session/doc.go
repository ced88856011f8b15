// Package session owns the Session Context: one Channel, one Datalink and the
// goroutine that reads from them.
//
// Ownership boundary:
// - channel open/close and lifecycle event republishing
// - attaching the datalink once the channel reports connected
// - optional reconnect with backoff after an unexpected disconnect
//
// Request correlation lives one layer up in internal/terminal.
package session
