// Package relay turns "send message M in session S" into an ordered stream of
// partial-response events plus exactly one consistent mutation of session history.
//
// A turn moves Idle -> UserAppended -> Streaming -> Committed | RolledBack.
// Committed appends the full assistant reply after the user message.
// RolledBack removes the user message again; the caller gets one error event.
//
// Usage:
//
//	r, _ := relay.New(relay.Config{Store: store, Upstream: client, Catalog: cat})
//	events, err := r.Submit(ctx, sessionID, "hello")
//	for ev := range events {
//		_ = ev
//	}
package relay
