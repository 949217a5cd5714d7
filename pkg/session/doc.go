// Package session holds chat sessions in process memory.
//
// Invariants:
//   - Session ids are uuid v4 strings assigned at creation and never change.
//   - History only grows, except for PopLast (turn rollback) and Clear.
//   - Every mutation of title, model or history refreshes UpdatedAt.
//   - A turn holds the session turn lock from the user append until commit or rollback,
//     so concurrent turns on one session never interleave.
//
// Usage:
//
//	store := session.NewStore(session.StoreConfig{DefaultTitle: "New chat", DefaultModel: "gpt-4o"})
//	s := store.Create("", "")
//	_, _ = s.Append(session.RoleUser, "hello")
//	msgs := s.APIView()
//	_ = msgs
package session
