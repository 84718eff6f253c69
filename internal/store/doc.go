// Package store persists users, conversations and messages.
//
// # Data Model
//
//   - User: registered identity with name, email and profile picture
//   - Conversation: the thread between an unordered pair of users; exactly
//     one exists per pair, enforced by a unique pair key
//   - Message: an entry in a conversation ordered by an insertion sequence,
//     with a seen flag for the receiving party
//
// # Implementations
//
// SQLiteStore is backed by modernc.org/sqlite in WAL mode:
//
//	s, err := store.NewSQLiteStore("/var/lib/chatrelay/chat.db")
//
// MockStore keeps everything in memory for unit tests:
//
//	s := store.NewMockStore()
//
// # Errors
//
//   - ErrNotFound: requested record does not exist
//   - ErrDuplicateUser: email already registered
//
// All methods accept context.Context for cancellation support.
package store
