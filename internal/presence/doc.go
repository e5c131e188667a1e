// Package presence tracks which users are online.
//
// The server binds a connection to a user when that connection completes a
// userLogin exchange, and unbinds it when the listener reaps the connection.
// A user with several connections stays online until the last one goes away.
//
// Three backends implement Store:
//   - Memory: process-local maps, the default
//   - Redis: shared state in Redis sets, for several servers behind one store
//   - SQL: gorm-managed sqlite tables that keep each user's last-seen time
//
// The listener calls the store from its single control goroutine, but every
// backend is safe for concurrent use.
package presence
