// Package session persists conversations in an embedded ordered-key store.
//
// Records live under "session:{id:08d}" keys with an "alias:{alias}" index
// mapping each alias to its session id. Ids are small positive integers;
// ids freed by deletion are reused, with the smallest available id always
// chosen. Every operation that touches both a record and the alias index
// does so in a single transaction.
package session
