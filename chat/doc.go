// Package chat holds the conversational domain model: the message types and
// their validation, the transactional in-memory conversation log (History)
// and the live Session object the persistent store serializes.
//
// History is the component that makes a multi-step tool-calling exchange
// all-or-nothing: appends accumulate past a finalized-length marker, Commit
// makes them permanent and Rollback discards everything since the last
// commit. Rollback never fails, so the error that triggered it stays the one
// surfaced to the caller.
package chat
