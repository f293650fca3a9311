// Package kv wraps the embedded ordered-key transactional database both
// persistent stores (sessions, agents) are built on.
//
// Values are JSON-encoded records; keys use colon-delimited prefixes to
// define namespaces (session:, alias:, agent:, tasks:, kv:). Range scans
// position a cursor at the first key >= the prefix and iterate while the key
// still starts with it, with a depth filter so leaf-namespace scans are not
// confused by deeper keys under the same prefix.
//
// The database provides its own transaction serialization (single writer,
// snapshot readers); higher-level stores issue one transaction per logical
// operation and rely on its atomicity instead of additional locking.
// Transaction-abort errors propagate unwrapped: a failed transaction leaves
// no partial writes visible.
package kv
