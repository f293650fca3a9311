// Package agent persists agent definitions, their tasks and arbitrary
// per-agent values in an embedded ordered-key store.
//
// Three colon-delimited namespaces share one database: "agent:{id}" holds
// the definition, "tasks:{agentId}:{taskId}" the task records and
// "kv:{agentId}:{key}" free-form values. Integer-valued kv entries double
// as counters mutated through atomic increment and decrement.
package agent
