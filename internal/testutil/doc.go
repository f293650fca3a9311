// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing model objects (messages, live sessions).
// They are not intended for production usage.
package testutil
