// Package event implements the synchronous publish/subscribe bus that wires
// burrow's components together without introducing direct dependencies
// between them (configuration changes fire events; the conversation log and
// session rebuilding logic react).
//
// The bus is an explicit service instance constructed once and injected into
// every component that publishes or subscribes; tests instantiate an
// isolated bus per test instead of sharing process-wide state.
//
// Delivery is synchronous and re-entrant only through explicit deferral: a
// handler must not fire the very event it is handling unless the firing code
// is wrapped in DeferEvents, or it risks unbounded recursion.
//
// Subscribers that come and go (a conversation log, a UI pane) should take
// their subscriptions through a Group and release the group when torn down.
// Cleanup is an explicit, required step; the bus never unsubscribes on the
// owner's behalf.
package event
