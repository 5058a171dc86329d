// Package conversation runs multi-step chat flows on top of a session store.
//
// Flows and their steps are declared once, validated by a Builder and frozen
// into a Registry. A Dispatcher takes one inbound Event at a time per user,
// resolves it against the registry and the user's session, and returns the
// replies to send. The package knows nothing about Telegram; the transport
// adapter translates updates into Events and renders Replies.
package conversation
