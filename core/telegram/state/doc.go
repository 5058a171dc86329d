// Package state keeps per-user conversation sessions for Telegram bots.
//
// A Session records which flow a user is in, the current step and the typed
// values collected so far. Stores serialize work per user through Lock; the
// memory backend is backed by go-cache and the redis backend lets sessions
// survive a restart. Both evict idle sessions after a TTL.
package state
