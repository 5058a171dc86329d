package conversation

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ledger remembers recently processed event ids.
type ledger struct {
	seen *gocache.Cache
}

func newLedger(window time.Duration) *ledger {
	if window <= 0 {
		return nil
	}
	return &ledger{seen: gocache.New(window, window)}
}

// first reports whether id has not been seen within the window and records it.
func (l *ledger) first(id string) bool {
	if l == nil || id == "" {
		return true
	}
	return l.seen.Add(id, struct{}{}, gocache.DefaultExpiration) == nil
}
