package daemon

import "github.com/joncooperworks/agentpost/store"

// dedupKey identifies one unit of pipeline work. The read level is
// part of the key because the same message id legitimately comes back
// after a trust change and must be processed again under its new
// level.
func dedupKey(id string, read store.TrustState) string {
	return id + "|" + string(read)
}

// processedSet records the dedup keys this daemon run already handled.
// It lives for one process: after a restart, the relay's own
// acknowledgment state keeps acked messages out of the inbox. Only the
// pipeline goroutine touches it.
type processedSet map[string]struct{}

func (p processedSet) seen(key string) bool {
	_, ok := p[key]
	return ok
}

func (p processedSet) add(key string) {
	p[key] = struct{}{}
}
