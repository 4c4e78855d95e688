package arena

import "sync"

// matchLocks serializes advancement per match ID. The minimum inter-move
// interval throttles redundant invocations, but it is a time heuristic,
// not a lock — two concurrent callers could both pass it. This registry
// guarantees only one of them advances the match.
//
// Entries are refcounted: the last releaser drops the entry, so the map
// stays bounded by the number of matches being advanced right now rather
// than growing with every match ever seen.
type matchLocks struct {
	mu    sync.Mutex
	locks map[string]*matchLock
}

type matchLock struct {
	mu   sync.Mutex
	refs int
}

func newMatchLocks() *matchLocks {
	return &matchLocks{locks: make(map[string]*matchLock)}
}

// acquire locks the named match and returns the release function.
func (l *matchLocks) acquire(matchID string) func() {
	l.mu.Lock()
	e, ok := l.locks[matchID]
	if !ok {
		e = &matchLock{}
		l.locks[matchID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, matchID)
		}
		l.mu.Unlock()
	}
}
