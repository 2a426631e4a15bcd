package reputation

import "sync"

// playerLocks serializes writers of one player's ledger inside this process.
// Entries are dropped when the last waiter leaves.
type playerLocks struct {
	mu    sync.Mutex
	locks map[int64]*playerLock
}

type playerLock struct {
	sync.Mutex
	refs int
}

func newPlayerLocks() *playerLocks {
	return &playerLocks{locks: make(map[int64]*playerLock)}
}

// lock blocks until playerID is free and returns the unlock function.
func (p *playerLocks) lock(playerID int64) func() {
	p.mu.Lock()
	l, ok := p.locks[playerID]
	if !ok {
		l = &playerLock{}
		p.locks[playerID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, playerID)
		}
		p.mu.Unlock()
	}
}

func (p *playerLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
