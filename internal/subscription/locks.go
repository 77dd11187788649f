package subscription

import "sync"

// accountLocks serializes mutations per account. Entries are reference
// counted and removed once no goroutine holds or waits on them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

// Lock blocks until the account's lock is held and returns its release.
func (a *accountLocks) Lock(accountID string) func() {
	a.mu.Lock()
	l, ok := a.locks[accountID]
	if !ok {
		l = &accountLock{}
		a.locks[accountID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, accountID)
		}
		a.mu.Unlock()
	}
}

func (a *accountLocks) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
