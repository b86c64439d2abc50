//go:build !tinygo

package critical

import "sync"

// State is unused on the host; interrupt handlers are goroutines and the
// section is a plain mutex.
type State struct{}

var mu sync.Mutex

// Enter acquires the section lock.
func Enter() State {
	mu.Lock()
	return State{}
}

// Exit releases the lock taken by Enter.
func Exit(State) { mu.Unlock() }
