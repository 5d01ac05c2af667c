package service

import (
	"sort"
	"sync"
)

// hostLockSet serializes booking units of work per staff member. Locks are
// always taken in sorted host order so overlapping host sets cannot deadlock.
type hostLockSet struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newHostLockSet() *hostLockSet {
	return &hostLockSet{locks: make(map[string]*sync.Mutex)}
}

func (h *hostLockSet) lockFor(hostID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.locks[hostID]; ok {
		return l
	}
	l := &sync.Mutex{}
	h.locks[hostID] = l
	return l
}

// Acquire locks every host in the set and returns the release function.
func (h *hostLockSet) Acquire(hostIDs []string) func() {
	ordered := make([]string, 0, len(hostIDs))
	seen := make(map[string]struct{}, len(hostIDs))
	for _, id := range hostIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, id := range ordered {
		l := h.lockFor(id)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
