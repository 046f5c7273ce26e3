// Copyright © 2015 Daniel Fu <daniel820313@gmail.com>.
// Copyright © 2019 Loki 'l0k18' Verloren <stalker.loki@protonmail.ch>.
// Copyright © 2021 Gridfinity, LLC. <admin@gridfinity.com>.
// Copyright © 2025 Jin Long <longjin@dragonos.org>.
//
// All rights reserved.
//
// All use of this code is governed by the MIT license.
// The complete license is available in the LICENSE file.

package ukcp // import "github.com/fslongjin/ultra-kcp"

import (
	"container/heap"
	"sync"
	"time"

	"gopkg.in/tomb.v1"
)

var updater updateHeap

func init() {
	updater.init()
	go updater.updateTask()
}

// entry contains a session update info
type entry struct {
	ts time.Time
	s  *UDPSession
}

// a global heap-managed Flush() driver: every session is flushed at
// the adaptive interval its last Flush reported.
type updateHeap struct {
	entries  []entry
	exists   map[*UDPSession]bool
	mu       sync.Mutex
	chWakeUp chan struct{}
	stop     tomb.Tomb
}

func (h *updateHeap) Len() int           { return len(h.entries) }
func (h *updateHeap) Less(i, j int) bool { return h.entries[i].ts.Before(h.entries[j].ts) }
func (h *updateHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].s.updaterIdx = i
	h.entries[j].s.updaterIdx = j
}

func (h *updateHeap) Push(x interface{}) {
	h.entries = append(h.entries, x.(entry))
	n := len(h.entries)
	h.entries[n-1].s.updaterIdx = n - 1
}

func (h *updateHeap) Pop() interface{} {
	n := len(h.entries)
	x := h.entries[n-1]
	h.entries[n-1].s.updaterIdx = -1
	h.entries[n-1] = entry{} // manual set nil for GC
	h.entries = h.entries[0 : n-1]
	return x
}

func (h *updateHeap) init() {
	h.chWakeUp = make(
		chan struct{},
		1,
	)
	h.exists = make(
		map[*UDPSession]bool,
	)
}

func (h *updateHeap) addSession(s *UDPSession) {
	h.mu.Lock()
	if !h.exists[s] {
		heap.Push(h, entry{time.Now(), s})
		h.exists[s] = true
	}
	h.mu.Unlock()
	h.wakeup()
}

func (h *updateHeap) removeSession(s *UDPSession) {
	h.mu.Lock()
	if h.exists[s] && s.updaterIdx != -1 {
		heap.Remove(h, s.updaterIdx)
		delete(h.exists, s)
	}
	h.mu.Unlock()
}

func (h *updateHeap) wakeup() {
	select {
	case h.chWakeUp <- struct{}{}:
	default:
	}
}

func (h *updateHeap) updateTask() {
	timer := time.NewTimer(0)
	for {
		select {
		case <-timer.C:
		case <-h.chWakeUp:
		case <-h.stop.Dying():
			return
		}
		h.mu.Lock()
		hlen := h.Len()
		for i := 0; i < hlen; i++ {
			ent := &h.entries[0]
			now := time.Now()
			if now.Before(ent.ts) {
				break
			}
			interval := ent.s.update()
			ent.ts = time.Now().Add(interval)
			heap.Fix(h, 0)
		}
		if hlen > 0 {
			timer.Reset(time.Until(h.entries[0].ts))
		}
		h.mu.Unlock()
	}
}
