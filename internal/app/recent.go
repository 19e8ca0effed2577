package app

import (
	"slices"
	"sync"
)

// recentWindow remembers the last size pair IDs served by random selection.
type recentWindow struct {
	mu   sync.Mutex
	ids  []int64
	size int
}

func newRecentWindow(size int) *recentWindow {
	if size <= 0 {
		size = 10
	}
	return &recentWindow{size: size}
}

func (w *recentWindow) Contains(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Contains(w.ids, id)
}

func (w *recentWindow) Push(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, id)
	if len(w.ids) > w.size {
		w.ids = w.ids[len(w.ids)-w.size:]
	}
}

func (w *recentWindow) Reset() {
	w.mu.Lock()
	w.ids = nil
	w.mu.Unlock()
}
