package registry

import (
	"container/heap"
	"strconv"
)

// idleItem is a connection in the idle heap, keyed by its descriptor and
// ordered by the time of its last activity
type idleItem struct {
	FD       int
	LastSeen int64
	index    int
}

func (i *idleItem) String() string {
	return "{FD: " + strconv.Itoa(i.FD) + ", LastSeen: " + strconv.FormatInt(i.LastSeen, 10) + "}"
}

// idleHeap is a min-heap of connections by last activity with O(1) access
// by descriptor. It is not synchronized, the registry lock guards it.
type idleHeap struct {
	items    []*idleItem
	itemsMap map[int]*idleItem
}

func newIdleHeap() *idleHeap {
	return &idleHeap{
		items:    make([]*idleItem, 0),
		itemsMap: make(map[int]*idleItem),
	}
}

// Len is part of heap.Interface
func (h *idleHeap) Len() int { return len(h.items) }

// Less orders the least recently active connection first
func (h *idleHeap) Less(i, j int) bool {
	return h.items[i].LastSeen < h.items[j].LastSeen
}

func (h *idleHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *idleHeap) Push(x any) {
	it := x.(*idleItem)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.FD] = it
}

func (h *idleHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.FD)
	return it
}

// set adds fd or moves it to its new position if already present
func (h *idleHeap) set(fd int, lastSeen int64) {
	if it, ok := h.itemsMap[fd]; ok {
		it.LastSeen = lastSeen
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &idleItem{FD: fd, LastSeen: lastSeen})
}

func (h *idleHeap) remove(fd int) bool {
	it, ok := h.itemsMap[fd]
	if !ok {
		return false
	}
	heap.Remove(h, it.index)
	return true
}

// popOldest removes and returns the least recently active entry
func (h *idleHeap) popOldest() (*idleItem, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return heap.Pop(h).(*idleItem), true
}
