package memory

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// DefaultWorkingCapacity is the working memory size used when none is set.
const DefaultWorkingCapacity = 100

// WorkingMemory is a bounded scratch space. Eviction is strictly FIFO by
// first insertion; rewriting a key does not move it.
type WorkingMemory struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front is the oldest insertion
	now      func() time.Time
}

// NewWorkingMemory creates a working memory holding at most capacity items.
func NewWorkingMemory(capacity int, now func() time.Time) *WorkingMemory {
	if capacity <= 0 {
		capacity = DefaultWorkingCapacity
	}
	if now == nil {
		now = defaultClock
	}
	return &WorkingMemory{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      now,
	}
}

// Put inserts or updates key. An existing item keeps its FIFO position, takes
// the new content, keeps the higher importance and counts as an access.
func (w *WorkingMemory) Put(key string, content any, importance float64) {
	importance = clamp(importance, 0, 1)

	w.mu.Lock()
	defer w.mu.Unlock()

	if elem, ok := w.items[key]; ok {
		item := elem.Value.(*WorkingMemoryItem)
		item.Content = content
		if importance > item.Importance {
			item.Importance = importance
		}
		item.AccessCount++
		return
	}

	for w.order.Len() >= w.capacity {
		w.evictOldest()
	}

	elem := w.order.PushBack(&WorkingMemoryItem{
		Key:        key,
		Content:    content,
		CreatedAt:  w.now(),
		Importance: importance,
	})
	w.items[key] = elem
}

// Get returns the content stored under key and counts the access.
func (w *WorkingMemory) Get(key string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	elem, ok := w.items[key]
	if !ok {
		return nil, false
	}
	item := elem.Value.(*WorkingMemoryItem)
	item.AccessCount++
	return item.Content, true
}

// Context returns up to maxItems items ordered by
// importance / max(1, access_count), highest first. Items that are important
// but not yet revisited rank first.
func (w *WorkingMemory) Context(maxItems int) []WorkingMemoryItem {
	w.mu.Lock()
	items := make([]WorkingMemoryItem, 0, w.order.Len())
	for elem := w.order.Front(); elem != nil; elem = elem.Next() {
		items = append(items, *elem.Value.(*WorkingMemoryItem))
	}
	w.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		return workingScore(items[i]) > workingScore(items[j])
	})
	if maxItems >= 0 && maxItems < len(items) {
		items = items[:maxItems]
	}
	return items
}

func workingScore(item WorkingMemoryItem) float64 {
	accesses := item.AccessCount
	if accesses < 1 {
		accesses = 1
	}
	return item.Importance / float64(accesses)
}

// Clear drops every item.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = make(map[string]*list.Element)
	w.order.Init()
}

// Len returns the number of live items.
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Capacity returns the maximum number of items.
func (w *WorkingMemory) Capacity() int {
	return w.capacity
}

func (w *WorkingMemory) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	w.order.Remove(front)
	delete(w.items, front.Value.(*WorkingMemoryItem).Key)
}
