package escalation

import (
	"container/heap"
	"strconv"
	"time"

	"github.com/hubflo/hubflo/internal/services"
)

// wakeItem is one pending wake: a task threshold crossing or a recipient's digest.
type wakeItem struct {
	key       string
	at        time.Time
	taskID    uint64
	recipient *services.Identity
	index     int
}

func taskKey(id uint64) string {
	return "task:" + strconv.FormatUint(id, 10)
}

func digestKey(senderID string) string {
	return "digest:" + senderID
}

// wakeQueue is a min-heap on wake time.
type wakeQueue []*wakeItem

func (q wakeQueue) Len() int { return len(q) }

func (q wakeQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].key < q[j].key
	}
	return q[i].at.Before(q[j].at)
}

func (q wakeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *wakeQueue) Push(x any) {
	item := x.(*wakeItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *wakeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// wakeSet indexes the heap by key so a task or recipient holds at most one wake.
type wakeSet struct {
	queue wakeQueue
	items map[string]*wakeItem
}

func newWakeSet() *wakeSet {
	return &wakeSet{items: make(map[string]*wakeItem)}
}

func (w *wakeSet) put(item *wakeItem) {
	if existing, ok := w.items[item.key]; ok {
		existing.at = item.at
		existing.taskID = item.taskID
		existing.recipient = item.recipient
		heap.Fix(&w.queue, existing.index)
		return
	}
	w.items[item.key] = item
	heap.Push(&w.queue, item)
}

func (w *wakeSet) remove(key string) {
	item, ok := w.items[key]
	if !ok {
		return
	}
	heap.Remove(&w.queue, item.index)
	delete(w.items, key)
}

// popDue removes and returns every item due at or before now, earliest first.
func (w *wakeSet) popDue(now time.Time) []*wakeItem {
	var due []*wakeItem
	for w.queue.Len() > 0 && !w.queue[0].at.After(now) {
		item := heap.Pop(&w.queue).(*wakeItem)
		delete(w.items, item.key)
		due = append(due, item)
	}
	return due
}

func (w *wakeSet) peek() (time.Time, bool) {
	if w.queue.Len() == 0 {
		return time.Time{}, false
	}
	return w.queue[0].at, true
}

func (w *wakeSet) len() int {
	return w.queue.Len()
}

func (w *wakeSet) has(key string) bool {
	_, ok := w.items[key]
	return ok
}
