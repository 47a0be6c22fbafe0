package core

import (
	"container/heap"
	"context"
	"math"
	"sync"

	"github.com/rafabd1/Nightshade/internal/unit"
)

// BatchSize is how many cases a worker pulls from a cursor per turn.
const BatchSize = 10

// AbortPriority sorts abort items ahead of any real work.
const AbortPriority = math.MinInt

// Action is what a worker does with a WorkItem.
type Action int

const (
	ActionEvaluate Action = iota
	ActionAbort
)

func (a Action) String() string {
	if a == ActionAbort {
		return "abort"
	}
	return "evaluate"
}

// WorkItem pairs a unit with its in-progress cursor. The same item is
// requeued after every batch so the cursor keeps its position.
type WorkItem struct {
	Priority int // ordering only
	Action   Action
	Unit     unit.Unit
	Cases    unit.Cursor

	index int // O índice do item na heap.
}

// itemHeap implementa heap.Interface e guarda WorkItems.
type itemHeap []*WorkItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	return h[i].Priority < h[j].Priority
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push adiciona um item à heap.
func (h *itemHeap) Push(x interface{}) {
	item := x.(*WorkItem)
	item.index = len(*h)
	*h = append(*h, item)
}

// Pop remove e retorna o item de menor prioridade.
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // Evita vazamento de memória
	item.index = -1 // Para segurança
	*h = old[0 : n-1]
	return item
}

// WorkQueue is a thread-safe priority queue ordered by ascending priority.
// Order among equal priorities is unspecified. It tracks unfinished items
// so Join returns once every Put has had a matching TaskDone.
type WorkQueue struct {
	mu         sync.Mutex
	notEmpty   *sync.Cond
	allDone    *sync.Cond
	items      itemHeap
	unfinished int
}

// NewWorkQueue creates an empty WorkQueue.
func NewWorkQueue(capacity int) *WorkQueue {
	q := &WorkQueue{items: make(itemHeap, 0, capacity)}
	heap.Init(&q.items)
	q.notEmpty = sync.NewCond(&q.mu)
	q.allDone = sync.NewCond(&q.mu)
	return q
}

// Put adds an item.
func (q *WorkQueue) Put(item *WorkItem) {
	q.mu.Lock()
	heap.Push(&q.items, item)
	q.unfinished++
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// TryGet pops the most urgent item without blocking.
func (q *WorkQueue) TryGet() (*WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*WorkItem), true
}

// Get pops the most urgent item, blocking until one is available or ctx is done.
func (q *WorkQueue) Get(ctx context.Context) (*WorkItem, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.notEmpty.Wait()
	}
	return heap.Pop(&q.items).(*WorkItem), nil
}

// TaskDone marks one previously fetched item as fully processed.
func (q *WorkQueue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.unfinished--
	if q.unfinished < 0 {
		panic("core: WorkQueue.TaskDone called more times than Put")
	}
	if q.unfinished == 0 {
		q.allDone.Broadcast()
	}
}

// Join blocks until every item put has been marked done.
func (q *WorkQueue) Join() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.unfinished > 0 {
		q.allDone.Wait()
	}
}

// Len returns the number of queued items.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Unfinished returns the number of items put but not yet marked done.
func (q *WorkQueue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}
