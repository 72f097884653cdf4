package engine

import (
	"container/heap"
	"sync"

	"github.com/aretw0/pitcrew/pkg/domain"
)

type queuedTask struct {
	task domain.Task
	seq  uint64
}

// taskHeap orders by priority, highest first, then by insertion order.
type taskHeap []queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queuedTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queuedTask{}
	*h = old[:n-1]
	return item
}

// TaskQueue is a blocking priority queue shared by the worker pool.
// Pop parks the caller on a condition variable while the queue is empty.
type TaskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  taskHeap
	seq    uint64
	closed bool
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds a task and wakes one waiting worker.
// It returns false if the queue is closed.
func (q *TaskQueue) Push(task domain.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	task.Priority = task.Priority.Clamp()
	heap.Push(&q.items, queuedTask{task: task, seq: q.seq})
	q.seq++
	q.cond.Signal()
	return true
}

// Pop blocks until a task is available or the queue is closed.
func (q *TaskQueue) Pop() (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return domain.Task{}, false
	}
	return heap.Pop(&q.items).(queuedTask).task, true
}

// TryPop returns the next task without blocking.
func (q *TaskQueue) TryPop() (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		return domain.Task{}, false
	}
	return heap.Pop(&q.items).(queuedTask).task, true
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every waiting Pop. Queued tasks are discarded.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}
