package agent

import (
	"container/heap"
	"time"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

// queuedTask pairs a task with the callback to invoke on its final result.
type queuedTask struct {
	task     *task.AgentTask
	enqueued time.Time
	callback func(*task.AgentResult)
	index    int
}

// priorityQueue orders queuedTask entries by Priority ascending (CRITICAL=1
// runs before BACKGROUND=5), breaking ties by FIFO enqueue order. It
// implements container/heap.Interface, the same mechanism the rest of this
// codebase uses for its scheduling queues.
type priorityQueue []*queuedTask

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].task.Priority != pq[j].task.Priority {
		return pq[i].task.Priority < pq[j].task.Priority
	}
	return pq[i].enqueued.Before(pq[j].enqueued)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*queuedTask)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityQueue)(nil)
