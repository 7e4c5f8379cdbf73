package fabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkQueued(priority Priority, createdAt time.Time) *queuedTask {
	return &queuedTask{task: Task{Priority: priority, CreatedAt: createdAt}, handle: newResultHandle()}
}

func TestTaskQueueOrdersByPriorityThenTimestamp(t *testing.T) {
	base := time.Now()
	var q taskQueue
	q.push(mkQueued(PriorityLow, base))
	q.push(mkQueued(PriorityCritical, base.Add(time.Second)))
	q.push(mkQueued(PriorityHigh, base.Add(2*time.Second)))
	q.push(mkQueued(PriorityHigh, base.Add(time.Millisecond)))

	first := q.popBest()
	assert.Equal(t, PriorityCritical, first.task.Priority)

	second := q.popBest()
	assert.Equal(t, PriorityHigh, second.task.Priority)
	assert.True(t, second.task.CreatedAt.Before(base.Add(time.Second)))
}

func TestTaskQueueIndexOfOldestIgnoresPriority(t *testing.T) {
	base := time.Now()
	var q taskQueue
	q.push(mkQueued(PriorityCritical, base.Add(time.Second)))
	q.push(mkQueued(PriorityLow, base))
	idx := q.indexOfOldest()
	assert.Equal(t, PriorityLow, q.tasks[idx].task.Priority)
}

func TestTaskQueueIndexOfLowestPriorityTieBreaksNewest(t *testing.T) {
	base := time.Now()
	var q taskQueue
	q.push(mkQueued(PriorityLow, base))
	q.push(mkQueued(PriorityLow, base.Add(time.Second)))
	q.push(mkQueued(PriorityHigh, base.Add(2*time.Second)))
	idx := q.indexOfLowestPriority()
	assert.Equal(t, PriorityLow, q.tasks[idx].task.Priority)
	assert.True(t, q.tasks[idx].task.CreatedAt.Equal(base.Add(time.Second)))
}
