package fabric

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tdoageoloc/pkg/signal"
)

// BackpressurePolicy selects what happens when a submission would push the
// queue past its configured maximum (§4.4).
type BackpressurePolicy int

const (
	BackpressureBlock BackpressurePolicy = iota
	BackpressureDropOldest
	BackpressureDropLowestPriority
	BackpressureDropNew
	BackpressureExpandQueue
)

// Config configures a WorkerPool.
type Config struct {
	Workers      int
	MaxQueueSize int
	Backpressure BackpressurePolicy
}

// DefaultConfig sizes the pool at hardware concurrency, falling back to 4
// workers when that cannot be determined (§5).
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 4
	}
	return Config{Workers: workers, MaxQueueSize: 1000, Backpressure: BackpressureBlock}
}

// Stats is a point-in-time snapshot of pool activity (§4.4).
type Stats struct {
	TotalProcessed      int64
	TotalDropped        int64
	PriorityCounts      map[Priority]int64
	TotalProcessingTime time.Duration
	MaxProcessingTime   time.Duration
	CurrentQueueDepth   int
	PeakQueueDepth      int
}

// WorkerPool is the priority-scheduled worker pool at the core of the
// processing fabric. One shared mutex protects the task queue; one
// condition variable wakes workers on enqueue or shutdown, a second signals
// queue-has-space for blocking backpressure (§5).
type WorkerPool struct {
	cfg    Config
	logger logrus.FieldLogger

	mu           sync.Mutex
	notEmpty     *sync.Cond
	spaceAvail   *sync.Cond
	queue        taskQueue
	byID         map[string]*queuedTask
	shuttingDown bool
	stats        Stats
	wg           sync.WaitGroup
}

// New constructs a WorkerPool and starts cfg.Workers worker goroutines. A
// Workers value of 0 starts no workers; submitted tasks then only ever
// drain via Shutdown, which is useful for exercising queue/backpressure
// behavior deterministically in tests.
func New(cfg Config, logger logrus.FieldLogger) *WorkerPool {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &WorkerPool{
		cfg:    cfg,
		logger: logger,
		byID:   make(map[string]*queuedTask),
		stats:  Stats{PriorityCounts: make(map[Priority]int64)},
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.spaceAvail = sync.NewCond(&p.mu)
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p
}

// Submit enqueues a new task and returns its result handle. The task id is
// generated; use SubmitTask to supply one explicitly (e.g. for cancellation
// from a caller that assigned its own id ahead of time).
func (p *WorkerPool) Submit(signalID string, priority Priority, process ProcessFunc) *ResultHandle {
	return p.SubmitTask(Task{
		ID:        uuid.NewString(),
		SignalID:  signalID,
		Priority:  priority,
		CreatedAt: time.Now(),
		Process:   process,
	})
}

// SubmitTask enqueues a fully-formed task, applying the pool's backpressure
// policy if the queue is at capacity.
func (p *WorkerPool) SubmitTask(t Task) *ResultHandle {
	handle := newResultHandle()
	qt := &queuedTask{task: t, handle: handle}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shuttingDown {
		handle.fulfil(nil)
		return handle
	}

	if p.cfg.Backpressure != BackpressureExpandQueue {
		for p.queue.len() >= p.cfg.MaxQueueSize {
			switch p.cfg.Backpressure {
			case BackpressureBlock:
				p.spaceAvail.Wait()
				if p.shuttingDown {
					handle.fulfil(nil)
					return handle
				}
			case BackpressureDropOldest:
				p.evictLocked(p.queue.indexOfOldest())
			case BackpressureDropLowestPriority:
				p.evictLocked(p.queue.indexOfLowestPriority())
			case BackpressureDropNew:
				p.stats.TotalDropped++
				handle.fulfil(nil)
				return handle
			}
		}
	}

	p.queue.push(qt)
	p.byID[t.ID] = qt
	if p.queue.len() > p.stats.PeakQueueDepth {
		p.stats.PeakQueueDepth = p.queue.len()
	}
	p.notEmpty.Signal()
	return handle
}

// evictLocked removes the task at idx (if valid), fulfils its handle with
// nil, and counts the drop. Caller must hold p.mu.
func (p *WorkerPool) evictLocked(idx int) {
	if idx < 0 {
		return
	}
	evicted := p.queue.removeAt(idx)
	delete(p.byID, evicted.task.ID)
	p.stats.TotalDropped++
	evicted.handle.fulfil(nil)
	p.spaceAvail.Signal()
}

// Cancel removes a still-queued task, fulfilling its handle with nil.
// Tasks already being processed are not affected (§4.4).
func (p *WorkerPool) Cancel(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[taskID]; !ok {
		return false
	}
	qt := p.queue.removeByID(taskID)
	if qt == nil {
		return false
	}
	delete(p.byID, taskID)
	p.spaceAvail.Signal()
	qt.handle.fulfil(nil)
	return true
}

func (p *WorkerPool) workerLoop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.queue.len() == 0 && !p.shuttingDown {
			p.notEmpty.Wait()
		}
		if p.queue.len() == 0 && p.shuttingDown {
			p.mu.Unlock()
			return
		}
		qt := p.queue.popBest()
		delete(p.byID, qt.task.ID)
		p.spaceAvail.Signal()
		p.mu.Unlock()

		p.execute(qt)
	}
}

func (p *WorkerPool) execute(qt *queuedTask) {
	start := time.Now()
	result := p.invoke(qt.task)
	elapsed := time.Since(start)

	p.mu.Lock()
	p.stats.TotalProcessed++
	p.stats.PriorityCounts[qt.task.Priority]++
	p.stats.TotalProcessingTime += elapsed
	if elapsed > p.stats.MaxProcessingTime {
		p.stats.MaxProcessingTime = elapsed
	}
	p.mu.Unlock()

	qt.handle.fulfil(result)
}

// invoke runs a task's processing function, recovering from panics and
// logging errors so a misbehaving function cannot crash the worker (§4.4).
func (p *WorkerPool) invoke(t Task) (result *signal.Signal) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{"task_id": t.ID, "panic": r}).
				Error("fabric: processing function panicked, returning null result")
			result = nil
		}
	}()
	if t.Process == nil {
		return nil
	}
	out, err := t.Process()
	if err != nil {
		p.logger.WithFields(logrus.Fields{"task_id": t.ID, "error": err}).
			Warn("fabric: processing function returned an error")
		return nil
	}
	return out
}

// Shutdown stops accepting new work, fulfils every still-queued task's
// handle with nil, wakes any blocked submitters and workers, and waits for
// in-flight tasks to finish.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	p.shuttingDown = true
	for _, qt := range p.queue.tasks {
		qt.handle.fulfil(nil)
	}
	p.queue.tasks = nil
	p.byID = make(map[string]*queuedTask)
	p.mu.Unlock()

	p.notEmpty.Broadcast()
	p.spaceAvail.Broadcast()
	p.wg.Wait()
}

// Stats returns a snapshot of pool activity.
func (p *WorkerPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make(map[Priority]int64, len(p.stats.PriorityCounts))
	for k, v := range p.stats.PriorityCounts {
		counts[k] = v
	}
	s := p.stats
	s.PriorityCounts = counts
	s.CurrentQueueDepth = p.queue.len()
	return s
}

// ResetStats zeroes the processing counters without touching the queue.
func (p *WorkerPool) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{PriorityCounts: make(map[Priority]int64)}
}
