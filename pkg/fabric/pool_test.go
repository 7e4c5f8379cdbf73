package fabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdoageoloc/pkg/signal"
)

func noopSignal() (*signal.Signal, error) {
	s, err := signal.New(signal.FormatOpaque, 0, 0)
	return s, err
}

// TestBackpressureDropOldest models spec.md §8 S5: queue cap 4, five tasks
// enqueued with increasing creation timestamps; the fifth submission must
// drop the oldest, not process any of them (zero workers).
func TestBackpressureDropOldest(t *testing.T) {
	pool := New(Config{Workers: 0, MaxQueueSize: 4, Backpressure: BackpressureDropOldest}, nil)

	base := time.Now()
	handles := make([]*ResultHandle, 5)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Millisecond)
		handles[i] = pool.SubmitTask(Task{
			ID:        string(rune('a' + i)),
			Priority:  PriorityNormal,
			CreatedAt: ts,
			Process:   noopSignal,
		})
	}

	select {
	case res, ok := <-handles[0].ch:
		assert.True(t, ok)
		assert.Nil(t, res)
	default:
		t.Fatal("expected oldest task's handle to be fulfilled with nil immediately")
	}

	stats := pool.Stats()
	assert.EqualValues(t, 1, stats.TotalDropped)
	assert.Equal(t, 4, stats.CurrentQueueDepth)

	pool.Shutdown()
}

func TestBackpressureDropNewRejectsLatestSubmission(t *testing.T) {
	pool := New(Config{Workers: 0, MaxQueueSize: 1, Backpressure: BackpressureDropNew}, nil)
	_ = pool.SubmitTask(Task{ID: "first", Priority: PriorityNormal, CreatedAt: time.Now(), Process: noopSignal})
	second := pool.SubmitTask(Task{ID: "second", Priority: PriorityNormal, CreatedAt: time.Now(), Process: noopSignal})

	result := second.Wait()
	assert.Nil(t, result)
	assert.EqualValues(t, 1, pool.Stats().TotalDropped)
	pool.Shutdown()
}

func TestSubmitAndProcessFulfillsHandle(t *testing.T) {
	pool := New(Config{Workers: 2, MaxQueueSize: 10, Backpressure: BackpressureBlock}, nil)
	defer pool.Shutdown()

	handle := pool.Submit("sig-1", PriorityHigh, func() (*signal.Signal, error) {
		return signal.New(signal.FormatComplexF32, 4, 32)
	})
	result := handle.Wait()
	require.NotNil(t, result)
	assert.Equal(t, 4, result.SampleCount())
}

func TestProcessFunctionErrorYieldsNullResult(t *testing.T) {
	pool := New(Config{Workers: 1, MaxQueueSize: 10, Backpressure: BackpressureBlock}, nil)
	defer pool.Shutdown()

	handle := pool.Submit("sig-2", PriorityNormal, func() (*signal.Signal, error) {
		return nil, assertErr{}
	})
	assert.Nil(t, handle.Wait())
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestProcessFunctionPanicYieldsNullResultAndWorkerSurvives(t *testing.T) {
	pool := New(Config{Workers: 1, MaxQueueSize: 10, Backpressure: BackpressureBlock}, nil)
	defer pool.Shutdown()

	h1 := pool.Submit("sig-3", PriorityNormal, func() (*signal.Signal, error) {
		panic("processing exploded")
	})
	assert.Nil(t, h1.Wait())

	h2 := pool.Submit("sig-4", PriorityNormal, func() (*signal.Signal, error) {
		return signal.New(signal.FormatComplexI8, 2, 4)
	})
	require.NotNil(t, h2.Wait())
}

func TestCancelRemovesQueuedTask(t *testing.T) {
	pool := New(Config{Workers: 0, MaxQueueSize: 10, Backpressure: BackpressureBlock}, nil)
	handle := pool.SubmitTask(Task{ID: "cancel-me", Priority: PriorityNormal, CreatedAt: time.Now(), Process: noopSignal})

	assert.True(t, pool.Cancel("cancel-me"))
	assert.Nil(t, handle.Wait())
	assert.False(t, pool.Cancel("cancel-me"))
	pool.Shutdown()
}

func TestShutdownFulfillsQueuedTasksWithNil(t *testing.T) {
	pool := New(Config{Workers: 0, MaxQueueSize: 10, Backpressure: BackpressureBlock}, nil)
	h := pool.SubmitTask(Task{ID: "stuck", Priority: PriorityNormal, CreatedAt: time.Now(), Process: noopSignal})
	pool.Shutdown()
	assert.Nil(t, h.Wait())

	late := pool.SubmitTask(Task{ID: "late", Priority: PriorityNormal, CreatedAt: time.Now(), Process: noopSignal})
	assert.Nil(t, late.Wait())
}
