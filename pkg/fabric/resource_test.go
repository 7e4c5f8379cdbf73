package fabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndReleaseRestoresInvariant(t *testing.T) {
	pool := NewPool()
	pool.SetTotal(ResourceCPU, 8, "cores")

	req, err := NewRequest(map[string]float64{ResourceCPU: 4}, PriorityNormal, "client-a")
	require.NoError(t, err)

	alloc := pool.RequestAllocation(req)
	require.True(t, alloc.Success)

	usage, ok := pool.Usage(ResourceCPU)
	require.True(t, ok)
	assert.Equal(t, 4.0, usage.Available)
	assert.Equal(t, 4.0, usage.Reserved)

	require.True(t, pool.ReleaseAllocation(alloc.ID))
	usage, _ = pool.Usage(ResourceCPU)
	assert.Equal(t, usage.Total, usage.Available+usage.Reserved)
	assert.Equal(t, 8.0, usage.Available)
	assert.Equal(t, 0.0, usage.Reserved)
}

func TestAllocationFailsWhenInsufficient(t *testing.T) {
	pool := NewPool()
	pool.SetTotal(ResourceMemory, 1024, "MB")
	req, err := NewRequest(map[string]float64{ResourceMemory: 2048}, PriorityNormal, "client-b")
	require.NoError(t, err)

	alloc := pool.RequestAllocation(req)
	assert.False(t, alloc.Success)

	pending := pool.PendingRequests()
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}

func TestPreemptionReleasesLowerPriorityFirst(t *testing.T) {
	pool := NewPool()
	pool.SetTotal(ResourceCPU, 4, "cores")
	pool.SetPreemption(true)

	lowReq, _ := NewRequest(map[string]float64{ResourceCPU: 4}, PriorityLow, "low-client")
	lowAlloc := pool.RequestAllocation(lowReq)
	require.True(t, lowAlloc.Success)

	highReq, _ := NewRequest(map[string]float64{ResourceCPU: 4}, PriorityCritical, "high-client")
	highAlloc := pool.RequestAllocation(highReq)
	require.True(t, highAlloc.Success)

	active := pool.ActiveAllocations()
	_, lowStillActive := active[lowAlloc.ID]
	assert.False(t, lowStillActive)
	_, highActive := active[highAlloc.ID]
	assert.True(t, highActive)
}

func TestWaitForResourcesUnblocksOnRelease(t *testing.T) {
	pool := NewPool()
	pool.SetTotal(ResourceCPU, 1, "cores")

	req1, _ := NewRequest(map[string]float64{ResourceCPU: 1}, PriorityNormal, "a")
	alloc1 := pool.RequestAllocation(req1)
	require.True(t, alloc1.Success)

	req2, _ := NewRequest(map[string]float64{ResourceCPU: 1}, PriorityNormal, "b")

	done := make(chan bool, 1)
	go func() {
		done <- pool.WaitForResources(req2, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, pool.ReleaseAllocation(alloc1.ID))

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForResources did not unblock after release")
	}
}

func TestWaitForResourcesTimesOut(t *testing.T) {
	pool := NewPool()
	pool.SetTotal(ResourceCPU, 1, "cores")
	req1, _ := NewRequest(map[string]float64{ResourceCPU: 1}, PriorityNormal, "a")
	pool.RequestAllocation(req1)

	req2, _ := NewRequest(map[string]float64{ResourceCPU: 1}, PriorityNormal, "b")
	ok := pool.WaitForResources(req2, 30*time.Millisecond)
	assert.False(t, ok)
}
