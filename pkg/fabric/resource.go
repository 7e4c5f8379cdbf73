package fabric

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tdoageoloc/internal/errs"
)

// Well-known resource kinds (§3). Custom resources are named freely.
const (
	ResourceCPU     = "cpu"
	ResourceMemory  = "memory"
	ResourceGPU     = "gpu"
	ResourceNetwork = "network"
	ResourceDisk    = "disk"
)

// Usage is the total/available/reserved/peak record for one resource kind.
type Usage struct {
	Total     float64
	Available float64
	Reserved  float64
	Peak      float64
	Unit      string
}

// UsagePercent reports the fraction of total currently in use, 0-100.
func (u Usage) UsagePercent() float64 {
	if u.Total <= 0 {
		return 0
	}
	return (u.Total - u.Available) / u.Total * 100
}

// Request asks for a bundle of resource kinds in specific amounts (§3).
type Request struct {
	ID           string
	Requirements map[string]float64
	Priority     Priority
	ClientID     string
	CreatedAt    time.Time
}

// Allocation is the outcome of a Request (§3).
type Allocation struct {
	ID          string
	RequestID   string
	Amounts     map[string]float64
	Success     bool
	ClientID    string
	Priority    Priority
	TimestampNS int64
}

// Pool tracks and allocates resources for the processing fabric (§4.4).
// Its own mutex protects all state; an allocation-available condition
// variable backs WaitForResources.
type Pool struct {
	mu         sync.Mutex
	avail      *sync.Cond
	resources  map[string]*Usage
	active     map[string]Allocation
	pending    []Request
	preemption bool
}

// NewPool constructs an empty resource pool. Use SetTotal to register each
// resource kind before allocating against it.
func NewPool() *Pool {
	p := &Pool{resources: make(map[string]*Usage), active: make(map[string]Allocation)}
	p.avail = sync.NewCond(&p.mu)
	return p
}

// SetTotal (re)registers a resource kind's total capacity. Existing
// reservations are preserved; available is recomputed as total - reserved.
func (p *Pool) SetTotal(kind string, total float64, unit string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.resources[kind]
	if !ok {
		u = &Usage{}
		p.resources[kind] = u
	}
	u.Total = total
	u.Unit = unit
	u.Available = total - u.Reserved
}

// Usage returns the current record for a resource kind.
func (p *Pool) Usage(kind string) (Usage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.resources[kind]
	if !ok {
		return Usage{}, false
	}
	return *u, true
}

// AllUsage snapshots every registered resource kind.
func (p *Pool) AllUsage() map[string]Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Usage, len(p.resources))
	for k, u := range p.resources {
		out[k] = *u
	}
	return out
}

// CanAllocate reports whether req fits within current availability, with no
// side effects.
func (p *Pool) CanAllocate(req Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fitsLocked(req)
}

func (p *Pool) fitsLocked(req Request) bool {
	for kind, amount := range req.Requirements {
		u, ok := p.resources[kind]
		if !ok || u.Available < amount {
			return false
		}
	}
	return true
}

// RequestAllocation attempts to satisfy req immediately. If it does not fit
// and preemption is enabled, lower-priority active allocations are released
// (lowest priority first, then oldest) until it does; otherwise the request
// is queued as pending and an unsuccessful allocation is returned.
func (p *Pool) RequestAllocation(req Request) Allocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked(req)
}

func (p *Pool) allocateLocked(req Request) Allocation {
	if !p.fitsLocked(req) {
		if p.preemption {
			p.tryPreemptLocked(req)
		}
		if !p.fitsLocked(req) {
			p.queuePendingLocked(req)
			return Allocation{ID: uuid.NewString(), RequestID: req.ID, Success: false, ClientID: req.ClientID, Priority: req.Priority}
		}
	}

	for kind, amount := range req.Requirements {
		u := p.resources[kind]
		u.Available -= amount
		u.Reserved += amount
		if u.Reserved > u.Peak {
			u.Peak = u.Reserved
		}
	}

	alloc := Allocation{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		Amounts:     cloneAmounts(req.Requirements),
		Success:     true,
		ClientID:    req.ClientID,
		Priority:    req.Priority,
		TimestampNS: time.Now().UnixNano(),
	}
	p.active[alloc.ID] = alloc
	p.removePendingLocked(req.ID)
	return alloc
}

// tryPreemptLocked releases active allocations with priority lower than
// req's, lowest priority first and then oldest, until req fits or no more
// candidates remain.
func (p *Pool) tryPreemptLocked(req Request) {
	for !p.fitsLocked(req) {
		victimID, ok := p.pickPreemptionVictimLocked(req.Priority)
		if !ok {
			return
		}
		p.releaseLocked(victimID)
	}
}

func (p *Pool) pickPreemptionVictimLocked(above Priority) (string, bool) {
	var victimID string
	var victim Allocation
	found := false
	for id, a := range p.active {
		if a.Priority >= above {
			continue
		}
		if !found || a.Priority < victim.Priority ||
			(a.Priority == victim.Priority && a.TimestampNS < victim.TimestampNS) {
			victimID, victim, found = id, a, true
		}
	}
	return victimID, found
}

// ReleaseAllocation restores the resources an allocation held.
func (p *Pool) ReleaseAllocation(allocationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(allocationID)
}

func (p *Pool) releaseLocked(allocationID string) bool {
	alloc, ok := p.active[allocationID]
	if !ok {
		return false
	}
	for kind, amount := range alloc.Amounts {
		u, ok := p.resources[kind]
		if !ok {
			continue
		}
		u.Reserved -= amount
		u.Available += amount
	}
	delete(p.active, allocationID)
	p.avail.Broadcast()
	return true
}

// WaitForResources blocks until req fits current availability or timeout
// elapses (timeout <= 0 waits indefinitely). Returns false on timeout.
func (p *Pool) WaitForResources(req Request, timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fitsLocked(req) {
		return true
	}
	if timeout <= 0 {
		for !p.fitsLocked(req) {
			p.avail.Wait()
		}
		return true
	}

	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	go func() {
		<-time.After(time.Until(deadline))
		p.mu.Lock()
		close(done)
		p.avail.Broadcast()
		p.mu.Unlock()
	}()
	for !p.fitsLocked(req) {
		select {
		case <-done:
			return p.fitsLocked(req)
		default:
		}
		p.avail.Wait()
	}
	return true
}

// SetPreemption toggles whether RequestAllocation may evict lower-priority
// allocations to satisfy a higher-priority request.
func (p *Pool) SetPreemption(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preemption = enabled
}

// ActiveAllocations snapshots currently held allocations.
func (p *Pool) ActiveAllocations() map[string]Allocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Allocation, len(p.active))
	for k, v := range p.active {
		out[k] = v
	}
	return out
}

// PendingRequests snapshots requests that did not fit and were not
// preempted into fitting, sorted highest-priority-first (§4.4).
func (p *Pool) PendingRequests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.pending))
	copy(out, p.pending)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (p *Pool) queuePendingLocked(req Request) {
	p.pending = append(p.pending, req)
}

func (p *Pool) removePendingLocked(requestID string) {
	for i, r := range p.pending {
		if r.ID == requestID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

func cloneAmounts(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewRequest builds a Request with a generated id and current timestamp,
// matching the errs precondition check other components use for validation.
func NewRequest(requirements map[string]float64, priority Priority, clientID string) (Request, error) {
	if len(requirements) == 0 {
		return Request{}, errs.New(errs.Precondition, "fabric.NewRequest", "request has no resource requirements")
	}
	return Request{
		ID:           uuid.NewString(),
		Requirements: cloneAmounts(requirements),
		Priority:     priority,
		ClientID:     clientID,
		CreatedAt:    time.Now(),
	}, nil
}
