package fabric

import (
	"sort"
	"strconv"
	"sync"

	"tdoageoloc/internal/errs"
	"tdoageoloc/pkg/signal"
)

// ComponentConfig is the stringly-typed configuration map processing
// components are initialized with (§9's design note: kept as a map for
// dynamic composition, with typed accessors rather than bespoke per-type
// config structs).
type ComponentConfig map[string]string

func (c ComponentConfig) String(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

func (c ComponentConfig) Int(key string, def int) int {
	if v, ok := c[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (c ComponentConfig) Float(key string, def float64) float64 {
	if v, ok := c[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (c ComponentConfig) Bool(key string, def bool) bool {
	if v, ok := c[key]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Component is a node in a processing chain (§4.4). Implementations must be
// safe to call Process concurrently with Enabled/SetEnabled.
type Component interface {
	ID() string
	Initialize(cfg ComponentConfig) error
	Process(in *signal.Signal) (*signal.Signal, error)
	Reset()
	Enabled() bool
	SetEnabled(bool)
}

// Edge connects two components in a chain, with an optional label.
type Edge struct {
	From, To, Label string
}

// Chain is a DAG of processing components with O(1) lookup by id (§4.4).
// Edge insertion that would introduce a cycle is rejected and rolled back;
// Process runs a memoized DFS so each component executes at most once per
// invocation.
type Chain struct {
	mu         sync.Mutex
	name       string
	components map[string]Component
	order      []string // insertion order, for deterministic source listing
	outgoing   map[string][]string
	incoming   map[string][]string
	edges      []Edge
}

// NewChain constructs an empty, named processing chain.
func NewChain(name string) *Chain {
	return &Chain{
		name:       name,
		components: make(map[string]Component),
		outgoing:   make(map[string][]string),
		incoming:   make(map[string][]string),
	}
}

func (c *Chain) Name() string { return c.name }

// AddComponent registers a component under its own id.
func (c *Chain) AddComponent(comp Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := comp.ID()
	if _, exists := c.components[id]; exists {
		return errs.New(errs.Configuration, "fabric.Chain.AddComponent", "component id already present: "+id)
	}
	c.components[id] = comp
	c.order = append(c.order, id)
	return nil
}

// RemoveComponent deletes a component and every edge touching it.
func (c *Chain) RemoveComponent(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.components[id]; !ok {
		return errs.New(errs.Precondition, "fabric.Chain.RemoveComponent", "unknown component: "+id)
	}
	delete(c.components, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	delete(c.outgoing, id)
	delete(c.incoming, id)
	for other, outs := range c.outgoing {
		c.outgoing[other] = removeString(outs, id)
	}
	for other, ins := range c.incoming {
		c.incoming[other] = removeString(ins, id)
	}
	filtered := c.edges[:0]
	for _, e := range c.edges {
		if e.From != id && e.To != id {
			filtered = append(filtered, e)
		}
	}
	c.edges = filtered
	return nil
}

// Connect adds a labelled edge from -> to. If the edge would introduce a
// cycle, it is rolled back and an error is returned (§8 invariant 3).
func (c *Chain) Connect(from, to, label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.components[from]; !ok {
		return errs.New(errs.Precondition, "fabric.Chain.Connect", "unknown source component: "+from)
	}
	if _, ok := c.components[to]; !ok {
		return errs.New(errs.Precondition, "fabric.Chain.Connect", "unknown target component: "+to)
	}

	c.outgoing[from] = append(c.outgoing[from], to)
	c.incoming[to] = append(c.incoming[to], from)
	c.edges = append(c.edges, Edge{From: from, To: to, Label: label})

	if c.hasCycleLocked() {
		c.outgoing[from] = c.outgoing[from][:len(c.outgoing[from])-1]
		c.incoming[to] = c.incoming[to][:len(c.incoming[to])-1]
		c.edges = c.edges[:len(c.edges)-1]
		return errs.New(errs.Configuration, "fabric.Chain.Connect", "edge would introduce a cycle: "+from+" -> "+to)
	}
	return nil
}

// Disconnect removes a specific edge, if present.
func (c *Chain) Disconnect(from, to string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := false
	filtered := c.edges[:0]
	for _, e := range c.edges {
		if e.From == from && e.To == to && !removed {
			removed = true
			continue
		}
		filtered = append(filtered, e)
	}
	if !removed {
		return false
	}
	c.edges = filtered
	c.outgoing[from] = removeString(c.outgoing[from], to)
	c.incoming[to] = removeString(c.incoming[to], from)
	return true
}

func (c *Chain) hasCycleLocked() bool {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(c.components))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range c.outgoing[id] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, id := range c.order {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// HasCycles reports whether the current topology contains a cycle. Normal
// use of Connect never allows this to become true; it is exposed for
// validation/tests.
func (c *Chain) HasCycles() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasCycleLocked()
}

// Component returns a registered component by id.
func (c *Chain) Component(id string) (Component, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	comp, ok := c.components[id]
	return comp, ok
}

// Edges returns a copy of every edge currently in the chain.
func (c *Chain) Edges() []Edge {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Edge, len(c.edges))
	copy(out, c.edges)
	return out
}

// SourceIDs returns components with no incoming edges, in insertion order.
func (c *Chain) SourceIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, id := range c.order {
		if len(c.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// SinkIDs returns components with no outgoing edges, in insertion order.
func (c *Chain) SinkIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, id := range c.order {
		if len(c.outgoing[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// TopologicalOrder returns a topological ordering of the components,
// breaking ties lexicographically by component id for a stable result (§3: "a unique
// topological order exists" is the acyclicity invariant; ties among
// otherwise-unordered nodes are broken deterministically here).
func (c *Chain) TopologicalOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	indeg := make(map[string]int, len(c.components))
	for _, id := range c.order {
		indeg[id] = len(c.incoming[id])
	}
	var ready []string
	for _, id := range c.order {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var out []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		var newlyReady []string
		for _, next := range c.outgoing[id] {
			indeg[next]--
			if indeg[next] == 0 {
				newlyReady = append(newlyReady, next)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
		sort.Strings(ready)
	}
	return out
}

// Process runs signal through the chain starting at startID, or at every
// source component if startID is empty. Each component executes at most
// once: results are memoized by component id, and disabled components
// forward their input unchanged. A component failure (error or nil output)
// aborts the traversal and returns nil (§4.4, §8 invariant... component
// failure aborts and returns null).
func (c *Chain) Process(in *signal.Signal, startID string) (*signal.Signal, error) {
	c.mu.Lock()
	if len(c.components) == 0 {
		c.mu.Unlock()
		return in, nil
	}
	starts := []string{startID}
	if startID == "" {
		starts = nil
		for _, id := range c.order {
			if len(c.incoming[id]) == 0 {
				starts = append(starts, id)
			}
		}
		if len(starts) == 0 {
			starts = []string{c.order[0]}
		}
	} else if _, ok := c.components[startID]; !ok {
		c.mu.Unlock()
		return nil, errs.New(errs.Precondition, "fabric.Chain.Process", "unknown start component: "+startID)
	}
	components := c.components
	outgoing := c.outgoing
	c.mu.Unlock()

	memo := make(map[string]*signal.Signal)

	var visit func(id string, input *signal.Signal) (*signal.Signal, error)
	visit = func(id string, input *signal.Signal) (*signal.Signal, error) {
		if out, done := memo[id]; done {
			return out, nil
		}
		comp := components[id]

		out := input
		if comp.Enabled() {
			var err error
			out, err = comp.Process(input)
			if err != nil {
				return nil, err
			}
			if out == nil {
				return nil, nil
			}
		}
		memo[id] = out

		result := out
		for _, next := range outgoing[id] {
			var err error
			result, err = visit(next, result)
			if err != nil || result == nil {
				return result, err
			}
		}
		return result, nil
	}

	result := in
	for _, start := range starts {
		var err error
		result, err = visit(start, result)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
	}
	return result, nil
}

// Reset resets every component's internal state.
func (c *Chain) Reset() {
	c.mu.Lock()
	comps := make([]Component, 0, len(c.components))
	for _, id := range c.order {
		comps = append(comps, c.components[id])
	}
	c.mu.Unlock()
	for _, comp := range comps {
		comp.Reset()
	}
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
