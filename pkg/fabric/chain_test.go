package fabric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdoageoloc/pkg/signal"
)

// gainComponent clones its input and sets a tag on the copy; it exists
// purely to give Process something observable to check.
type gainComponent struct {
	id      string
	enabled bool
	calls   int
	tag     string
}

func newGainComponent(id, tag string) *gainComponent {
	return &gainComponent{id: id, enabled: true, tag: tag}
}

func (g *gainComponent) ID() string { return g.id }
func (g *gainComponent) Initialize(ComponentConfig) error { return nil }
func (g *gainComponent) Reset()              { g.calls = 0 }
func (g *gainComponent) Enabled() bool       { return g.enabled }
func (g *gainComponent) SetEnabled(e bool)   { g.enabled = e }

func (g *gainComponent) Process(in *signal.Signal) (*signal.Signal, error) {
	g.calls++
	out := in.Clone()
	out.SetTag(g.tag, "applied")
	return out, nil
}

func mustSignal(t *testing.T) *signal.Signal {
	t.Helper()
	s, err := signal.New(signal.FormatOpaque, 0, 0)
	require.NoError(t, err)
	return s
}

func TestChainConnectRejectsCycle(t *testing.T) {
	c := NewChain("test")
	a, b := newGainComponent("a", "a"), newGainComponent("b", "b")
	require.NoError(t, c.AddComponent(a))
	require.NoError(t, c.AddComponent(b))
	require.NoError(t, c.Connect("a", "b", ""))

	err := c.Connect("b", "a", "")
	assert.Error(t, err)
	assert.Len(t, c.Edges(), 1, "rejected edge must not be left behind")
	assert.False(t, c.HasCycles())
}

func TestChainProcessInvokesEachComponentOnce(t *testing.T) {
	c := NewChain("test")
	a, b, d := newGainComponent("a", "a"), newGainComponent("b", "b"), newGainComponent("d", "d")
	require.NoError(t, c.AddComponent(a))
	require.NoError(t, c.AddComponent(b))
	require.NoError(t, c.AddComponent(d))
	require.NoError(t, c.Connect("a", "b", ""))
	require.NoError(t, c.Connect("a", "d", ""))
	require.NoError(t, c.Connect("b", "d", ""))

	out, err := c.Process(mustSignal(t), "")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, d.calls, "diamond-shaped DAG must invoke the shared sink exactly once")
}

func TestChainDisabledComponentForwardsInputUnchanged(t *testing.T) {
	c := NewChain("test")
	a := newGainComponent("a", "a")
	a.SetEnabled(false)
	require.NoError(t, c.AddComponent(a))

	in := mustSignal(t)
	out, err := c.Process(in, "a")
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.Equal(t, 0, a.calls)
}

type failingComponent struct{ id string }

func (f failingComponent) ID() string                             { return f.id }
func (f failingComponent) Initialize(ComponentConfig) error       { return nil }
func (f failingComponent) Reset()                                 {}
func (f failingComponent) Enabled() bool                          { return true }
func (f failingComponent) SetEnabled(bool)                        {}
func (f failingComponent) Process(*signal.Signal) (*signal.Signal, error) {
	return nil, nil
}

func TestChainComponentFailureAbortsTraversal(t *testing.T) {
	c := NewChain("test")
	fail := failingComponent{id: "fail"}
	next := newGainComponent("next", "next")
	require.NoError(t, c.AddComponent(fail))
	require.NoError(t, c.AddComponent(next))
	require.NoError(t, c.Connect("fail", "next", ""))

	out, err := c.Process(mustSignal(t), "")
	assert.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 0, next.calls)
}

func TestChainRemoveComponentDropsItsEdges(t *testing.T) {
	c := NewChain("test")
	a, b := newGainComponent("a", "a"), newGainComponent("b", "b")
	require.NoError(t, c.AddComponent(a))
	require.NoError(t, c.AddComponent(b))
	require.NoError(t, c.Connect("a", "b", ""))

	require.NoError(t, c.RemoveComponent("b"))
	assert.Empty(t, c.Edges())
	assert.Equal(t, []string{"a"}, c.SourceIDs())
}
