package timesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProtocol(t *testing.T, bus *InMemoryBus, nodeID string) *Protocol {
	t.Helper()
	cfg := ProtocolConfig{
		NodeID:            nodeID,
		ReferenceInterval: 20 * time.Millisecond,
		StatusInterval:    40 * time.Millisecond,
		DegradedAfter:     150 * time.Millisecond,
	}
	p := New(cfg, NewInMemoryTransport(bus), nil, nil)
	require.NoError(t, p.Start())
	t.Cleanup(func() { require.NoError(t, p.Stop()) })
	return p
}

func TestProtocolBroadcastsReferenceAndStatus(t *testing.T) {
	bus := NewInMemoryBus()
	a := newTestProtocol(t, bus, "node-a")
	b := newTestProtocol(t, bus, "node-b")

	a.SetLocalReference(TimeReference{TimestampNS: 123, UncertaintyNS: 10, Source: SourceGPS, Status: StatusSynchronized})

	require.Eventually(t, func() bool {
		ref, ok := b.PeerReference("node-a")
		return ok && ref.TimestampNS == 123 && ref.Source == SourceGPS
	}, time.Second, 5*time.Millisecond)
}

func TestProtocolAnswersSyncRequest(t *testing.T) {
	bus := NewInMemoryBus()
	a := newTestProtocol(t, bus, "node-a")
	b := newTestProtocol(t, bus, "node-b")

	a.SetLocalReference(TimeReference{TimestampNS: 999, Status: StatusHoldover})
	require.NoError(t, b.RequestSync("node-a"))

	require.Eventually(t, func() bool {
		ref, ok := b.PeerReference("node-a")
		return ok && ref.TimestampNS == 999
	}, time.Second, 5*time.Millisecond, "node-b should receive node-a's reference in the sync response")
}

func TestProtocolDetectsDegradedPeer(t *testing.T) {
	bus := NewInMemoryBus()
	a := newTestProtocol(t, bus, "node-a")

	var degraded []string
	a.OnPeerDegraded(func(peerID string) { degraded = append(degraded, peerID) })

	require.NoError(t, a.RequestSync("ghost-peer"))
	bus.mu.Lock()
	_, exists := bus.nodes["ghost-peer"]
	bus.mu.Unlock()
	assert.False(t, exists)

	// Touch node-b via a sync request it answers; node-b sends nothing else,
	// so it ages past DegradedAfter.
	b := NewInMemoryTransport(bus)
	require.NoError(t, b.Initialize("node-b"))
	require.NoError(t, b.Start())
	b.RegisterMessageCallback(func(msg Message) {
		if msg.Type == MsgSyncRequest {
			_ = b.Send(Message{Type: MsgSyncResponse, SourceID: "node-b", DestID: msg.SourceID, Payload: encodeTimeReference(TimeReference{})})
		}
	})
	require.NoError(t, a.RequestSync("node-b"))

	require.Eventually(t, func() bool {
		_, ok := a.PeerReference("node-b")
		return ok
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, id := range degraded {
			if id == "node-b" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "node-b should be flagged degraded after it stops answering")
}

func TestInitiateConsensusDeliversProposal(t *testing.T) {
	bus := NewInMemoryBus()
	a := newTestProtocol(t, bus, "node-a")

	called := make(chan struct{}, 1)
	b := New(ProtocolConfig{NodeID: "node-b", ReferenceInterval: time.Hour, StatusInterval: time.Hour},
		NewInMemoryTransport(bus), stubConsensus{onProposal: called}, nil)
	require.NoError(t, b.Start())
	t.Cleanup(func() { require.NoError(t, b.Stop()) })

	roundID, err := a.InitiateConsensus()
	require.NoError(t, err)
	require.NotEmpty(t, roundID)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("node-b never received the consensus proposal")
	}
}

type stubConsensus struct {
	onProposal chan struct{}
}

func (s stubConsensus) Propose() []byte { return []byte("propose") }
func (s stubConsensus) HandleProposal(string, []byte) ([]byte, bool) {
	select {
	case s.onProposal <- struct{}{}:
	default:
	}
	return []byte("vote"), true
}
func (s stubConsensus) HandleVote(string, []byte) bool { return false }
