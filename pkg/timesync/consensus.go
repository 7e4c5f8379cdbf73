package timesync

// ConsensusStrategy decides what to do with an incoming consensus proposal
// or vote. The protocol only guarantees that InitiateConsensus begins a
// round and that proposals/votes are exchanged over the wire; the actual
// voting rule is left to the implementation (§9's open question on
// consensus semantics — no built-in rule is provided here).
type ConsensusStrategy interface {
	// Propose is called to build the payload for a round this node starts.
	Propose() []byte
	// HandleProposal is called when a ConsensusProposal arrives from
	// proposerID. It returns the vote payload to send back, and whether a
	// vote should be cast at all.
	HandleProposal(proposerID string, payload []byte) (votePayload []byte, cast bool)
	// HandleVote is called when a ConsensusVote arrives from voterID. It
	// returns whether this round has concluded.
	HandleVote(voterID string, payload []byte) (decided bool)
}

// NoopConsensus casts no votes and never concludes a round; it lets
// InitiateConsensus and the message plumbing be exercised without
// committing to a voting rule.
type NoopConsensus struct{}

func (NoopConsensus) Propose() []byte { return nil }
func (NoopConsensus) HandleProposal(string, []byte) ([]byte, bool) { return nil, false }
func (NoopConsensus) HandleVote(string, []byte) bool { return false }
