package timesync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// SourceTag identifies what disciplined the clock behind a TimeReference
// (§3).
type SourceTag uint8

const (
	SourceNone SourceTag = iota
	SourceGPS
	SourcePTP
	SourceNTP
	SourceManual
	SourceLocalOscillator
)

func (s SourceTag) String() string {
	switch s {
	case SourceGPS:
		return "gps"
	case SourcePTP:
		return "ptp"
	case SourceNTP:
		return "ntp"
	case SourceManual:
		return "manual"
	case SourceLocalOscillator:
		return "local-oscillator"
	default:
		return "none"
	}
}

// StatusTag mirrors pkg/timebase.Status's values for wire exchange. It is
// redeclared here, rather than imported, so the protocol (C2) has no
// compile-time dependency on the time base (C1) — a node relays whatever
// status its local discipline reports without needing that package's types.
type StatusTag uint8

const (
	StatusUnknown StatusTag = iota
	StatusUnsynchronized
	StatusAcquiring
	StatusSynchronized
	StatusHoldover
	StatusError
)

func (s StatusTag) String() string {
	switch s {
	case StatusUnsynchronized:
		return "unsynchronized"
	case StatusAcquiring:
		return "acquiring"
	case StatusSynchronized:
		return "synchronized"
	case StatusHoldover:
		return "holdover"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// TimeReference is the wall-clock/monotonic snapshot a node broadcasts and
// ingests from peers (§3, §4.2's time-reference message).
type TimeReference struct {
	WallClock     time.Time
	TimestampNS   int64
	UncertaintyNS float64
	Source        SourceTag
	Status        StatusTag
}

// NodeStatus bundles a node's identity with its current time reference, for
// the protocol's periodic status-update message (§4.2).
type NodeStatus struct {
	NodeID    string
	Reference TimeReference
}

// encodeTimeReference serializes a TimeReference for use as a message
// payload. Explicit little-endian fields replace the original's
// memcpy-of-struct encoding per §9's portability note.
func encodeTimeReference(ref TimeReference) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, ref.WallClock.UnixNano())
	binary.Write(&buf, binary.LittleEndian, ref.TimestampNS)
	binary.Write(&buf, binary.LittleEndian, math.Float64bits(ref.UncertaintyNS))
	buf.WriteByte(byte(ref.Source))
	buf.WriteByte(byte(ref.Status))
	return buf.Bytes()
}

func decodeTimeReference(data []byte) (TimeReference, error) {
	r := bytes.NewReader(data)
	var wallNano, tsNS int64
	var uncertaintyBits uint64
	if err := binary.Read(r, binary.LittleEndian, &wallNano); err != nil {
		return TimeReference{}, fmt.Errorf("timesync: decoding time reference wall clock: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &tsNS); err != nil {
		return TimeReference{}, fmt.Errorf("timesync: decoding time reference timestamp: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &uncertaintyBits); err != nil {
		return TimeReference{}, fmt.Errorf("timesync: decoding time reference uncertainty: %w", err)
	}
	source, err := r.ReadByte()
	if err != nil {
		return TimeReference{}, fmt.Errorf("timesync: decoding time reference source: %w", err)
	}
	status, err := r.ReadByte()
	if err != nil {
		return TimeReference{}, fmt.Errorf("timesync: decoding time reference status: %w", err)
	}
	return TimeReference{
		WallClock:     time.Unix(0, wallNano).UTC(),
		TimestampNS:   tsNS,
		UncertaintyNS: math.Float64frombits(uncertaintyBits),
		Source:        SourceTag(source),
		Status:        StatusTag(status),
	}, nil
}

// encodeNodeStatus serializes a NodeStatus for the status-update/response
// messages.
func encodeNodeStatus(s NodeStatus) []byte {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(s.NodeID))
	buf.Write(encodeTimeReference(s.Reference))
	return buf.Bytes()
}

func decodeNodeStatus(data []byte) (NodeStatus, error) {
	r := bytes.NewReader(data)
	nodeID, err := readLenPrefixed(r)
	if err != nil {
		return NodeStatus{}, fmt.Errorf("timesync: decoding node status id: %w", err)
	}
	rest := make([]byte, r.Len())
	if _, err := r.Read(rest); err != nil && len(rest) > 0 {
		return NodeStatus{}, fmt.Errorf("timesync: decoding node status reference: %w", err)
	}
	ref, err := decodeTimeReference(rest)
	if err != nil {
		return NodeStatus{}, err
	}
	return NodeStatus{NodeID: string(nodeID), Reference: ref}, nil
}
