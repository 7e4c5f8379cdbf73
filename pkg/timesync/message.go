// Package timesync implements the time-reference protocol (C2): periodic
// broadcast of a node's time reference and status, point-to-point sync and
// status exchange, and a pluggable consensus hook for degraded-GPS
// conditions, over a pluggable transport.
//
// Grounded on original_source/src/time_sync/time_reference_protocol.h/.cpp,
// re-expressed with an explicit Transport interface (UDP and in-memory
// implementations) instead of the original's shared_ptr<ProtocolTransport>,
// and the wire format of spec.md §6 in place of the original's non-portable
// memcpy-of-struct payload encoding (§9's design note).
package timesync

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MessageType identifies a protocol message's purpose. Values match the
// wire format's msg_type byte (§6).
type MessageType uint8

const (
	MsgTimeReference MessageType = iota
	MsgSyncRequest
	MsgSyncResponse
	MsgStatusUpdate
	MsgStatusRequest
	MsgStatusResponse
	MsgConsensusProposal
	MsgConsensusVote
	MsgAlert
)

func (t MessageType) String() string {
	switch t {
	case MsgTimeReference:
		return "time-reference"
	case MsgSyncRequest:
		return "sync-request"
	case MsgSyncResponse:
		return "sync-response"
	case MsgStatusUpdate:
		return "status-update"
	case MsgStatusRequest:
		return "status-request"
	case MsgStatusResponse:
		return "status-response"
	case MsgConsensusProposal:
		return "consensus-proposal"
	case MsgConsensusVote:
		return "consensus-vote"
	case MsgAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// Message is one protocol message (§3's wire message, §6's layout).
type Message struct {
	Type        MessageType
	SourceID    string
	DestID      string // empty means broadcast
	TimestampNS int64
	Sequence    uint32
	Payload     []byte
	Signature   []byte // reserved, unused
}

// EncodeMessage serializes m per §6's little-endian wire layout.
func EncodeMessage(m Message) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Type))
	writeLenPrefixed(&buf, []byte(m.SourceID))
	writeLenPrefixed(&buf, []byte(m.DestID))
	binary.Write(&buf, binary.LittleEndian, uint64(m.TimestampNS))
	binary.Write(&buf, binary.LittleEndian, m.Sequence)
	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Payload)))
	buf.Write(m.Payload)
	writeLenPrefixed(&buf, m.Signature)
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint16(len(b)))
	buf.Write(b)
}

// DecodeMessage parses a message previously produced by EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	var m Message

	msgType, err := r.ReadByte()
	if err != nil {
		return Message{}, fmt.Errorf("timesync: truncated message type: %w", err)
	}
	m.Type = MessageType(msgType)

	srcID, err := readLenPrefixed(r)
	if err != nil {
		return Message{}, fmt.Errorf("timesync: reading source id: %w", err)
	}
	m.SourceID = string(srcID)

	dstID, err := readLenPrefixed(r)
	if err != nil {
		return Message{}, fmt.Errorf("timesync: reading dest id: %w", err)
	}
	m.DestID = string(dstID)

	var ts uint64
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return Message{}, fmt.Errorf("timesync: reading timestamp: %w", err)
	}
	m.TimestampNS = int64(ts)

	if err := binary.Read(r, binary.LittleEndian, &m.Sequence); err != nil {
		return Message{}, fmt.Errorf("timesync: reading sequence: %w", err)
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return Message{}, fmt.Errorf("timesync: reading payload length: %w", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := readFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("timesync: reading payload: %w", err)
	}
	m.Payload = payload

	sig, err := readLenPrefixed(r)
	if err != nil {
		return Message{}, fmt.Errorf("timesync: reading signature: %w", err)
	}
	m.Signature = sig

	return m, nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := r.Read(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, fmt.Errorf("short read: got %d want %d", n, len(b))
	}
	return n, nil
}
