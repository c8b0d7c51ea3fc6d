package stream

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
)

// Frame types of the control sub-protocol.
const (
	FrameStart = "start"
	FrameChunk = "chunk"
	FrameDone  = "done"
	FrameFail  = "fail"
)

// Kind is the content kind of an exchange.
type Kind string

const (
	KindText   Kind = "text"
	KindBinary Kind = "binary"
)

// Direction flags of an exchange. Inbound is client-to-server.
type Direction uint8

const (
	Inbound Direction = 1 << iota
	Outbound
)

// Both enables client-to-server and server-to-client payload flow.
const Both = Inbound | Outbound

func (d Direction) strings() []string {
	var out []string
	if d&Inbound != 0 {
		out = append(out, "in")
	}
	if d&Outbound != 0 {
		out = append(out, "out")
	}
	return out
}

func directionFromStrings(in []string) Direction {
	var d Direction
	for _, s := range in {
		switch s {
		case "in":
			d |= Inbound
		case "out":
			d |= Outbound
		}
	}
	return d
}

// ControlFrame is one JSON control message of the sub-protocol. Text-kind
// payload chunks ride inline in chunk frames; binary chunks use binary
// WebSocket frames instead (see EncodeBinaryChunk).
type ControlFrame struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id"`
	Kind       Kind            `json:"kind,omitempty"`
	Directions []string        `json:"directions,omitempty"`
	Seq        *uint64         `json:"seq,omitempty"`
	Data       string          `json:"data,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Error      *protocol.Error `json:"error,omitempty"`
}

// IsControlFrame reports whether a text message on the connection belongs to
// the streaming sub-protocol rather than the JSON-RPC surface. Control
// frames are the only messages carrying a top-level "type" key.
func IsControlFrame(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	switch probe.Type {
	case FrameStart, FrameChunk, FrameDone, FrameFail:
		return true
	}
	return false
}

// Binary chunk frame layout:
//
//	[0]      version (binaryFrameVersion)
//	[1:5]    big-endian header length H
//	[5:5+H]  JSON header {"id":<raw id>,"seq":<n>}
//	[5+H:]   payload
const binaryFrameVersion = 1

type binaryHeader struct {
	ID  json.RawMessage `json:"id"`
	Seq uint64          `json:"seq"`
}

// EncodeBinaryChunk frames one binary payload chunk.
func EncodeBinaryChunk(id json.RawMessage, seq uint64, payload []byte) ([]byte, error) {
	header, err := json.Marshal(binaryHeader{ID: id, Seq: seq})
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 5+len(header)+len(payload))
	frame[0] = binaryFrameVersion
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(header)))
	copy(frame[5:], header)
	copy(frame[5+len(header):], payload)
	return frame, nil
}

// DecodeBinaryChunk parses a binary chunk frame into its correlation id,
// sequence number, and payload. The payload aliases the input slice.
func DecodeBinaryChunk(frame []byte) (id json.RawMessage, seq uint64, payload []byte, err error) {
	if len(frame) < 5 {
		return nil, 0, nil, fmt.Errorf("binary frame too short: %d bytes", len(frame))
	}
	if frame[0] != binaryFrameVersion {
		return nil, 0, nil, fmt.Errorf("unsupported binary frame version %d", frame[0])
	}

	hlen := binary.BigEndian.Uint32(frame[1:5])
	if uint64(len(frame)) < 5+uint64(hlen) {
		return nil, 0, nil, fmt.Errorf("binary frame header truncated")
	}

	var header binaryHeader
	if err := json.Unmarshal(frame[5:5+hlen], &header); err != nil {
		return nil, 0, nil, fmt.Errorf("binary frame header: %w", err)
	}

	return header.ID, header.Seq, frame[5+hlen:], nil
}
