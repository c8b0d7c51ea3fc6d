package stream

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestBinaryChunkRoundTrip(t *testing.T) {
	id := json.RawMessage(`"req-7"`)
	payload := []byte{0x00, 0x01, 0xFF, 0xFE, 0x0A}

	frame, err := EncodeBinaryChunk(id, 3, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	gotID, gotSeq, gotPayload, err := DecodeBinaryChunk(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(gotID) != string(id) {
		t.Errorf("id = %s, want %s", gotID, id)
	}
	if gotSeq != 3 {
		t.Errorf("seq = %d, want 3", gotSeq)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("payload = %v, want %v", gotPayload, payload)
	}
}

func TestDecodeBinaryChunk_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "too short", frame: []byte{1, 0}},
		{name: "wrong version", frame: []byte{9, 0, 0, 0, 0}},
		{name: "truncated header", frame: []byte{1, 0, 0, 0, 99, '{'}},
		{name: "invalid header json", frame: append([]byte{1, 0, 0, 0, 3}, []byte("{x}")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := DecodeBinaryChunk(tt.frame); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestIsControlFrame(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "start frame", input: `{"type":"start","id":"1"}`, want: true},
		{name: "chunk frame", input: `{"type":"chunk","id":"1","seq":0,"data":"x"}`, want: true},
		{name: "done frame", input: `{"type":"done","id":"1"}`, want: true},
		{name: "fail frame", input: `{"type":"fail","id":"1"}`, want: true},
		{name: "jsonrpc request", input: `{"jsonrpc":"2.0","id":"1","method":"ping"}`, want: false},
		{name: "unknown type value", input: `{"type":"bogus"}`, want: false},
		{name: "not json", input: `nope`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsControlFrame([]byte(tt.input)); got != tt.want {
				t.Errorf("IsControlFrame(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
