package blivedm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
)

// rawPacket frames payload with an arbitrary version, as the server would.
func rawPacket(v ProtoVersion, op Operation, seq uint32, payload []byte) []byte {
	buf := EncodePacket(op, seq, payload)
	binary.BigEndian.PutUint16(buf[6:8], uint16(v))
	return buf
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("brotli write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("brotli close: %v", err)
	}
	return buf.Bytes()
}

func messageStream(n int) []byte {
	var buf []byte
	for i := 0; i < n; i++ {
		body := []byte(`{"cmd":"DANMU_MSG","n":` + string(rune('0'+i)) + `}`)
		buf = append(buf, rawPacket(ProtoPlain, OpMessage, uint32(i), body)...)
	}
	return buf
}

func TestEncodePacket_Header(t *testing.T) {
	buf := EncodePacket(OpAuth, 1, []byte(`{"roomid":1}`))

	if got := binary.BigEndian.Uint32(buf[0:4]); got != uint32(len(buf)) {
		t.Errorf("total_length = %d, want %d", got, len(buf))
	}
	if got := binary.BigEndian.Uint16(buf[4:6]); got != HeaderSize {
		t.Errorf("header_length = %d, want %d", got, HeaderSize)
	}
	if got := binary.BigEndian.Uint16(buf[6:8]); got != uint16(ProtoPlain) {
		t.Errorf("protocol_version = %d, want plain", got)
	}
	if got := binary.BigEndian.Uint32(buf[8:12]); got != uint32(OpAuth) {
		t.Errorf("operation = %d, want %d", got, OpAuth)
	}
	if got := binary.BigEndian.Uint32(buf[12:16]); got != 1 {
		t.Errorf("sequence_id = %d, want 1", got)
	}
}

func TestDecodePackets_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		seq     uint32
		payload []byte
	}{
		{"auth", OpAuth, 1, []byte(`{"uid":0,"roomid":21396545,"protover":3}`)},
		{"heartbeat empty payload", OpHeartbeat, 1, nil},
		{"message", OpMessage, 42, []byte(`{"cmd":"SEND_GIFT"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packets, err := DecodePackets(EncodePacket(tt.op, tt.seq, tt.payload))
			if err != nil {
				t.Fatalf("DecodePackets() error: %v", err)
			}
			if len(packets) != 1 {
				t.Fatalf("got %d packets, want 1", len(packets))
			}
			p := packets[0]
			if p.Operation != tt.op {
				t.Errorf("Operation = %s, want %s", p.Operation, tt.op)
			}
			if p.SequenceID != tt.seq {
				t.Errorf("SequenceID = %d, want %d", p.SequenceID, tt.seq)
			}
			if !bytes.Equal(p.Payload, tt.payload) {
				t.Errorf("Payload = %q, want %q", p.Payload, tt.payload)
			}
		})
	}
}

func TestDecodePackets_Concatenated(t *testing.T) {
	const k = 5
	packets, err := DecodePackets(messageStream(k))
	if err != nil {
		t.Fatalf("DecodePackets() error: %v", err)
	}
	if len(packets) != k {
		t.Fatalf("got %d packets, want %d", len(packets), k)
	}
	for i, p := range packets {
		if p.SequenceID != uint32(i) {
			t.Errorf("packet %d has SequenceID %d, order not preserved", i, p.SequenceID)
		}
	}
}

func TestDecodePackets_CompressedMatchesDirect(t *testing.T) {
	inner := messageStream(3)
	direct, err := DecodePackets(inner)
	if err != nil {
		t.Fatalf("DecodePackets(inner) error: %v", err)
	}

	for _, tc := range []struct {
		name string
		v    ProtoVersion
		body []byte
	}{
		{"zlib", ProtoZlib, zlibBytes(t, inner)},
		{"brotli", ProtoBrotli, brotliBytes(t, inner)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodePackets(rawPacket(tc.v, OpMessage, 0, tc.body))
			if err != nil {
				t.Fatalf("DecodePackets() error: %v", err)
			}
			if len(got) != len(direct) {
				t.Fatalf("got %d packets, want %d", len(got), len(direct))
			}
			for i := range got {
				if got[i].SequenceID != direct[i].SequenceID || !bytes.Equal(got[i].Payload, direct[i].Payload) {
					t.Errorf("packet %d differs from direct decode", i)
				}
			}
		})
	}
}

func TestDecodePackets_Truncated(t *testing.T) {
	buf := EncodePacket(OpMessage, 1, []byte(`{"cmd":"A"}`))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)+100))

	packets, err := DecodePackets(buf)
	if len(packets) != 0 {
		t.Errorf("got %d packets, want 0", len(packets))
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
	if pe.Code != ErrCodeTruncated {
		t.Errorf("Code = %s, want %s", pe.Code, ErrCodeTruncated)
	}
}

func TestDecodePackets_TruncatedTailKeepsEarlierPackets(t *testing.T) {
	buf := append(messageStream(2), EncodePacket(OpMessage, 9, []byte(`{"cmd":"X"}`))[:10]...)

	packets, err := DecodePackets(buf)
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want the 2 complete ones", len(packets))
	}
	if err == nil {
		t.Fatal("expected an error for the truncated tail")
	}
}

func TestDecodePackets_BadHeaderLength(t *testing.T) {
	buf := EncodePacket(OpMessage, 1, []byte(`{}`))
	binary.BigEndian.PutUint16(buf[4:6], 20)

	_, err := DecodePackets(buf)
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code != ErrCodeBadHeader {
		t.Fatalf("err = %v, want bad header ProtocolError", err)
	}
}

func TestDecodePackets_TotalLengthBelowHeader(t *testing.T) {
	buf := EncodePacket(OpMessage, 1, nil)
	binary.BigEndian.PutUint32(buf[0:4], 8)

	_, err := DecodePackets(buf)
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code != ErrCodeBadHeader {
		t.Fatalf("err = %v, want bad header ProtocolError", err)
	}
}

func TestDecodePackets_UnknownVersionSkipsOnlyThatPacket(t *testing.T) {
	var buf []byte
	buf = append(buf, rawPacket(ProtoPlain, OpMessage, 1, []byte(`{"cmd":"A"}`))...)
	buf = append(buf, rawPacket(ProtoVersion(9), OpMessage, 2, []byte(`???`))...)
	buf = append(buf, rawPacket(ProtoPlain, OpMessage, 3, []byte(`{"cmd":"B"}`))...)

	packets, err := DecodePackets(buf)
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if packets[0].SequenceID != 1 || packets[1].SequenceID != 3 {
		t.Errorf("got sequence ids %d,%d, want 1,3", packets[0].SequenceID, packets[1].SequenceID)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code != ErrCodeBadVersion {
		t.Fatalf("err = %v, want bad version ProtocolError", err)
	}
}

func TestDecodePackets_BadCompressionKeepsSiblings(t *testing.T) {
	var buf []byte
	buf = append(buf, rawPacket(ProtoPlain, OpMessage, 1, []byte(`{"cmd":"A"}`))...)
	buf = append(buf, rawPacket(ProtoZlib, OpMessage, 2, []byte("not zlib at all"))...)
	buf = append(buf, rawPacket(ProtoPlain, OpMessage, 3, []byte(`{"cmd":"B"}`))...)

	packets, err := DecodePackets(buf)
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2 siblings of the broken packet", len(packets))
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code != ErrCodeDecompress {
		t.Fatalf("err = %v, want decompress ProtocolError", err)
	}
}

func TestDecodePackets_Empty(t *testing.T) {
	packets, err := DecodePackets(nil)
	if err != nil || len(packets) != 0 {
		t.Fatalf("DecodePackets(nil) = %v, %v; want no packets, no error", packets, err)
	}
}

func TestPopularity(t *testing.T) {
	v, err := Popularity([]byte{0, 0, 0, 100})
	if err != nil {
		t.Fatalf("Popularity() error: %v", err)
	}
	if v != 100 {
		t.Errorf("Popularity() = %d, want 100", v)
	}

	if _, err := Popularity([]byte{1, 2}); err == nil {
		t.Error("Popularity() should fail on a short payload")
	}
}
