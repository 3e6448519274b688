package blivedm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
)

// HeaderSize is the fixed size of a packet header:
// total_length(4) + header_length(2) + protocol_version(2) + operation(4) + sequence_id(4).
const HeaderSize = 16

// MaxDecompressedSize bounds the inflated body of one compressed packet.
const MaxDecompressedSize = 16 * 1024 * 1024

// maxNesting bounds compressed packets inside compressed packets.
const maxNesting = 4

// ProtoVersion is the protocol_version header field. It tells how the
// payload is encoded.
type ProtoVersion uint16

const (
	ProtoPlain      ProtoVersion = 0 // UTF-8 JSON
	ProtoPopularity ProtoVersion = 1 // 4-byte big-endian integer
	ProtoZlib       ProtoVersion = 2 // zlib-compressed packet stream
	ProtoBrotli     ProtoVersion = 3 // brotli-compressed packet stream
)

func (v ProtoVersion) String() string {
	switch v {
	case ProtoPlain:
		return "plain"
	case ProtoPopularity:
		return "popularity"
	case ProtoZlib:
		return "zlib"
	case ProtoBrotli:
		return "brotli"
	default:
		return fmt.Sprintf("ProtoVersion(%d)", uint16(v))
	}
}

// Operation is the operation header field.
type Operation uint32

const (
	OpHeartbeat      Operation = 2
	OpHeartbeatReply Operation = 3
	OpMessage        Operation = 5
	OpAuth           Operation = 7
	OpAuthReply      Operation = 8
)

func (op Operation) String() string {
	switch op {
	case OpHeartbeat:
		return "heartbeat"
	case OpHeartbeatReply:
		return "heartbeat_reply"
	case OpMessage:
		return "message"
	case OpAuth:
		return "auth"
	case OpAuthReply:
		return "auth_reply"
	default:
		return fmt.Sprintf("Operation(%d)", uint32(op))
	}
}

// Packet is one logical packet of the wire protocol.
type Packet struct {
	Version    ProtoVersion
	Operation  Operation
	SequenceID uint32
	Payload    []byte
}

// EncodePacket frames a client-to-server control packet. The payload is
// sent as-is with protocol version Plain.
func EncodePacket(op Operation, seq uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], HeaderSize)
	binary.BigEndian.PutUint16(buf[6:8], uint16(ProtoPlain))
	binary.BigEndian.PutUint32(buf[8:12], uint32(op))
	binary.BigEndian.PutUint32(buf[12:16], seq)
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodePackets splits buf into its logical packets. Compressed packets are
// inflated and their inner packets are returned in their place, so every
// returned packet is either Plain or Popularity.
//
// Problems are reported as *ProtocolError values joined into err; the packets
// returned alongside a non-nil err are still valid and in wire order. A bad
// header stops decoding of the rest of buf, while a bad compressed body or an
// unknown version only drops that one packet.
func DecodePackets(buf []byte) ([]Packet, error) {
	var errs []error
	packets := decodeInto(nil, buf, 0, &errs)
	return packets, errors.Join(errs...)
}

func decodeInto(dst []Packet, buf []byte, depth int, errs *[]error) []Packet {
	for len(buf) > 0 {
		if len(buf) < HeaderSize {
			*errs = append(*errs, newProtocolError(ErrCodeTruncated,
				fmt.Sprintf("%d trailing bytes shorter than header", len(buf)), nil))
			return dst
		}

		total := binary.BigEndian.Uint32(buf[0:4])
		headerLen := binary.BigEndian.Uint16(buf[4:6])
		if headerLen != HeaderSize {
			*errs = append(*errs, newProtocolError(ErrCodeBadHeader,
				fmt.Sprintf("header_length %d", headerLen), nil))
			return dst
		}
		if total < HeaderSize {
			*errs = append(*errs, newProtocolError(ErrCodeBadHeader,
				fmt.Sprintf("total_length %d", total), nil))
			return dst
		}
		if uint64(total) > uint64(len(buf)) {
			*errs = append(*errs, newProtocolError(ErrCodeTruncated,
				fmt.Sprintf("total_length %d exceeds %d available bytes", total, len(buf)), nil))
			return dst
		}

		p := Packet{
			Version:    ProtoVersion(binary.BigEndian.Uint16(buf[6:8])),
			Operation:  Operation(binary.BigEndian.Uint32(buf[8:12])),
			SequenceID: binary.BigEndian.Uint32(buf[12:16]),
			Payload:    buf[HeaderSize:total],
		}
		buf = buf[total:]

		switch p.Version {
		case ProtoPlain, ProtoPopularity:
			dst = append(dst, p)
		case ProtoZlib, ProtoBrotli:
			if depth >= maxNesting {
				*errs = append(*errs, newProtocolError(ErrCodeDecompress, "compressed packets nested too deep", nil))
				continue
			}
			inner, err := decompress(p.Version, p.Payload)
			if err != nil {
				*errs = append(*errs, err)
				continue
			}
			dst = decodeInto(dst, inner, depth+1, errs)
		default:
			*errs = append(*errs, newProtocolError(ErrCodeBadVersion,
				fmt.Sprintf("protocol_version %d (operation %s)", uint16(p.Version), p.Operation), nil))
		}
	}
	return dst
}

func decompress(v ProtoVersion, payload []byte) ([]byte, error) {
	var r io.Reader
	switch v {
	case ProtoZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, newProtocolError(ErrCodeDecompress, "zlib header", err)
		}
		defer zr.Close()
		r = zr
	case ProtoBrotli:
		r = brotli.NewReader(bytes.NewReader(payload))
	}

	out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, newProtocolError(ErrCodeDecompress, v.String()+" body", err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, newProtocolError(ErrCodeDecompress,
			fmt.Sprintf("%s body exceeds %d bytes", v, MaxDecompressedSize), nil)
	}
	return out, nil
}

// Popularity reads the 4-byte big-endian viewer count carried by heartbeat
// replies and Popularity-version packets.
func Popularity(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, newProtocolError(ErrCodeBadPayload,
			fmt.Sprintf("popularity payload has %d bytes", len(payload)), nil)
	}
	return binary.BigEndian.Uint32(payload[:4]), nil
}
