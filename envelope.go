// Package liveroom implements the protocol engine of a long-lived,
// authenticated WebSocket session to a live-room chat service: framing,
// optional compression, the certificate handshake, a heartbeat goroutine,
// and a bounded, back-pressured stream of decoded commands.
package liveroom

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Protocol is the wire encoding of a frame's payload.
type Protocol uint16

// Known protocol tags.
const (
	ProtoJSON   Protocol = 0 // raw JSON command
	ProtoSpecial Protocol = 1 // special binary payload (heartbeat, certificate)
	ProtoZlib   Protocol = 2 // zlib-compressed batch of commands
	ProtoBrotli Protocol = 3 // brotli-compressed batch of commands
)

func (p Protocol) valid() bool {
	switch p {
	case ProtoJSON, ProtoSpecial, ProtoZlib, ProtoBrotli:
		return true
	default:
		return false
	}
}

// PacketType is the high-level kind of a frame.
type PacketType uint32

// Known packet types.
const (
	TypeHeartbeat       PacketType = 2
	TypeHeartbeatResp   PacketType = 3
	TypeCommand         PacketType = 5
	TypeCertificate     PacketType = 7
	TypeCertificateResp PacketType = 8
)

func (t PacketType) valid() bool {
	switch t {
	case TypeHeartbeat, TypeHeartbeatResp, TypeCommand, TypeCertificate, TypeCertificateResp:
		return true
	default:
		return false
	}
}

// headerSize is the fixed size, in bytes, of every envelope.
const headerSize = 16

// heartbeatBody is the literal ASCII payload of a Heartbeat frame.
const heartbeatBody = "[object Object]"

// Envelope is the 16-byte big-endian binary header prefixing every
// WebSocket binary message (or sub-message inside a compressed batch).
type Envelope struct {
	TotalSize  uint32
	HeaderSize uint16
	Protocol   Protocol
	Type       PacketType
	Sequence   uint32
}

// Certificate is the JSON body of the first frame a client sends.
type Certificate struct {
	UID      uint64 `json:"uid"`
	RoomID   uint64 `json:"roomid"`
	Key      string `json:"key"`
	Platform string `json:"platform,omitempty"`
	Buvid    string `json:"buvid,omitempty"`
	ProtoVer int    `json:"protover"`
}

// certificateResp is the JSON body of a CertificateResp frame.
type certificateResp struct {
	Code int32 `json:"code"`
}

// Payload is the decoded body of a frame, shaped by its (Type, Protocol).
type Payload struct {
	Popularity uint32            // set for (HeartbeatResp, Special)
	CertCode   int32             // set for (CertificateResp, Special)
	Commands   []json.RawMessage // set for (Command, *) — one element unless compressed
}

// encodeEnvelope builds a complete frame: header plus payload bytes.
func encodeEnvelope(typ PacketType, proto Protocol, seq uint32, payload []byte) []byte {
	total := uint32(headerSize + len(payload))
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], total)
	binary.BigEndian.PutUint16(buf[4:6], headerSize)
	binary.BigEndian.PutUint16(buf[6:8], uint16(proto))
	binary.BigEndian.PutUint32(buf[8:12], uint32(typ))
	binary.BigEndian.PutUint32(buf[12:16], seq)
	copy(buf[headerSize:], payload)
	return buf
}

// encodeCertificate frames a Certificate as Special/Certificate.
func encodeCertificate(cert Certificate, seq uint32) ([]byte, error) {
	body, err := json.Marshal(cert)
	if err != nil {
		return nil, fmt.Errorf("liveroom: marshal certificate: %w", err)
	}
	return encodeEnvelope(TypeCertificate, ProtoSpecial, seq, body), nil
}

// encodeHeartbeat frames the fixed Heartbeat payload as Special/Heartbeat.
func encodeHeartbeat(seq uint32) []byte {
	return encodeEnvelope(TypeHeartbeat, ProtoSpecial, seq, []byte(heartbeatBody))
}

// decodeEnvelope reads exactly 16 bytes from r and validates the protocol
// and packet-type tags. I/O errors, including a clean io.EOF meaning "no
// more frames", are returned unwrapped so callers can distinguish them from
// protocol corruption with errors.Is.
func decodeEnvelope(r io.Reader) (Envelope, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Envelope{}, err
	}

	proto := Protocol(binary.BigEndian.Uint16(hdr[6:8]))
	if !proto.valid() {
		return Envelope{}, &InvalidProtocolError{Value: uint16(proto)}
	}
	typ := PacketType(binary.BigEndian.Uint32(hdr[8:12]))
	if !typ.valid() {
		return Envelope{}, &InvalidTypeError{Value: uint32(typ)}
	}

	return Envelope{
		TotalSize:  binary.BigEndian.Uint32(hdr[0:4]),
		HeaderSize: binary.BigEndian.Uint16(hdr[4:6]),
		Protocol:   proto,
		Type:       typ,
		Sequence:   binary.BigEndian.Uint32(hdr[12:16]),
	}, nil
}

// readFrame reads one envelope and its body from r and dispatches the body
// to decodePayload. The returned Envelope is the zero Envelope when the
// header itself could not be decoded, and otherwise carries the header as
// read (HeaderSize is taken from the wire, not checked against headerSize).
// Callers compare HeaderSize with headerSize to tell a header-level failure
// (no envelope at all) apart from a payload-level one (valid envelope, bad
// body).
func readFrame(r io.Reader) (Envelope, Payload, error) {
	env, err := decodeEnvelope(r)
	if err != nil {
		return Envelope{}, Payload{}, err
	}

	n := int(env.TotalSize) - headerSize
	if n < 0 {
		return env, Payload{}, &FramingError{Cause: fmt.Errorf("total_size %d smaller than header", env.TotalSize)}
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return env, Payload{}, &FramingError{Cause: fmt.Errorf("short frame body: %w", err)}
	}

	payload, err := decodePayload(env, body)
	return env, payload, err
}

// decodePayload is a pure function from an already-validated envelope plus
// its exact body bytes to a decoded Payload, dispatching on (Type, Protocol).
func decodePayload(env Envelope, body []byte) (Payload, error) {
	switch {
	case env.Type == TypeHeartbeatResp && env.Protocol == ProtoSpecial:
		if len(body) < 4 {
			return Payload{}, &FramingError{Cause: fmt.Errorf("heartbeat reply body too short: %d bytes", len(body))}
		}
		return Payload{Popularity: binary.BigEndian.Uint32(body[:4])}, nil

	case env.Type == TypeCertificateResp && env.Protocol == ProtoSpecial:
		var resp certificateResp
		if err := json.Unmarshal(body, &resp); err != nil {
			return Payload{}, &FramingError{Cause: fmt.Errorf("malformed certificate response: %w", err)}
		}
		return Payload{CertCode: resp.Code}, nil

	case env.Type == TypeCommand && env.Protocol == ProtoJSON:
		return Payload{Commands: []json.RawMessage{json.RawMessage(body)}}, nil

	case env.Type == TypeCommand && (env.Protocol == ProtoZlib || env.Protocol == ProtoBrotli):
		cmds, err := decodeBatch(env.Protocol, body)
		payload := Payload{Commands: cmds}
		if err != nil {
			return payload, &CompressionError{Cause: err}
		}
		return payload, nil

	default:
		return Payload{}, &UnsupportedPacketError{Envelope: env}
	}
}
