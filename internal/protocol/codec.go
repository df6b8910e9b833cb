// Package protocol implements the vendor binary framing layer that rides
// inside WebSocket binary messages: the 4-byte header, outbound
// full-client-request and audio-only frames, and inbound full-server-response
// and error frames.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header nibbles, per the wire layout (byte 0: version|header-size, byte 1:
// message-type|flags, byte 2: serialization|compression, byte 3: reserved).
const (
	protoVersion  = 0b0001
	headerSize4B  = 0b0001
	headerLen     = 4
	lengthLen     = 4
	sequenceLen   = 4
	errorCodeLen  = 4
	errMsgSizeLen = 4
)

// Message types.
const (
	MsgFullClientRequest  byte = 0b0001
	MsgAudioOnlyRequest   byte = 0b0010
	MsgFullServerResponse byte = 0b1001
	MsgErrorResponse      byte = 0b1111
)

// Flags.
const (
	FlagNoSequence      byte = 0b0000
	FlagLastNoSequence  byte = 0b0010
	FlagFinalResponse   byte = 0b0011
)

// Serialization / compression.
const (
	SerializationJSON byte = 0b0001
	SerializationNone byte = 0b0000
	CompressionNone   byte = 0b0000
)

// MaxFrameSize is the hard cap a single WebSocket frame may declare before
// it's rejected (spec §4.2): 16 MiB.
const MaxFrameSize = 16 * 1024 * 1024

func buildHeader(messageType, flags, serialization, compression byte) [headerLen]byte {
	var h [headerLen]byte
	h[0] = (protoVersion << 4) | headerSize4B
	h[1] = (messageType << 4) | flags
	h[2] = (serialization << 4) | compression
	h[3] = 0x00
	return h
}

// BuildFullClientRequest encodes the JSON-serialized initial request frame:
// header(serialization=JSON) ∥ uint32 payload-length ∥ JSON bytes.
func BuildFullClientRequest(payload []byte) []byte {
	header := buildHeader(MsgFullClientRequest, FlagNoSequence, SerializationJSON, CompressionNone)
	out := make([]byte, 0, headerLen+lengthLen+len(payload))
	out = append(out, header[:]...)
	out = appendU32BE(out, uint32(len(payload)))
	out = append(out, payload...)
	return out
}

// BuildAudioOnlyRequest encodes a raw-PCM audio frame. last marks the
// terminal audio-only frame (the empty-payload marker that signals
// end-of-input to the service).
func BuildAudioOnlyRequest(pcm []byte, last bool) []byte {
	flags := FlagNoSequence
	if last {
		flags = FlagLastNoSequence
	}
	header := buildHeader(MsgAudioOnlyRequest, flags, SerializationNone, CompressionNone)
	out := make([]byte, 0, headerLen+lengthLen+len(pcm))
	out = append(out, header[:]...)
	out = appendU32BE(out, uint32(len(pcm)))
	out = append(out, pcm...)
	return out
}

func appendU32BE(dst []byte, n uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return append(dst, b[:]...)
}

// Kind classifies a decoded inbound vendor frame.
type Kind int

const (
	// KindUnknown covers any message type this codec doesn't recognize,
	// or a buffer too short to contain a valid frame.
	KindUnknown Kind = iota
	KindResponse
	KindError
)

// ServerMessage is the result of decoding one inbound vendor frame.
type ServerMessage struct {
	Kind Kind
	// Flags carries the raw frame flags; FlagFinalResponse (0b0011)
	// signals the server's terminal response frame.
	Flags byte
	// Payload holds the JSON bytes for KindResponse.
	Payload []byte
	// ErrorCode and ErrorMessage are populated for KindError.
	ErrorCode    uint32
	ErrorMessage string
}

// DecodeServerMessage parses one inbound vendor frame. Any malformed or
// unrecognized input decodes to KindUnknown rather than erroring — the
// session loop treats unknown messages as ignorable, not fatal.
func DecodeServerMessage(data []byte) ServerMessage {
	if len(data) < headerLen {
		return ServerMessage{Kind: KindUnknown}
	}

	version := data[0] >> 4
	headerSize := data[0] & 0xF
	if version != protoVersion || headerSize != headerSize4B {
		return ServerMessage{Kind: KindUnknown}
	}

	messageType := data[1] >> 4
	flags := data[1] & 0xF

	switch messageType {
	case MsgFullServerResponse:
		const minLen = headerLen + sequenceLen + lengthLen
		if len(data) < minLen {
			return ServerMessage{Kind: KindUnknown, Flags: flags}
		}
		payloadSize := binary.BigEndian.Uint32(data[headerLen+sequenceLen : minLen])
		end := minLen + int(payloadSize)
		if end > len(data) {
			return ServerMessage{Kind: KindUnknown, Flags: flags}
		}
		return ServerMessage{
			Kind:    KindResponse,
			Flags:   flags,
			Payload: data[minLen:end],
		}

	case MsgErrorResponse:
		const minLen = headerLen + errorCodeLen + errMsgSizeLen
		if len(data) < minLen {
			return ServerMessage{Kind: KindUnknown, Flags: flags}
		}
		code := binary.BigEndian.Uint32(data[headerLen : headerLen+errorCodeLen])
		msgSize := binary.BigEndian.Uint32(data[headerLen+errorCodeLen : minLen])
		end := minLen + int(msgSize)
		if end > len(data) {
			return ServerMessage{Kind: KindUnknown, Flags: flags}
		}
		return ServerMessage{
			Kind:         KindError,
			Flags:        flags,
			ErrorCode:    code,
			ErrorMessage: string(data[minLen:end]),
		}

	default:
		return ServerMessage{Kind: KindUnknown, Flags: flags}
	}
}

// DecodeOutbound is the inverse of Build{FullClientRequest,AudioOnlyRequest},
// used only by tests (the codec's round-trip tests, spec §8, and the
// session tests that inspect sent frames): it recovers the payload-length
// and payload-bytes a Build* call encoded.
func DecodeOutbound(frame []byte) (payload []byte, flags byte, err error) {
	if len(frame) < headerLen+lengthLen {
		return nil, 0, fmt.Errorf("protocol: frame too short (%d bytes)", len(frame))
	}
	flags = frame[1] & 0xF
	payloadSize := binary.BigEndian.Uint32(frame[headerLen : headerLen+lengthLen])
	start := headerLen + lengthLen
	end := start + int(payloadSize)
	if end > len(frame) {
		return nil, 0, fmt.Errorf("protocol: declared payload length %d exceeds frame", payloadSize)
	}
	return frame[start:end], flags, nil
}
