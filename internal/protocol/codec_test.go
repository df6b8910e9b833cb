package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHeader(t *testing.T) {
	header := buildHeader(MsgFullClientRequest, FlagNoSequence, SerializationJSON, CompressionNone)
	assert.Equal(t, byte(0x11), header[0])
	assert.Equal(t, byte(0x10), header[1])
	assert.Equal(t, byte(0x10), header[2])
	assert.Equal(t, byte(0x00), header[3])
}

func TestBuildFullClientRequest(t *testing.T) {
	payload := []byte(`{"test": "value"}`)
	msg := BuildFullClientRequest(payload)

	require.Len(t, msg, 4+4+len(payload))
	assert.Equal(t, byte(0x11), msg[0])
	assert.Equal(t, byte(0x10), msg[1])
	assert.Equal(t, byte(0x10), msg[2])
	assert.Equal(t, payload, msg[8:])
}

func TestBuildAudioOnlyRequestNotLast(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03, 0x04}
	msg := BuildAudioOnlyRequest(audio, false)

	require.Len(t, msg, 4+4+len(audio))
	assert.Equal(t, byte(0x20), msg[1]&0xF0)
	assert.Equal(t, byte(0x00), msg[1]&0x0F)
}

func TestBuildAudioOnlyRequestLast(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03, 0x04}
	msg := BuildAudioOnlyRequest(audio, true)

	require.Len(t, msg, 4+4+len(audio))
	assert.Equal(t, byte(0x02), msg[1]&0x0F)
}

func TestDecodeServerMessageTooShort(t *testing.T) {
	result := DecodeServerMessage([]byte{0x11, 0x90, 0x10})
	assert.Equal(t, KindUnknown, result.Kind)
}

func TestDecodeServerMessageInvalidVersion(t *testing.T) {
	result := DecodeServerMessage([]byte{0x21, 0x90, 0x10, 0x00})
	assert.Equal(t, KindUnknown, result.Kind)
}

func TestDecodeServerMessageResponse(t *testing.T) {
	jsonPayload := []byte(`{"type":"result"}`)
	data := []byte{
		0x11,
		0x90, // MSG_FULL_SERVER_RESPONSE << 4 | flags(0)
		0x10,
		0x00,
		0x00, 0x00, 0x00, 0x00, // sequence
		0x00, 0x00, 0x00, byte(len(jsonPayload)),
	}
	data = append(data, jsonPayload...)

	result := DecodeServerMessage(data)
	assert.Equal(t, KindResponse, result.Kind)
	assert.Equal(t, jsonPayload, result.Payload)
}

func TestDecodeServerMessageFinalFlag(t *testing.T) {
	payload := []byte(`{}`)
	data := []byte{
		0x11,
		0x93, // message type 1001, flags 0011 (final response)
		0x10,
		0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, byte(len(payload)),
	}
	data = append(data, payload...)

	result := DecodeServerMessage(data)
	require.Equal(t, KindResponse, result.Kind)
	assert.Equal(t, FlagFinalResponse, result.Flags)
}

func TestDecodeServerMessageError(t *testing.T) {
	errMsg := []byte("bad request")
	data := []byte{
		0x11,
		0xF0, // MSG_ERROR_RESPONSE << 4
		0x00,
		0x00,
		0x00, 0x00, 0x01, 0x2C, // error code = 300
		0x00, 0x00, 0x00, byte(len(errMsg)),
	}
	data = append(data, errMsg...)

	result := DecodeServerMessage(data)
	require.Equal(t, KindError, result.Kind)
	assert.Equal(t, uint32(300), result.ErrorCode)
	assert.Equal(t, "bad request", result.ErrorMessage)
}

func TestDecodeServerMessageUnknownType(t *testing.T) {
	data := []byte{0x11, 0x50, 0x10, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}
	result := DecodeServerMessage(data)
	assert.Equal(t, KindUnknown, result.Kind)
}

// round-trip invariant from spec §8: decode(encode(x)) preserves
// (payload-length, payload-bytes) for both frame kinds.
func TestRoundTripFullClientRequest(t *testing.T) {
	payload := []byte(`{"user":{"uid":"anytalk"}}`)
	frame := BuildFullClientRequest(payload)

	got, flags, err := DecodeOutbound(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, FlagNoSequence, flags)
}

func TestRoundTripAudioOnlyRequest(t *testing.T) {
	for _, last := range []bool{false, true} {
		pcm := make([]byte, 1280)
		for i := range pcm {
			pcm[i] = byte(i)
		}
		frame := BuildAudioOnlyRequest(pcm, last)

		got, flags, err := DecodeOutbound(frame)
		require.NoError(t, err)
		assert.Equal(t, pcm, got)
		if last {
			assert.Equal(t, FlagLastNoSequence, flags)
		} else {
			assert.Equal(t, FlagNoSequence, flags)
		}
	}
}

func TestRoundTripAudioOnlyRequestEmptyTerminal(t *testing.T) {
	frame := BuildAudioOnlyRequest(nil, true)
	got, flags, err := DecodeOutbound(frame)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, FlagLastNoSequence, flags)
}
