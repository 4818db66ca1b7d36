package roster

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	packetIDHandshake = 0x00
	packetIDStatus    = 0x00

	// nextStateStatus asks the server for the status (ping) state.
	nextStateStatus = 1

	// maxPacketLength is the largest length a 3-byte VarInt can carry, the
	// protocol's packet size ceiling.
	maxPacketLength = 1<<21 - 1

	maxVarIntBytes = 5
)

func appendVarInt(b []byte, value int32) []byte {
	u := uint32(value)
	for u&^0x7f != 0 {
		b = append(b, byte(u&0x7f|0x80))
		u >>= 7
	}
	return append(b, byte(u))
}

func readVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read varint: %w", err)
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, fmt.Errorf("%w: varint longer than %d bytes", ErrMalformed, maxVarIntBytes)
}

func appendString(b []byte, s string) []byte {
	b = appendVarInt(b, int32(len(s)))
	return append(b, s...)
}

func framePacket(id int32, payload []byte) []byte {
	body := appendVarInt(nil, id)
	body = append(body, payload...)
	out := appendVarInt(make([]byte, 0, len(body)+maxVarIntBytes), int32(len(body)))
	return append(out, body...)
}

func handshakePacket(protocolVersion int32, host string, port uint16) []byte {
	payload := appendVarInt(nil, protocolVersion)
	payload = appendString(payload, host)
	payload = binary.BigEndian.AppendUint16(payload, port)
	payload = appendVarInt(payload, nextStateStatus)
	return framePacket(packetIDHandshake, payload)
}

func statusRequestPacket() []byte {
	return framePacket(packetIDStatus, nil)
}

// readPacket reads one length-prefixed packet and returns its ID and payload.
func readPacket(r *bufio.Reader) (int32, []byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return 0, nil, err
	}
	if length <= 0 || length > maxPacketLength {
		return 0, nil, fmt.Errorf("%w: packet length %d", ErrMalformed, length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, fmt.Errorf("read packet body: %w", err)
	}

	body := bytes.NewReader(buf)
	id, err := readVarInt(body)
	if err != nil {
		return 0, nil, err
	}
	return id, buf[len(buf)-body.Len():], nil
}

// decodeString reads a VarInt-prefixed UTF-8 string from the front of b.
func decodeString(b []byte) (string, error) {
	r := bytes.NewReader(b)
	n, err := readVarInt(r)
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > r.Len() {
		return "", fmt.Errorf("%w: string length %d exceeds payload", ErrMalformed, n)
	}
	start := len(b) - r.Len()
	return string(b[start : start+int(n)]), nil
}
