package codec

import (
	"encoding/binary"
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// Schema registry framing: magic byte 0, big-endian schema id, and for
// protobuf a list of message indexes. The list [0] is written as a single
// zero byte.
const (
	magicByte  = 0x00
	headerSize = 5
)

var errShortHeader = errors.New("truncated schema registry header")

func frame(id int, protoIndex bool, payload []byte) []byte {
	if id <= 0 {
		return payload
	}
	n := headerSize + len(payload)
	if protoIndex {
		n++
	}
	out := make([]byte, 0, n)
	out = append(out, magicByte)
	out = binary.BigEndian.AppendUint32(out, uint32(id))
	if protoIndex {
		out = append(out, 0x00)
	}
	return append(out, payload...)
}

// unframe strips the registry header when present. Payloads without the
// magic byte are returned as they are with id 0. Protobuf and JSON payloads
// never start with 0x00; Avro callers decide first whether a header is
// expected.
func unframe(b []byte, protoIndex bool) (id int, payload []byte, err error) {
	if len(b) == 0 || b[0] != magicByte {
		return 0, b, nil
	}
	if len(b) < headerSize {
		return 0, nil, errShortHeader
	}
	id = int(binary.BigEndian.Uint32(b[1:headerSize]))
	rest := b[headerSize:]
	if !protoIndex {
		return id, rest, nil
	}
	count, n := protowire.ConsumeVarint(rest)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	rest = rest[n:]
	for i := int64(0); i < protowire.DecodeZigZag(count); i++ {
		_, n = protowire.ConsumeVarint(rest)
		if n < 0 {
			return 0, nil, protowire.ParseError(n)
		}
		rest = rest[n:]
	}
	return id, rest, nil
}
