// Package codec turns person rows into bytes and back for each supported
// wire format. The formats are interchangeable: the relay picks one at
// startup and keeps it for its whole lifetime.
package codec

import (
	"fmt"
	"strings"

	"cdcrelay/internal/record"
)

type Format string

const (
	Protobuf Format = "protobuf"
	Avro     Format = "avro"
	JSON     Format = "json"
	Identity Format = "identity"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "protobuf", "proto":
		return Protobuf, nil
	case "avro":
		return Avro, nil
	case "json":
		return JSON, nil
	case "identity", "raw", "none":
		return Identity, nil
	default:
		return "", fmt.Errorf("codec: unknown format %q", s)
	}
}

// Codec encodes and decodes the person schemas of one format. Source rows
// are read with DecodeSource; sink keys and values are written with
// EncodeKey and EncodeValue. The remaining methods exist so both sides of a
// topic can be round-tripped, which the seed tooling and tests rely on.
type Codec interface {
	Format() Format

	DecodeSource(b []byte) (record.SourcePerson, error)
	EncodeSource(p record.SourcePerson) ([]byte, error)

	EncodeKey(k record.SinkKey) ([]byte, error)
	DecodeKey(b []byte) (record.SinkKey, error)
	EncodeValue(p record.SinkPerson) ([]byte, error)
	DecodeValue(b []byte) (record.SinkPerson, error)
}

// IDs are schema registry ids stamped on encoded payloads. Zero means the
// payload is written without the registry header.
type IDs struct {
	SourceValue int
	SinkKey     int
	SinkValue   int
}

// New returns the typed codec for f. Identity has no typed codec; callers
// forward raw bytes instead.
func New(f Format, ids IDs) (Codec, error) {
	switch f {
	case Protobuf:
		return &protoCodec{ids: ids}, nil
	case Avro:
		return newAvroCodec(ids)
	case JSON:
		return &jsonCodec{ids: ids}, nil
	case Identity:
		return nil, fmt.Errorf("codec: %s has no typed codec", f)
	default:
		return nil, fmt.Errorf("codec: unknown format %q", f)
	}
}

// SchemaMismatchError means a payload does not have the shape of the
// expected schema. The relay skips such records instead of stopping.
type SchemaMismatchError struct {
	Format Format
	Schema string
	Err    error
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s payload does not match %s: %v", e.Format, e.Schema, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

func mismatch(f Format, schema string, err error) error {
	return &SchemaMismatchError{Format: f, Schema: schema, Err: err}
}

const (
	schemaSourcePerson = "source.v1.person"
	schemaSinkKey      = "sink.v1.Key"
	schemaSinkPerson   = "sink.v1.person"
)
