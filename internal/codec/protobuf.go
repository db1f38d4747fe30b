package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"cdcrelay/internal/record"
)

// Field numbers of the person messages. They match the .proto sources
// registered with the schema registry (see ProtoSourcePerson and friends).
const (
	srcPersonID      protowire.Number = 1
	srcFirstName     protowire.Number = 2
	srcLastName      protowire.Number = 3
	srcFavoriteColor protowire.Number = 4
	srcAge           protowire.Number = 5
	srcRowVersion    protowire.Number = 6

	sinkPersonID      protowire.Number = 1
	sinkName          protowire.Number = 2
	sinkFavoriteColor protowire.Number = 3
	sinkAge           protowire.Number = 4
)

const ProtoSourcePerson = `syntax = "proto3";
package source.v1;

import "google/protobuf/timestamp.proto";

message person {
  int64 person_id = 1;
  string first_name = 2;
  string last_name = 3;
  string favorite_color = 4;
  int32 age = 5;
  google.protobuf.Timestamp row_version = 6;
}
`

const ProtoSinkKey = `syntax = "proto3";
package sink.v1;

message Key {
  int64 person_id = 1;
}
`

const ProtoSinkPerson = `syntax = "proto3";
package sink.v1;

message person {
  int64 person_id = 1;
  string name = 2;
  string favorite_color = 3;
  int32 age = 4;
}
`

type protoCodec struct {
	ids IDs
}

func (*protoCodec) Format() Format { return Protobuf }

func (c *protoCodec) DecodeSource(b []byte) (record.SourcePerson, error) {
	var p record.SourcePerson
	_, payload, err := unframe(b, true)
	if err != nil {
		return p, mismatch(Protobuf, schemaSourcePerson, err)
	}
	err = walkFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case srcPersonID:
			v, n, err := consumeVarint(typ, b)
			p.PersonID = int64(v)
			return n, err
		case srcFirstName:
			s, n, err := consumeString(typ, b)
			p.FirstName = s
			return n, err
		case srcLastName:
			s, n, err := consumeString(typ, b)
			p.LastName = s
			return n, err
		case srcFavoriteColor:
			s, n, err := consumeString(typ, b)
			p.FavoriteColor = s
			return n, err
		case srcAge:
			v, n, err := consumeVarint(typ, b)
			p.Age = int32(v)
			return n, err
		case srcRowVersion:
			if typ != protowire.BytesType {
				return 0, wrongType(num, typ)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(raw, &ts); err != nil {
				return 0, fmt.Errorf("row_version: %w", err)
			}
			p.RowVersion = ts.AsTime()
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return record.SourcePerson{}, mismatch(Protobuf, schemaSourcePerson, err)
	}
	return p, nil
}

func (c *protoCodec) EncodeSource(p record.SourcePerson) ([]byte, error) {
	var b []byte
	b = appendVarint(b, srcPersonID, uint64(p.PersonID))
	b = appendString(b, srcFirstName, p.FirstName)
	b = appendString(b, srcLastName, p.LastName)
	b = appendString(b, srcFavoriteColor, p.FavoriteColor)
	b = appendVarint(b, srcAge, uint64(int64(p.Age)))
	if !p.RowVersion.IsZero() {
		ts, err := proto.Marshal(timestamppb.New(p.RowVersion))
		if err != nil {
			return nil, fmt.Errorf("row_version: %w", err)
		}
		b = protowire.AppendTag(b, srcRowVersion, protowire.BytesType)
		b = protowire.AppendBytes(b, ts)
	}
	return frame(c.ids.SourceValue, true, b), nil
}

func (c *protoCodec) EncodeKey(k record.SinkKey) ([]byte, error) {
	b := appendVarint(nil, sinkPersonID, uint64(k.PersonID))
	return frame(c.ids.SinkKey, true, b), nil
}

func (c *protoCodec) DecodeKey(b []byte) (record.SinkKey, error) {
	var k record.SinkKey
	_, payload, err := unframe(b, true)
	if err == nil {
		err = walkFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == sinkPersonID {
				v, n, err := consumeVarint(typ, b)
				k.PersonID = int64(v)
				return n, err
			}
			return skipField(num, typ, b)
		})
	}
	if err != nil {
		return record.SinkKey{}, mismatch(Protobuf, schemaSinkKey, err)
	}
	return k, nil
}

func (c *protoCodec) EncodeValue(p record.SinkPerson) ([]byte, error) {
	var b []byte
	b = appendVarint(b, sinkPersonID, uint64(p.PersonID))
	b = appendString(b, sinkName, p.Name)
	b = appendString(b, sinkFavoriteColor, p.FavoriteColor)
	b = appendVarint(b, sinkAge, uint64(int64(p.Age)))
	return frame(c.ids.SinkValue, true, b), nil
}

func (c *protoCodec) DecodeValue(b []byte) (record.SinkPerson, error) {
	var p record.SinkPerson
	_, payload, err := unframe(b, true)
	if err == nil {
		err = walkFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case sinkPersonID:
				v, n, err := consumeVarint(typ, b)
				p.PersonID = int64(v)
				return n, err
			case sinkName:
				s, n, err := consumeString(typ, b)
				p.Name = s
				return n, err
			case sinkFavoriteColor:
				s, n, err := consumeString(typ, b)
				p.FavoriteColor = s
				return n, err
			case sinkAge:
				v, n, err := consumeVarint(typ, b)
				p.Age = int32(v)
				return n, err
			}
			return skipField(num, typ, b)
		})
	}
	if err != nil {
		return record.SinkPerson{}, mismatch(Protobuf, schemaSinkPerson, err)
	}
	return p, nil
}

/* ───────────────────────── wire helpers ───────────────────────── */

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("expected length-delimited, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return string(v), n, nil
}

func wrongType(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("field %d: unexpected wire type %d", num, typ)
}

// proto3 leaves zero values off the wire.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
