package codec

import (
	"fmt"
	"time"

	"github.com/linkedin/goavro/v2"

	"cdcrelay/internal/record"
)

const AvroSourcePerson = `{
  "type": "record",
  "name": "person",
  "namespace": "source.v1",
  "fields": [
    {"name": "person_id", "type": "long"},
    {"name": "first_name", "type": "string"},
    {"name": "last_name", "type": "string"},
    {"name": "favorite_color", "type": "string"},
    {"name": "age", "type": "int"},
    {"name": "row_version", "type": {"type": "long", "logicalType": "timestamp-millis"}}
  ]
}`

const AvroSinkKey = `{
  "type": "record",
  "name": "Key",
  "namespace": "sink.v1",
  "fields": [
    {"name": "person_id", "type": "long"}
  ]
}`

const AvroSinkPerson = `{
  "type": "record",
  "name": "person",
  "namespace": "sink.v1",
  "fields": [
    {"name": "person_id", "type": "long"},
    {"name": "name", "type": "string"},
    {"name": "favorite_color", "type": "string"},
    {"name": "age", "type": "int"}
  ]
}`

type avroCodec struct {
	ids IDs

	source *goavro.Codec
	key    *goavro.Codec
	value  *goavro.Codec
}

func newAvroCodec(ids IDs) (*avroCodec, error) {
	c := &avroCodec{ids: ids}
	var err error
	if c.source, err = goavro.NewCodec(AvroSourcePerson); err != nil {
		return nil, fmt.Errorf("avro %s: %w", schemaSourcePerson, err)
	}
	if c.key, err = goavro.NewCodec(AvroSinkKey); err != nil {
		return nil, fmt.Errorf("avro %s: %w", schemaSinkKey, err)
	}
	if c.value, err = goavro.NewCodec(AvroSinkPerson); err != nil {
		return nil, fmt.Errorf("avro %s: %w", schemaSinkPerson, err)
	}
	return c, nil
}

func (*avroCodec) Format() Format { return Avro }

func (c *avroCodec) DecodeSource(b []byte) (record.SourcePerson, error) {
	m, err := decodeAvroRecord(c.source, c.ids.SourceValue > 0, b)
	if err != nil {
		return record.SourcePerson{}, mismatch(Avro, schemaSourcePerson, err)
	}
	var p record.SourcePerson
	f := avroFields{m: m}
	p.PersonID = f.long("person_id")
	p.FirstName = f.str("first_name")
	p.LastName = f.str("last_name")
	p.FavoriteColor = f.str("favorite_color")
	p.Age = int32(f.long("age"))
	p.RowVersion = f.time("row_version")
	if f.err != nil {
		return record.SourcePerson{}, mismatch(Avro, schemaSourcePerson, f.err)
	}
	return p, nil
}

func (c *avroCodec) EncodeSource(p record.SourcePerson) ([]byte, error) {
	return encodeAvroRecord(c.source, c.ids.SourceValue, map[string]any{
		"person_id":      p.PersonID,
		"first_name":     p.FirstName,
		"last_name":      p.LastName,
		"favorite_color": p.FavoriteColor,
		"age":            p.Age,
		"row_version":    p.RowVersion.UTC(),
	})
}

func (c *avroCodec) EncodeKey(k record.SinkKey) ([]byte, error) {
	return encodeAvroRecord(c.key, c.ids.SinkKey, map[string]any{
		"person_id": k.PersonID,
	})
}

func (c *avroCodec) DecodeKey(b []byte) (record.SinkKey, error) {
	m, err := decodeAvroRecord(c.key, c.ids.SinkKey > 0, b)
	if err != nil {
		return record.SinkKey{}, mismatch(Avro, schemaSinkKey, err)
	}
	f := avroFields{m: m}
	k := record.SinkKey{PersonID: f.long("person_id")}
	if f.err != nil {
		return record.SinkKey{}, mismatch(Avro, schemaSinkKey, f.err)
	}
	return k, nil
}

func (c *avroCodec) EncodeValue(p record.SinkPerson) ([]byte, error) {
	return encodeAvroRecord(c.value, c.ids.SinkValue, map[string]any{
		"person_id":      p.PersonID,
		"name":           p.Name,
		"favorite_color": p.FavoriteColor,
		"age":            p.Age,
	})
}

func (c *avroCodec) DecodeValue(b []byte) (record.SinkPerson, error) {
	m, err := decodeAvroRecord(c.value, c.ids.SinkValue > 0, b)
	if err != nil {
		return record.SinkPerson{}, mismatch(Avro, schemaSinkPerson, err)
	}
	f := avroFields{m: m}
	p := record.SinkPerson{
		PersonID:      f.long("person_id"),
		Name:          f.str("name"),
		FavoriteColor: f.str("favorite_color"),
		Age:           int32(f.long("age")),
	}
	if f.err != nil {
		return record.SinkPerson{}, mismatch(Avro, schemaSinkPerson, f.err)
	}
	return p, nil
}

// decodeAvroRecord strips the registry header only when the side has a
// schema id. An unframed record may itself start with a zero byte (a long
// field holding 0), so a leading 0x00 alone proves nothing.
func decodeAvroRecord(c *goavro.Codec, framed bool, b []byte) (map[string]any, error) {
	payload := b
	if framed {
		var err error
		if _, payload, err = unframe(b, false); err != nil {
			return nil, err
		}
	}
	native, rest, err := c.NativeFromBinary(payload)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%d trailing bytes", len(rest))
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decoded %T, want record", native)
	}
	return m, nil
}

func encodeAvroRecord(c *goavro.Codec, id int, datum map[string]any) ([]byte, error) {
	b, err := c.BinaryFromNative(nil, datum)
	if err != nil {
		return nil, fmt.Errorf("avro encode: %w", err)
	}
	return frame(id, false, b), nil
}

// avroFields reads typed values out of a goavro record map and keeps the
// first error.
type avroFields struct {
	m   map[string]any
	err error
}

func (f *avroFields) get(name string) (any, bool) {
	v, ok := f.m[name]
	if !ok && f.err == nil {
		f.err = fmt.Errorf("missing field %q", name)
	}
	return v, ok
}

func (f *avroFields) long(name string) int64 {
	v, ok := f.get(name)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	}
	f.fail(name, v)
	return 0
}

func (f *avroFields) str(name string) string {
	v, ok := f.get(name)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(name, v)
	}
	return s
}

func (f *avroFields) time(name string) time.Time {
	v, ok := f.get(name)
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case int64:
		return time.UnixMilli(t).UTC()
	}
	f.fail(name, v)
	return time.Time{}
}

func (f *avroFields) fail(name string, v any) {
	if f.err == nil {
		f.err = fmt.Errorf("field %q has type %T", name, v)
	}
}
