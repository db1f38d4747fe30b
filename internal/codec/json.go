package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"cdcrelay/internal/record"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const JSONSinkPerson = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "sink.v1.person",
  "type": "object",
  "properties": {
    "person_id": {"type": "integer"},
    "name": {"type": "string"},
    "favorite_color": {"type": "string"},
    "age": {"type": "integer"}
  },
  "required": ["person_id", "name"]
}`

const JSONSinkKey = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "sink.v1.Key",
  "type": "object",
  "properties": {
    "person_id": {"type": "integer"}
  },
  "required": ["person_id"]
}`

const JSONSourcePerson = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "source.v1.person",
  "type": "object",
  "properties": {
    "person_id": {"type": "integer"},
    "first_name": {"type": "string"},
    "last_name": {"type": "string"},
    "favorite_color": {"type": "string"},
    "age": {"type": "integer"},
    "row_version": {"type": ["string", "integer"]}
  },
  "required": ["person_id"]
}`

var errNoAfterImage = errors.New("change event has no after image")

type jsonSource struct {
	PersonID      *int64      `json:"person_id"`
	FirstName     string      `json:"first_name"`
	LastName      string      `json:"last_name"`
	FavoriteColor string      `json:"favorite_color"`
	Age           int32       `json:"age"`
	RowVersion    jsonVersion `json:"row_version,omitempty"`
}

type jsonSink struct {
	PersonID      *int64 `json:"person_id"`
	Name          string `json:"name"`
	FavoriteColor string `json:"favorite_color"`
	Age           int32  `json:"age"`
}

type jsonKey struct {
	PersonID *int64 `json:"person_id"`
}

// jsonVersion accepts epoch milliseconds or an RFC 3339 string. Other
// strings (binary rowversion tokens, LSNs) decode to the zero time since the
// sink schema never carries the value.
type jsonVersion struct {
	time.Time
}

func (v *jsonVersion) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			v.Time = t
		}
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("row_version: %w", err)
	}
	v.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (v jsonVersion) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(v.UTC().Format(time.RFC3339Nano))), nil
}

// changeEvent covers both the bare Debezium value ({before, after, op}) and
// the schema-wrapped form ({schema, payload}).
type changeEvent struct {
	Payload jsoniter.RawMessage `json:"payload"`
	After   jsoniter.RawMessage `json:"after"`
	Op      string              `json:"op"`
}

type jsonCodec struct {
	ids IDs
}

func (*jsonCodec) Format() Format { return JSON }

func (c *jsonCodec) DecodeSource(b []byte) (record.SourcePerson, error) {
	_, payload, err := unframe(b, false)
	if err != nil {
		return record.SourcePerson{}, mismatch(JSON, schemaSourcePerson, err)
	}
	row, err := afterImage(payload)
	if err != nil {
		return record.SourcePerson{}, mismatch(JSON, schemaSourcePerson, err)
	}
	var s jsonSource
	if err := json.Unmarshal(row, &s); err != nil {
		return record.SourcePerson{}, mismatch(JSON, schemaSourcePerson, err)
	}
	if s.PersonID == nil {
		return record.SourcePerson{}, mismatch(JSON, schemaSourcePerson, errors.New(`missing "person_id"`))
	}
	return record.SourcePerson{
		PersonID:      *s.PersonID,
		FirstName:     s.FirstName,
		LastName:      s.LastName,
		FavoriteColor: s.FavoriteColor,
		Age:           s.Age,
		RowVersion:    s.RowVersion.Time,
	}, nil
}

// afterImage unwraps change-event envelopes down to the row itself.
func afterImage(b []byte) ([]byte, error) {
	for depth := 0; depth < 2; depth++ {
		var ev changeEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, err
		}
		switch {
		case len(ev.Payload) > 0 && !isNull(ev.Payload):
			b = ev.Payload
		case ev.Op != "" || len(ev.After) > 0:
			if len(ev.After) == 0 || isNull(ev.After) {
				return nil, fmt.Errorf("%w (op=%q)", errNoAfterImage, ev.Op)
			}
			return ev.After, nil
		default:
			return b, nil
		}
	}
	return b, nil
}

func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

func (c *jsonCodec) EncodeSource(p record.SourcePerson) ([]byte, error) {
	id := p.PersonID
	b, err := json.Marshal(jsonSource{
		PersonID:      &id,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		FavoriteColor: p.FavoriteColor,
		Age:           p.Age,
		RowVersion:    jsonVersion{p.RowVersion},
	})
	if err != nil {
		return nil, err
	}
	return frame(c.ids.SourceValue, false, b), nil
}

func (c *jsonCodec) EncodeKey(k record.SinkKey) ([]byte, error) {
	id := k.PersonID
	b, err := json.Marshal(jsonKey{PersonID: &id})
	if err != nil {
		return nil, err
	}
	return frame(c.ids.SinkKey, false, b), nil
}

func (c *jsonCodec) DecodeKey(b []byte) (record.SinkKey, error) {
	var k jsonKey
	if err := unmarshalFramed(b, &k); err != nil {
		return record.SinkKey{}, mismatch(JSON, schemaSinkKey, err)
	}
	if k.PersonID == nil {
		return record.SinkKey{}, mismatch(JSON, schemaSinkKey, errors.New(`missing "person_id"`))
	}
	return record.SinkKey{PersonID: *k.PersonID}, nil
}

func (c *jsonCodec) EncodeValue(p record.SinkPerson) ([]byte, error) {
	id := p.PersonID
	b, err := json.Marshal(jsonSink{
		PersonID:      &id,
		Name:          p.Name,
		FavoriteColor: p.FavoriteColor,
		Age:           p.Age,
	})
	if err != nil {
		return nil, err
	}
	return frame(c.ids.SinkValue, false, b), nil
}

func (c *jsonCodec) DecodeValue(b []byte) (record.SinkPerson, error) {
	var s jsonSink
	if err := unmarshalFramed(b, &s); err != nil {
		return record.SinkPerson{}, mismatch(JSON, schemaSinkPerson, err)
	}
	if s.PersonID == nil {
		return record.SinkPerson{}, mismatch(JSON, schemaSinkPerson, errors.New(`missing "person_id"`))
	}
	return record.SinkPerson{
		PersonID:      *s.PersonID,
		Name:          s.Name,
		FavoriteColor: s.FavoriteColor,
		Age:           s.Age,
	}, nil
}

func unmarshalFramed(b []byte, v any) error {
	_, payload, err := unframe(b, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}
