package codec

import (
	"fmt"

	"cdcrelay/internal/record"
)

// RawFromEnvelope is the identity decoder: key and value bytes are forwarded
// without looking at them.
func RawFromEnvelope(env *record.Envelope) record.Raw {
	return record.Raw{Key: env.Key, Value: env.Value}
}

// SchemaSet holds the schema documents of one format, as registered under
// the source value, sink key and sink value subjects.
type SchemaSet struct {
	SourceValue string
	SinkKey     string
	SinkValue   string
}

func Schemas(f Format) (SchemaSet, error) {
	switch f {
	case Protobuf:
		return SchemaSet{ProtoSourcePerson, ProtoSinkKey, ProtoSinkPerson}, nil
	case Avro:
		return SchemaSet{AvroSourcePerson, AvroSinkKey, AvroSinkPerson}, nil
	case JSON:
		return SchemaSet{JSONSourcePerson, JSONSinkKey, JSONSinkPerson}, nil
	}
	return SchemaSet{}, fmt.Errorf("codec: no schemas for format %q", f)
}
