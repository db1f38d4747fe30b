// Package record holds the values that move through the relay: the raw
// envelope read from the source topic, the decoded source and sink person
// rows, and the partition bookkeeping types shared by the broker drivers.
package record

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Event is what a consumer hands back from ConsumeNext: either an
// *Envelope or an EndOfPartition marker.
type Event interface {
	event()
}

// Envelope is one consumed record. Drivers build it once; nothing
// downstream mutates it.
type Envelope struct {
	Topic       string
	Partition   int32
	Offset      int64
	LeaderEpoch int32
	Timestamp   time.Time

	Key     []byte
	Value   []byte
	Headers map[string][]byte

	// KeySchemaID and ValueSchemaID are the registry ids read from the
	// payload headers, 0 for payloads without one. The codec still decides
	// whether a header applies to its format.
	KeySchemaID   int
	ValueSchemaID int
}

func (*Envelope) event() {}

// SchemaID returns the id of a schema registry header (magic byte 0 and a
// big-endian uint32), or 0 when b is too short to carry one.
func SchemaID(b []byte) int {
	if len(b) < 5 || b[0] != 0 {
		return 0
	}
	return int(binary.BigEndian.Uint32(b[1:5]))
}

func (e *Envelope) TopicPartition() TopicPartition {
	return TopicPartition{Topic: e.Topic, Partition: e.Partition}
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s[%d]@%d", e.Topic, e.Partition, e.Offset)
}

// EndOfPartition signals that the consumer has caught up with the tail of a
// partition. Offset is the next offset that will be read.
type EndOfPartition struct {
	Topic     string
	Partition int32
	Offset    int64
}

func (EndOfPartition) event() {}

func (e EndOfPartition) TopicPartition() TopicPartition {
	return TopicPartition{Topic: e.Topic, Partition: e.Partition}
}

// SourcePerson is the decoded change row of the source schema.
type SourcePerson struct {
	PersonID      int64
	FirstName     string
	LastName      string
	FavoriteColor string
	Age           int32
	RowVersion    time.Time
}

// SinkPerson is the flattened row of the sink schema. It carries no lineage:
// the source row version is not part of the sink schema.
type SinkPerson struct {
	PersonID      int64
	Name          string
	FavoriteColor string
	Age           int32
}

// SinkKey is always derived from the source person_id.
type SinkKey struct {
	PersonID int64
}

type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s[%d]", tp.Topic, tp.Partition)
}

// Assignment is the set of partitions owned by this consumer instance. A
// rebalance produces a fresh Assignment; existing values are never edited.
type Assignment []TopicPartition

func NewAssignment(parts map[string][]int32) Assignment {
	out := make(Assignment, 0, len(parts))
	for topic, ps := range parts {
		for _, p := range ps {
			out = append(out, TopicPartition{Topic: topic, Partition: p})
		}
	}
	slices.SortFunc(out, func(a, b TopicPartition) int {
		if c := strings.Compare(a.Topic, b.Topic); c != 0 {
			return c
		}
		return int(a.Partition - b.Partition)
	})
	return out
}

// Merge returns a new assignment holding the partitions of both.
func (a Assignment) Merge(b Assignment) Assignment {
	m := make(map[string][]int32, len(a)+len(b))
	seen := make(map[TopicPartition]struct{}, len(a)+len(b))
	for _, tp := range append(slices.Clone(a), b...) {
		if _, ok := seen[tp]; ok {
			continue
		}
		seen[tp] = struct{}{}
		m[tp.Topic] = append(m[tp.Topic], tp.Partition)
	}
	return NewAssignment(m)
}

// Without returns a new assignment lacking the partitions in b.
func (a Assignment) Without(b Assignment) Assignment {
	out := make(Assignment, 0, len(a))
	for _, tp := range a {
		if !b.Contains(tp) {
			out = append(out, tp)
		}
	}
	return out
}

func (a Assignment) Contains(tp TopicPartition) bool {
	return slices.Contains(a, tp)
}

func (a Assignment) String() string {
	parts := make([]string, len(a))
	for i, tp := range a {
		parts[i] = tp.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// DeliveryAck is the broker's acknowledgement of a produced record. Pending
// is set when the producer runs in async mode and the ack has not arrived yet.
type DeliveryAck struct {
	Topic     string
	Partition int32
	Offset    int64
	Pending   bool
}

func (a DeliveryAck) String() string {
	if a.Pending {
		return a.Topic + "[pending]"
	}
	return fmt.Sprintf("%s[%d]@%d", a.Topic, a.Partition, a.Offset)
}

// SinkRecord is the key/value pair produced for the sink topic.
type SinkRecord struct {
	Key   SinkKey
	Value SinkPerson
}

// Raw is an undecoded key/value pair, used when the relay runs without a
// typed schema and forwards bytes unchanged.
type Raw struct {
	Key   []byte
	Value []byte
}
