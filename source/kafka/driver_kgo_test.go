package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"cdcrelay/internal/record"
)

func TestEventsFromFetches(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	fetches := kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic: "people",
		Partitions: []kgo.FetchPartition{
			{
				Partition:     0,
				HighWatermark: 2,
				Records: []*kgo.Record{
					{Topic: "people", Partition: 0, Offset: 0, LeaderEpoch: 3, Timestamp: ts, Value: []byte("a"),
						Headers: []kgo.RecordHeader{{Key: "h", Value: []byte("v")}}},
					{Topic: "people", Partition: 0, Offset: 1, Value: []byte("b")},
				},
			},
			{
				Partition:     1,
				HighWatermark: 10,
				Records:       []*kgo.Record{{Topic: "people", Partition: 1, Offset: 4}},
			},
		},
	}}}}

	out, err := eventsFromFetches(fetches, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 events, got %d: %#v", len(out), out)
	}
	first := out[0].(*record.Envelope)
	if first.LeaderEpoch != 3 || !first.Timestamp.Equal(ts) || string(first.Headers["h"]) != "v" {
		t.Fatalf("unexpected envelope %#v", first)
	}
	eof, ok := out[2].(record.EndOfPartition)
	if !ok || eof.Partition != 0 || eof.Offset != 2 {
		t.Fatalf("expected EOF for partition 0 at 2, got %#v", out[2])
	}
	if env, ok := out[3].(*record.Envelope); !ok || env.Partition != 1 {
		t.Fatalf("partition 1 has not reached its high watermark, got %#v", out[3])
	}
}

func TestEventsFromFetchesErrors(t *testing.T) {
	boom := errors.New("boom")
	fetches := kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "people",
		Partitions: []kgo.FetchPartition{{Partition: 0, Err: boom}},
	}}}}
	out, err := eventsFromFetches(fetches, nil)
	if !errors.Is(err, boom) || len(out) != 0 {
		t.Fatalf("expected boom, got %v %v", out, err)
	}
}

func TestKgoDriverPop(t *testing.T) {
	d := &KgoDriver{buf: []record.Event{record.EndOfPartition{Offset: 1}, &record.Envelope{Offset: 2}}}
	ev, ok := d.pop()
	if !ok || ev.(record.EndOfPartition).Offset != 1 {
		t.Fatalf("unexpected %v", ev)
	}
	ev, _ = d.pop()
	if ev.(*record.Envelope).Offset != 2 {
		t.Fatalf("unexpected %v", ev)
	}
	if _, ok := d.pop(); ok {
		t.Fatal("buffer should be empty")
	}
}

func TestKgoDriverConfigure(t *testing.T) {
	d := &KgoDriver{}
	cfg := Config{GroupID: "g", Topics: []string{"people"}}
	cfg.Brokers = []string{"localhost:9092"}
	cfg.ApplyDefaults()
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if len(d.opts) < 7 {
		t.Fatalf("expected group options, got %d", len(d.opts))
	}
}

func TestKgoDriverRevokeDropsBuffered(t *testing.T) {
	d := &KgoDriver{}
	cfg := Config{GroupID: "g", Topics: []string{"people"}}
	cfg.Brokers = []string{"localhost:9092"}
	cfg.ApplyDefaults()
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	d.buf = []record.Event{
		&record.Envelope{Topic: "people", Partition: 0, Offset: 7},
		&record.Envelope{Topic: "people", Partition: 1, Offset: 3},
		record.EndOfPartition{Topic: "people", Partition: 1, Offset: 4},
		&record.Envelope{Topic: "people", Partition: 0, Offset: 8},
	}

	var revoked record.Assignment
	hooks := Hooks{OnRevoked: func(a record.Assignment) { revoked = a }}
	d.revoke(hooks, record.Assignment{{Topic: "people", Partition: 1}})

	if revoked.String() != "[people[1]]" {
		t.Fatalf("hook got %s", revoked)
	}
	var offsets []int64
	for {
		ev, ok := d.pop()
		if !ok {
			break
		}
		env, isEnv := ev.(*record.Envelope)
		if !isEnv || env.Partition != 0 {
			t.Fatalf("revoked partition still buffered: %#v", ev)
		}
		offsets = append(offsets, env.Offset)
	}
	if len(offsets) != 2 || offsets[0] != 7 || offsets[1] != 8 {
		t.Fatalf("kept offsets %v, want [7 8]", offsets)
	}
}

func TestKgoEnvelopeSchemaIDs(t *testing.T) {
	env := kgoEnvelope(&kgo.Record{
		Topic: "people",
		Key:   []byte{0, 0, 0, 0, 9, 0x08},
		Value: []byte{0, 0, 0, 1, 44, 0, 0x08, 0x01},
	})
	if env.KeySchemaID != 9 || env.ValueSchemaID != 300 {
		t.Fatalf("schema ids key=%d value=%d", env.KeySchemaID, env.ValueSchemaID)
	}
	if env := kgoEnvelope(&kgo.Record{Value: []byte(`{"person_id":1}`)}); env.ValueSchemaID != 0 {
		t.Fatalf("unframed value got id %d", env.ValueSchemaID)
	}
}
