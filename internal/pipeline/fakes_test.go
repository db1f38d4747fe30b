package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdcrelay/internal/record"
	"cdcrelay/sink"
	"cdcrelay/source/kafka"
)

type fakeConsumer struct {
	mu        sync.Mutex
	events    []record.Event
	commits   []int64
	commitErr map[int64]error
	closed    bool
	hooks     kafka.Hooks
	subErr    error
	assign    record.Assignment
	// onEmpty runs once the scripted events are used up.
	onEmpty func()
}

func (c *fakeConsumer) Configure(kafka.Config) error { return nil }

func (c *fakeConsumer) Subscribe(_ context.Context, _ []string, hooks kafka.Hooks) error {
	if c.subErr != nil {
		return c.subErr
	}
	c.hooks = hooks
	if c.assign != nil && hooks.OnAssigned != nil {
		hooks.OnAssigned(c.assign)
	}
	return nil
}

func (c *fakeConsumer) ConsumeNext(ctx context.Context, _ time.Duration) (record.Event, error) {
	for {
		c.mu.Lock()
		if len(c.events) > 0 {
			ev := c.events[0]
			c.events = c.events[1:]
			c.mu.Unlock()
			return ev, nil
		}
		onEmpty := c.onEmpty
		c.onEmpty = nil
		c.mu.Unlock()
		if onEmpty == nil {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		onEmpty()
	}
}

func (c *fakeConsumer) Commit(_ context.Context, env *record.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.commitErr[env.Offset]; err != nil {
		return &record.CommitError{TopicPartition: env.TopicPartition(), Offset: env.Offset, Err: err}
	}
	c.commits = append(c.commits, env.Offset)
	return nil
}

func (c *fakeConsumer) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeProducer struct {
	mu        sync.Mutex
	produced  []sink.Message
	failAt    map[int64]bool
	closed    bool
	connected int
	connErr   error
	// during runs inside Produce before the outcome is decided.
	during func(ctx context.Context)
	ack    sink.EmitFn
}

func (p *fakeProducer) Configure(sink.Config) error { return nil }

func (p *fakeProducer) Connect(context.Context) error {
	p.connected++
	return p.connErr
}

func (p *fakeProducer) Produce(ctx context.Context, m sink.Message) (record.DeliveryAck, error) {
	if p.during != nil {
		p.during(ctx)
	}
	if err := ctx.Err(); err != nil {
		return record.DeliveryAck{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Source != nil && p.failAt[m.Source.Offset] {
		return record.DeliveryAck{}, &record.DeliveryError{Topic: m.Topic, Envelope: m.Source, Err: errors.New("NOT_ENOUGH_REPLICAS")}
	}
	p.produced = append(p.produced, m)
	return record.DeliveryAck{Topic: m.Topic, Offset: int64(len(p.produced) - 1)}, nil
}

func (p *fakeProducer) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type asyncProducer struct {
	fakeProducer
}

func (p *asyncProducer) BindAck(fn sink.EmitFn) { p.ack = fn }

func person(offset int64) *record.Envelope {
	return &record.Envelope{
		Topic:  "people",
		Offset: offset,
		Value: []byte(fmt.Sprintf(
			`{"person_id":%d,"first_name":"First%d","last_name":"Last","favorite_color":"Green","age":29}`, offset, offset)),
	}
}

func garbage(offset int64) *record.Envelope {
	return &record.Envelope{Topic: "people", Offset: offset, Value: []byte(`{"name":"not a person"}`)}
}

func envelopes(from, to int64, bad ...int64) []record.Event {
	var out []record.Event
	for off := from; off <= to; off++ {
		isBad := false
		for _, b := range bad {
			isBad = isBad || b == off
		}
		if isBad {
			out = append(out, garbage(off))
		} else {
			out = append(out, person(off))
		}
	}
	return out
}
