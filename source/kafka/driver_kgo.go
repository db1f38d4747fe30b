package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"cdcrelay/internal/logging"
	"cdcrelay/internal/record"
)

// KgoDriver consumes through a franz-go group client. Records of one poll
// are buffered and handed out one by one; the next poll happens only when
// the buffer is empty. Buffered records of revoked or lost partitions are
// dropped, the new owner reads them from the committed offset.
type KgoDriver struct {
	cfg  Config
	opts []kgo.Opt
	log  *slog.Logger

	cl *kgo.Client

	mu  sync.Mutex
	buf []record.Event
}

func (d *KgoDriver) Configure(config Config) error {
	d.cfg = config
	d.log = logging.Component("consumer").With("driver", "kgo")

	opts, err := config.KgoOpts()
	if err != nil {
		return err
	}
	reset := kgo.NewOffset().AtStart()
	if config.StartFrom == StartLatest {
		reset = kgo.NewOffset().AtEnd()
	}
	d.opts = append(opts,
		kgo.ConsumerGroup(config.GroupID),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(reset),
		kgo.SessionTimeout(config.SessionTimeout),
		kgo.RetryBackoffFn(func(int) time.Duration { return config.RetryBackoff }),
		kgo.DialTimeout(config.DiscoveryTimeout),
	)
	return nil
}

func (d *KgoDriver) Subscribe(ctx context.Context, topics []string, hooks Hooks) error {
	opts := append(d.opts,
		kgo.ConsumeTopics(topics...),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			hooks.assigned(record.NewAssignment(m))
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			d.revoke(hooks, record.NewAssignment(m))
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			d.revoke(hooks, record.NewAssignment(m))
		}),
	)
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return &record.ConnectionError{Brokers: d.cfg.Brokers, Err: err}
	}
	pctx, cancel := context.WithTimeout(ctx, d.cfg.DiscoveryTimeout)
	defer cancel()
	if err := cl.Ping(pctx); err != nil {
		cl.Close()
		return &record.ConnectionError{Brokers: d.cfg.Brokers, Err: err}
	}
	d.cl = cl
	d.log.Info("subscribed", "topics", topics, "group", d.cfg.GroupID)
	return nil
}

func (d *KgoDriver) ConsumeNext(ctx context.Context, timeout time.Duration) (record.Event, error) {
	if ev, ok := d.pop(); ok {
		return ev, nil
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fetches := d.cl.PollFetches(pctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetches.IsClientClosed() {
		return nil, errClosed
	}
	events, ferr := eventsFromFetches(fetches, nil)
	d.mu.Lock()
	d.buf = append(d.buf, events...)
	d.mu.Unlock()
	if ev, ok := d.pop(); ok {
		if ferr != nil {
			d.log.Warn("partial fetch", "err", ferr)
		}
		return ev, nil
	}
	return nil, ferr
}

func (d *KgoDriver) pop() (record.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buf) == 0 {
		return nil, false
	}
	ev := d.buf[0]
	d.buf[0] = nil
	d.buf = d.buf[1:]
	return ev, true
}

func (d *KgoDriver) revoke(hooks Hooks, a record.Assignment) {
	if n := d.drop(a); n > 0 {
		d.log.Info("dropped buffered records of revoked partitions", "revoked", a.String(), "dropped", n)
	}
	hooks.revoked(a)
}

// drop removes buffered events of the partitions in a and reports how many
// were removed.
func (d *KgoDriver) drop(a record.Assignment) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.buf[:0]
	for _, ev := range d.buf {
		if !a.Contains(eventPartition(ev)) {
			kept = append(kept, ev)
		}
	}
	n := len(d.buf) - len(kept)
	clear(d.buf[len(kept):])
	d.buf = kept
	return n
}

func eventPartition(ev record.Event) record.TopicPartition {
	switch ev := ev.(type) {
	case *record.Envelope:
		return ev.TopicPartition()
	case record.EndOfPartition:
		return ev.TopicPartition()
	}
	return record.TopicPartition{}
}

// eventsFromFetches flattens a poll into envelopes, appending an
// EndOfPartition after the last record of a partition that reached its
// high watermark. Poll deadline errors are not errors here.
func eventsFromFetches(fetches kgo.Fetches, out []record.Event) ([]record.Event, error) {
	var first error
	fetches.EachError(func(t string, p int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		if first == nil {
			first = err
		}
	})
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if len(p.Records) == 0 {
			return
		}
		for _, r := range p.Records {
			out = append(out, kgoEnvelope(r))
		}
		last := p.Records[len(p.Records)-1]
		if next := last.Offset + 1; next >= p.HighWatermark {
			out = append(out, record.EndOfPartition{Topic: p.Topic, Partition: p.Partition, Offset: next})
		}
	})
	return out, first
}

func kgoEnvelope(r *kgo.Record) *record.Envelope {
	var headers map[string][]byte
	if len(r.Headers) > 0 {
		headers = make(map[string][]byte, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = h.Value
		}
	}
	return &record.Envelope{
		Topic:       r.Topic,
		Partition:   r.Partition,
		Offset:      r.Offset,
		LeaderEpoch: r.LeaderEpoch,
		Timestamp:   r.Timestamp,
		Key:         r.Key,
		Value:       r.Value,
		Headers:     headers,

		KeySchemaID:   record.SchemaID(r.Key),
		ValueSchemaID: record.SchemaID(r.Value),
	}
}

// Commit commits offset+1 for the envelope's partition.
func (d *KgoDriver) Commit(ctx context.Context, env *record.Envelope) error {
	err := d.cl.CommitRecords(ctx, &kgo.Record{
		Topic:       env.Topic,
		Partition:   env.Partition,
		Offset:      env.Offset,
		LeaderEpoch: env.LeaderEpoch,
	})
	if err != nil {
		return &record.CommitError{TopicPartition: env.TopicPartition(), Offset: env.Offset, Err: err}
	}
	return nil
}

// Close leaves the group and closes the client.
func (d *KgoDriver) Close(context.Context) error {
	if d.cl != nil {
		d.cl.Close()
	}
	return nil
}
