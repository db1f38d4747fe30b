package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"cdcrelay/internal/logging"
	"cdcrelay/internal/record"
)

var (
	errNotAssigned = errors.New("partition is not assigned to this member")
	errClosed      = errors.New("consumer is closed")
)

// commitErrorWait bounds how long Commit waits for a rejected offset commit
// to travel from sarama's offset manager to the group error channel.
const commitErrorWait = 25 * time.Millisecond

// SaramaDriver consumes through a sarama consumer group. The group runs in
// its own goroutine and hands records over one at a time through an
// unbuffered channel, so a partition never gets ahead of the relay loop.
type SaramaDriver struct {
	cfg Config
	sc  *sarama.Config
	log *slog.Logger

	cl    sarama.Client
	group sarama.ConsumerGroup
	hooks Hooks

	events chan record.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	sessions map[record.TopicPartition]sarama.ConsumerGroupSession

	// partition errors from the group, read by Commit
	partErrs chan *sarama.ConsumerError
	errWait  time.Duration
}

func (d *SaramaDriver) Configure(config Config) error {
	d.cfg = config
	d.log = logging.Component("consumer").With("driver", "sarama")

	sc, err := config.Sarama()
	if err != nil {
		return err
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	sc.Consumer.Group.Session.Timeout = config.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = config.SessionTimeout / 3
	sc.Consumer.Retry.Backoff = config.RetryBackoff
	sc.Net.DialTimeout = config.DiscoveryTimeout
	sc.Metadata.Retry.Backoff = config.RetryBackoff
	switch config.StartFrom {
	case StartLatest:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	d.sc = sc
	d.events = make(chan record.Event)
	d.sessions = make(map[record.TopicPartition]sarama.ConsumerGroupSession)
	d.partErrs = make(chan *sarama.ConsumerError, sc.ChannelBufferSize)
	d.errWait = commitErrorWait
	return nil
}

func (d *SaramaDriver) Subscribe(ctx context.Context, topics []string, hooks Hooks) error {
	var err error
	if d.cl, err = sarama.NewClient(d.cfg.Brokers, d.sc); err != nil {
		return &record.ConnectionError{Brokers: d.cfg.Brokers, Err: err}
	}
	if d.group, err = sarama.NewConsumerGroupFromClient(d.cfg.GroupID, d.cl); err != nil {
		_ = d.cl.Close()
		return &record.ConnectionError{Brokers: d.cfg.Brokers, Err: err}
	}
	d.hooks = hooks

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		for err := range d.group.Errors() {
			d.log.Warn("consumer group error", "err", err)
			var ce *sarama.ConsumerError
			if errors.As(err, &ce) {
				select {
				case d.partErrs <- ce:
				default:
				}
			}
		}
	}()
	go func() {
		defer close(d.done)
		handler := &groupHandler{driver: d}
		for {
			if err := d.group.Consume(runCtx, topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				d.log.Error("consume session ended", "err", err)
				select {
				case <-runCtx.Done():
					return
				case <-time.After(d.cfg.RetryBackoff):
				}
			}
			if runCtx.Err() != nil {
				return
			}
		}
	}()
	d.log.Info("subscribed", "topics", topics, "group", d.cfg.GroupID)
	return nil
}

func (d *SaramaDriver) ConsumeNext(ctx context.Context, timeout time.Duration) (record.Event, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev := <-d.events:
		return ev, nil
	case <-d.done:
		return nil, errClosed
	case <-t.C:
		return nil, nil
	}
}

// Commit marks offset+1 on the session that owns the partition and flushes
// it synchronously. sarama reports a rejected commit on the group error
// channel rather than from session.Commit, so errors for the partition that
// show up shortly after the flush fail the commit.
func (d *SaramaDriver) Commit(ctx context.Context, env *record.Envelope) error {
	tp := env.TopicPartition()
	d.mu.Lock()
	sess, ok := d.sessions[tp]
	d.mu.Unlock()
	if !ok {
		return &record.CommitError{TopicPartition: tp, Offset: env.Offset, Err: errNotAssigned}
	}
	if err := sess.Context().Err(); err != nil {
		return &record.CommitError{TopicPartition: tp, Offset: env.Offset, Err: err}
	}
	d.discardPartitionErrors()
	sess.MarkOffset(env.Topic, env.Partition, env.Offset+1, "")
	sess.Commit()
	if err := d.awaitPartitionError(ctx, tp); err != nil {
		return &record.CommitError{TopicPartition: tp, Offset: env.Offset, Err: err}
	}
	return nil
}

// discardPartitionErrors drops errors raised before this commit, e.g. by
// fetches, so they are not blamed on it.
func (d *SaramaDriver) discardPartitionErrors() {
	for {
		select {
		case <-d.partErrs:
		default:
			return
		}
	}
}

func (d *SaramaDriver) awaitPartitionError(ctx context.Context, tp record.TopicPartition) error {
	t := time.NewTimer(d.errWait)
	defer t.Stop()
	for {
		select {
		case ce := <-d.partErrs:
			if ce.Topic == tp.Topic && ce.Partition == tp.Partition {
				return ce.Err
			}
		case <-t.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *SaramaDriver) Close(ctx context.Context) error {
	if d.group == nil {
		return nil
	}
	d.cancel()
	err := d.group.Close()
	select {
	case <-d.done:
	case <-ctx.Done():
		d.log.Warn("consumer did not stop in time", "err", ctx.Err())
	}
	if cerr := d.cl.Close(); cerr != nil && !errors.Is(cerr, sarama.ErrClosedClient) && err == nil {
		err = cerr
	}
	return err
}

type groupHandler struct {
	driver *SaramaDriver
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	a := record.NewAssignment(sess.Claims())
	h.driver.mu.Lock()
	for _, tp := range a {
		h.driver.sessions[tp] = sess
	}
	h.driver.mu.Unlock()
	h.driver.hooks.assigned(a)
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	a := record.NewAssignment(sess.Claims())
	h.driver.mu.Lock()
	for _, tp := range a {
		if h.driver.sessions[tp] == sess {
			delete(h.driver.sessions, tp)
		}
	}
	h.driver.mu.Unlock()
	h.driver.hooks.revoked(a)
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.push(sess, toEnvelope(msg)) {
				return nil
			}
			if next := msg.Offset + 1; next >= claim.HighWaterMarkOffset() {
				eof := record.EndOfPartition{Topic: msg.Topic, Partition: msg.Partition, Offset: next}
				if !h.push(sess, eof) {
					return nil
				}
			}
		}
	}
}

func (h *groupHandler) push(sess sarama.ConsumerGroupSession, ev record.Event) bool {
	select {
	case h.driver.events <- ev:
		return true
	case <-sess.Context().Done():
		return false
	}
}

func toEnvelope(msg *sarama.ConsumerMessage) *record.Envelope {
	return &record.Envelope{
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		LeaderEpoch: -1,
		Timestamp:   msg.Timestamp,
		Key:         msg.Key,
		Value:       msg.Value,
		Headers:     toHeaderMap(msg.Headers),

		KeySchemaID:   record.SchemaID(msg.Key),
		ValueSchemaID: record.SchemaID(msg.Value),
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[string(h.Key)] = h.Value
	}
	return out
}

