package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"cdcrelay/internal/codec"
	"cdcrelay/internal/logging"
	"cdcrelay/internal/record"
	"cdcrelay/internal/telemetry"
	"cdcrelay/sink"
	"cdcrelay/source/kafka"
)

// Processor turns a consumed record into the sink key and value.
type Processor interface {
	Process(env *record.Envelope) (key, value []byte, err error)
}

type Options struct {
	SourceTopics []string
	SinkTopic    string
	// Format labels skip metrics.
	Format codec.Format

	PollTimeout  time.Duration
	DrainTimeout time.Duration

	CommitPeriod   int64
	CommitInterval time.Duration

	// MaxRecordsPerSecond limits throughput; zero disables the limiter.
	MaxRecordsPerSecond float64
}

const consumeErrorBackoff = 100 * time.Millisecond

// Runner is the relay loop: consume, transform, produce, and commit every
// record of the source topics, one at a time.
type Runner struct {
	opts     Options
	consumer kafka.Adapter
	producer sink.Adapter
	proc     Processor
	policy   *CommitPolicy
	cursor   *Cursor
	limiter  *rate.Limiter
	metrics  *telemetry.Metrics
	log      *slog.Logger

	state      atomic.Int32
	assignment atomic.Pointer[record.Assignment]
	connected  bool

	mu        sync.Mutex
	listeners []func(State)
}

func NewRunner(consumer kafka.Adapter, producer sink.Adapter, proc Processor, m *telemetry.Metrics, opts Options) *Runner {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	if m == nil {
		m = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	r := &Runner{
		opts:     opts,
		consumer: consumer,
		producer: producer,
		proc:     proc,
		policy:   NewCommitPolicy(opts.CommitPeriod, opts.CommitInterval),
		cursor:   NewCursor(),
		metrics:  m,
		log:      logging.Component("relay"),
	}
	if opts.MaxRecordsPerSecond > 0 {
		burst := int(opts.MaxRecordsPerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.MaxRecordsPerSecond), burst)
	}
	empty := record.Assignment{}
	r.assignment.Store(&empty)
	if aw, ok := producer.(sink.AckAware); ok {
		aw.BindAck(r.onAsyncAck)
	}
	return r
}

// OnStateChange registers fn to be called on every state transition. It
// must be called before Start.
func (r *Runner) OnStateChange(fn func(State)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) Assignment() record.Assignment { return *r.assignment.Load() }

func (r *Runner) Cursor() *Cursor { return r.cursor }

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.notify(s)
}

// advance moves to the next state only if the runner is still in from, so a
// late rebalance cannot undo a drain.
func (r *Runner) advance(from, to State) bool {
	if !r.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	r.notify(to)
	return true
}

func (r *Runner) notify(s State) {
	r.metrics.State.Set(float64(s))
	r.mu.Lock()
	ls := append([]func(State){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range ls {
		fn(s)
	}
}

// Start connects the producer and subscribes the consumer. It can be
// retried after a *record.ConnectionError.
func (r *Runner) Start(ctx context.Context) error {
	r.setState(Starting)
	if !r.connected {
		if err := r.producer.Connect(ctx); err != nil {
			return err
		}
		r.connected = true
	}
	hooks := kafka.Hooks{OnAssigned: r.onAssigned, OnRevoked: r.onRevoked}
	if err := r.consumer.Subscribe(ctx, r.opts.SourceTopics, hooks); err != nil {
		return err
	}
	// the first assignment may already have moved the runner to Running
	r.advance(Starting, Subscribed)
	return nil
}

func (r *Runner) onAssigned(a record.Assignment) {
	next := r.Assignment().Merge(a)
	r.assignment.Store(&next)
	r.metrics.Assigned.Set(float64(len(next)))
	r.log.Info("partitions assigned", "assigned", a.String(), "now", next.String())
	if !r.advance(Subscribed, Running) {
		r.advance(Starting, Running)
	}
}

func (r *Runner) onRevoked(a record.Assignment) {
	next := r.Assignment().Without(a)
	r.assignment.Store(&next)
	r.metrics.Assigned.Set(float64(len(next)))
	r.log.Info("partitions revoked", "revoked", a.String(), "now", next.String())
}

func (r *Runner) onAsyncAck(ack record.DeliveryAck, err error) {
	if err == nil {
		r.metrics.Produced.WithLabelValues(ack.Topic).Inc()
		return
	}
	var de *record.DeliveryError
	if errors.As(err, &de) && de.Envelope != nil {
		r.log.Error("delivery failed", "topic", de.Envelope.Topic, "partition", de.Envelope.Partition,
			"offset", de.Envelope.Offset, "sink", de.Topic, "err", de.Err)
	} else {
		r.log.Error("delivery failed", "sink", ack.Topic, "err", err)
	}
	r.metrics.DeliveryFailures.WithLabelValues(ack.Topic).Inc()
}

// Run drives the loop until ctx is cancelled, then drains and closes the
// consumer and producer. A drain caused by cancellation returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if s := r.State(); s != Subscribed && s != Running {
		return fmt.Errorf("runner: cannot run in state %s", s)
	}
	for ctx.Err() == nil {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				break
			}
		}
		ev, err := r.consumer.ConsumeNext(ctx, r.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.log.Warn("consume failed", "err", err)
			r.metrics.ConsumeErrors.Inc()
			select {
			case <-ctx.Done():
			case <-time.After(consumeErrorBackoff):
			}
			continue
		}
		switch ev := ev.(type) {
		case nil:
		case record.EndOfPartition:
			r.log.Info("reached end of partition", "topic", ev.Topic, "partition", ev.Partition, "offset", ev.Offset)
			r.metrics.EndOfPartition.WithLabelValues(ev.Topic).Inc()
		case *record.Envelope:
			r.handle(ctx, ev)
		}
	}
	return r.drain(ctx)
}

// recordContext outlives ctx by at most the drain timeout so the record in
// flight at cancellation can still be produced and committed.
func (r *Runner) recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(r.opts.DrainTimeout, cancel)
	})
	return rctx, func() {
		stop()
		cancel()
	}
}

func (r *Runner) handle(ctx context.Context, env *record.Envelope) {
	log := r.log.With("topic", env.Topic, "partition", env.Partition, "offset", env.Offset)
	r.metrics.Consumed.WithLabelValues(env.Topic).Inc()
	rctx, cancel := r.recordContext(ctx)
	defer cancel()

	start := time.Now()
	key, value, err := r.proc.Process(env)
	if err != nil {
		var sm *codec.SchemaMismatchError
		if errors.As(err, &sm) {
			log.Warn("skipping record that does not match the schema", "format", string(sm.Format), "schema", sm.Schema,
				"value_schema_id", env.ValueSchemaID, "err", sm.Err)
		} else {
			log.Error("skipping record", "err", err)
		}
		r.metrics.Skipped.WithLabelValues(env.Topic, string(r.opts.Format)).Inc()
		r.maybeCommit(rctx, env, log)
		return
	}

	ack, err := r.producer.Produce(rctx, sink.Message{Topic: r.opts.SinkTopic, Key: key, Value: value, Source: env})
	if err != nil {
		log.Error("delivery failed, offset not committed", "sink", r.opts.SinkTopic, "err", err)
		r.metrics.DeliveryFailures.WithLabelValues(r.opts.SinkTopic).Inc()
		return
	}
	if !ack.Pending {
		r.metrics.Produced.WithLabelValues(ack.Topic).Inc()
		r.metrics.RelayDuration.Observe(time.Since(start).Seconds())
	}
	log.Debug("relayed", "ack", ack.String())
	r.maybeCommit(rctx, env, log)
}

func (r *Runner) maybeCommit(ctx context.Context, env *record.Envelope, log *slog.Logger) {
	if !r.policy.Due(env.Offset) {
		return
	}
	if err := r.consumer.Commit(ctx, env); err != nil {
		log.Warn("commit failed", "err", err)
		r.metrics.CommitFailures.WithLabelValues(env.Topic).Inc()
		return
	}
	r.policy.Committed()
	r.cursor.Advance(env.TopicPartition(), env.Offset+1)
	r.metrics.Commits.WithLabelValues(env.Topic).Inc()
	log.Debug("committed", "next", env.Offset+1)
}

func (r *Runner) drain(ctx context.Context) error {
	r.setState(Draining)
	r.log.Info("draining", "committed", len(r.cursor.Snapshot()))
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.DrainTimeout)
	defer cancel()

	if err := r.consumer.Close(dctx); err != nil {
		r.log.Warn("consumer close", "err", err)
	}
	if err := r.producer.Close(dctx); err != nil {
		r.log.Warn("producer close", "err", err)
	}
	r.setState(Closed)
	r.log.Info("closed")
	return nil
}

// Close releases the consumer and producer of a runner that never reached
// Run, e.g. after a failed Start.
func (r *Runner) Close(ctx context.Context) error {
	if r.State() == Closed {
		return nil
	}
	return r.drain(ctx)
}
