package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"cdcrelay/internal/record"
	"cdcrelay/sink"
)

type kgoDriver struct {
	cfg  sink.Config
	opts []kgo.Opt
	cl   *kgo.Client
	ack  sink.EmitFn
}

func (d *kgoDriver) Configure(cfg sink.Config) error {
	d.cfg = cfg
	opts, err := cfg.Cluster.KgoOpts()
	if err != nil {
		return err
	}
	codec, err := kgoCompression(cfg.Compression)
	if err != nil {
		return err
	}
	opts = append(opts,
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(codec),
		kgo.RecordRetries(cfg.MaxRetries),
	)
	switch strings.ToLower(cfg.Acks) {
	case sink.AcksNone:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case sink.AcksLeader:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	d.opts = opts
	return nil
}

func kgoCompression(s string) (kgo.CompressionCodec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	}
	return kgo.CompressionCodec{}, fmt.Errorf("kafka-sink: unknown compression %q", s)
}

func (d *kgoDriver) Connect(ctx context.Context) error {
	cl, err := kgo.NewClient(d.opts...)
	if err != nil {
		return &record.ConnectionError{Brokers: d.cfg.Cluster.Brokers, Err: err}
	}
	if err := cl.Ping(ctx); err != nil {
		cl.Close()
		return &record.ConnectionError{Brokers: d.cfg.Cluster.Brokers, Err: err}
	}
	d.cl = cl
	return nil
}

func (d *kgoDriver) BindAck(fn sink.EmitFn) { d.ack = fn }

func kgoRecord(m sink.Message) *kgo.Record {
	r := &kgo.Record{Topic: m.Topic, Key: m.Key, Value: m.Value}
	for k, v := range m.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: v})
	}
	return r
}

func (d *kgoDriver) Produce(ctx context.Context, m sink.Message) (record.DeliveryAck, error) {
	rec := kgoRecord(m)
	topic := m.Topic
	if topic == "" {
		topic = d.cfg.Topic
	}

	if d.cfg.Mode == sink.ModeAsync {
		src := m.Source
		// franz-go fails a buffered record once its context is done. The
		// caller's context ends with the record's turn in the loop, long
		// before delivery; record retries and Flush on Close bound it instead.
		d.cl.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
			if d.ack == nil {
				return
			}
			if err != nil {
				d.ack(record.DeliveryAck{Topic: topic}, &record.DeliveryError{Topic: topic, Envelope: src, Err: err})
				return
			}
			d.ack(record.DeliveryAck{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}, nil)
		})
		return record.DeliveryAck{Topic: topic, Pending: true}, nil
	}

	r, err := d.cl.ProduceSync(ctx, rec).First()
	if err != nil {
		return record.DeliveryAck{}, &record.DeliveryError{Topic: topic, Envelope: m.Source, Err: err}
	}
	return record.DeliveryAck{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}, nil
}

func (d *kgoDriver) Close(ctx context.Context) error {
	if d.cl == nil {
		return nil
	}
	defer d.cl.Close()
	if err := d.cl.Flush(ctx); err != nil {
		return fmt.Errorf("kafka-sink: flush: %w", err)
	}
	return nil
}

func init() { sink.Register("kgo", func() sink.Adapter { return &kgoDriver{} }) }
