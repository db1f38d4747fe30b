package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"cdcrelay/internal/record"
	"cdcrelay/sink"
)

type saramaDriver struct {
	cfg sink.Config
	sc  *sarama.Config

	sp  sarama.SyncProducer
	ap  sarama.AsyncProducer
	ack sink.EmitFn
	wg  sync.WaitGroup
}

func (d *saramaDriver) Configure(cfg sink.Config) error {
	d.cfg = cfg
	sc, err := cfg.Cluster.Sarama()
	if err != nil {
		return err
	}
	sc.Producer.RequiredAcks = saramaAcks(cfg.Acks)
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if err := sc.Producer.Compression.UnmarshalText([]byte(cfg.Compression)); err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.sc = sc
	return nil
}

func saramaAcks(s string) sarama.RequiredAcks {
	switch strings.ToLower(s) {
	case sink.AcksNone:
		return sarama.NoResponse
	case sink.AcksLeader:
		return sarama.WaitForLocal
	default:
		return sarama.WaitForAll
	}
}

func (d *saramaDriver) Connect(context.Context) error {
	var err error
	if d.cfg.Mode == sink.ModeAsync {
		if d.ap, err = sarama.NewAsyncProducer(d.cfg.Cluster.Brokers, d.sc); err != nil {
			return &record.ConnectionError{Brokers: d.cfg.Cluster.Brokers, Err: err}
		}
		d.wg.Add(2)
		go d.successes()
		go d.errors()
		return nil
	}
	if d.sp, err = sarama.NewSyncProducer(d.cfg.Cluster.Brokers, d.sc); err != nil {
		return &record.ConnectionError{Brokers: d.cfg.Cluster.Brokers, Err: err}
	}
	return nil
}

func (d *saramaDriver) BindAck(fn sink.EmitFn) { d.ack = fn }

func (d *saramaDriver) message(m sink.Message) *sarama.ProducerMessage {
	topic := m.Topic
	if topic == "" {
		topic = d.cfg.Topic
	}
	pm := &sarama.ProducerMessage{
		Topic:    topic,
		Value:    sarama.ByteEncoder(m.Value),
		Metadata: m.Source,
	}
	if m.Key != nil {
		pm.Key = sarama.ByteEncoder(m.Key)
	}
	for k, v := range m.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: v})
	}
	return pm
}

func (d *saramaDriver) Produce(ctx context.Context, m sink.Message) (record.DeliveryAck, error) {
	pm := d.message(m)
	if d.ap != nil {
		select {
		case d.ap.Input() <- pm:
			return record.DeliveryAck{Topic: pm.Topic, Pending: true}, nil
		case <-ctx.Done():
			return record.DeliveryAck{}, ctx.Err()
		}
	}
	part, off, err := d.sp.SendMessage(pm)
	if err != nil {
		return record.DeliveryAck{}, &record.DeliveryError{Topic: pm.Topic, Envelope: m.Source, Err: err}
	}
	return record.DeliveryAck{Topic: pm.Topic, Partition: part, Offset: off}, nil
}

func (d *saramaDriver) successes() {
	defer d.wg.Done()
	for pm := range d.ap.Successes() {
		if d.ack != nil {
			d.ack(record.DeliveryAck{Topic: pm.Topic, Partition: pm.Partition, Offset: pm.Offset}, nil)
		}
	}
}

func (d *saramaDriver) errors() {
	defer d.wg.Done()
	for perr := range d.ap.Errors() {
		if d.ack == nil {
			continue
		}
		env, _ := perr.Msg.Metadata.(*record.Envelope)
		d.ack(record.DeliveryAck{Topic: perr.Msg.Topic},
			&record.DeliveryError{Topic: perr.Msg.Topic, Envelope: env, Err: perr.Err})
	}
}

func (d *saramaDriver) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		switch {
		case d.ap != nil:
			// successes and errors close once the buffered records are flushed
			d.ap.AsyncClose()
			d.wg.Wait()
			done <- nil
		case d.sp != nil:
			done <- d.sp.Close()
		default:
			done <- nil
		}
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("kafka-sink: flush: %w", ctx.Err())
	}
}

func init() { sink.Register("sarama", func() sink.Adapter { return &saramaDriver{} }) }
