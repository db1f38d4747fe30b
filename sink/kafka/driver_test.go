package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"cdcrelay/internal/record"
	"cdcrelay/sink"
)

func testConfig(mode string) sink.Config {
	c := sink.Config{Topic: "people-sink", Mode: mode}
	c.ApplyDefaults()
	c.Cluster.Brokers = []string{"localhost:9092"}
	return c
}

func TestSaramaConfigure(t *testing.T) {
	c := testConfig(sink.ModeSync)
	c.Acks = sink.AcksLeader
	c.Compression = "zstd"
	d := &saramaDriver{}
	require.NoError(t, d.Configure(c))
	assert.Equal(t, sarama.WaitForLocal, d.sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionZSTD, d.sc.Producer.Compression)
	assert.True(t, d.sc.Producer.Return.Successes)

	c.Compression = "brotli"
	assert.Error(t, d.Configure(c))
}

func TestSaramaMessage(t *testing.T) {
	d := &saramaDriver{cfg: testConfig(sink.ModeSync)}
	env := &record.Envelope{Topic: "people", Offset: 4}
	pm := d.message(sink.Message{Key: []byte("k"), Value: []byte("v"), Headers: map[string][]byte{"h": []byte("1")}, Source: env})
	assert.Equal(t, "people-sink", pm.Topic)
	assert.Equal(t, sarama.ByteEncoder("k"), pm.Key)
	assert.Same(t, env, pm.Metadata)
	require.Len(t, pm.Headers, 1)

	pm = d.message(sink.Message{Topic: "other", Value: []byte("v")})
	assert.Equal(t, "other", pm.Topic)
	assert.Nil(t, pm.Key)
}

func TestSaramaSyncProduce(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndSucceed()
	mp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	d := &saramaDriver{cfg: testConfig(sink.ModeSync), sp: mp}
	env := &record.Envelope{Topic: "people", Offset: 7}

	ack, err := d.Produce(context.Background(), sink.Message{Value: []byte("a"), Source: env})
	require.NoError(t, err)
	assert.Equal(t, "people-sink", ack.Topic)
	assert.False(t, ack.Pending)

	_, err = d.Produce(context.Background(), sink.Message{Value: []byte("b"), Source: env})
	var de *record.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Same(t, env, de.Envelope)
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)

	require.NoError(t, d.Close(context.Background()))
}

func TestSaramaAsyncProduce(t *testing.T) {
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	mp := mocks.NewAsyncProducer(t, conf)
	mp.ExpectInputAndSucceed()
	mp.ExpectInputAndFail(sarama.ErrMessageSizeTooLarge)

	d := &saramaDriver{cfg: testConfig(sink.ModeAsync), ap: mp}
	var (
		mu     sync.Mutex
		acks   []record.DeliveryAck
		failed []error
	)
	d.BindAck(func(ack record.DeliveryAck, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed = append(failed, err)
			return
		}
		acks = append(acks, ack)
	})
	d.wg.Add(2)
	go d.successes()
	go d.errors()

	env := &record.Envelope{Topic: "people", Offset: 9}
	for i := 0; i < 2; i++ {
		ack, err := d.Produce(context.Background(), sink.Message{Value: []byte("x"), Source: env})
		require.NoError(t, err)
		assert.True(t, ack.Pending)
	}
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, acks, 1)
	require.Len(t, failed, 1)
	var de *record.DeliveryError
	require.True(t, errors.As(failed[0], &de))
	assert.Same(t, env, de.Envelope)
}

func TestKgoConfigure(t *testing.T) {
	for _, acks := range []string{sink.AcksAll, sink.AcksLeader, sink.AcksNone} {
		c := testConfig(sink.ModeSync)
		c.Acks = acks
		d := &kgoDriver{}
		require.NoError(t, d.Configure(c), acks)
		assert.NotEmpty(t, d.opts)
	}

	c := testConfig(sink.ModeSync)
	c.Compression = "brotli"
	assert.Error(t, (&kgoDriver{}).Configure(c))
}

func TestKgoRecord(t *testing.T) {
	r := kgoRecord(sink.Message{Key: []byte("k"), Value: []byte("v"), Headers: map[string][]byte{"h": []byte("1")}})
	assert.Equal(t, []byte("k"), r.Key)
	assert.Equal(t, []kgo.RecordHeader{{Key: "h", Value: []byte("1")}}, r.Headers)
	assert.Empty(t, r.Topic)
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{"sarama", "kgo"} {
		a, err := sink.NewAdapter(name)
		require.NoError(t, err)
		assert.NotNil(t, a)
	}
}
