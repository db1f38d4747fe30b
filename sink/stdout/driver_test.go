package stdout

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdcrelay/sink"
)

func TestProducePrints(t *testing.T) {
	var buf bytes.Buffer
	d := &driver{out: &buf}
	require.NoError(t, d.Configure(sink.Config{Topic: "people-sink", Stdout: sink.StdoutConfig{PrintCounter: true}}))

	ack, err := d.Produce(context.Background(), sink.Message{Key: []byte{0x00, 0x01}, Value: []byte(`{"name":"Tony Sneed"}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), ack.Offset)
	assert.Equal(t, "[sink 000001] people-sink key=0001 value={\"name\":\"Tony Sneed\"}\n", buf.String())

	ack, err = d.Produce(context.Background(), sink.Message{Value: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ack.Offset)
	assert.Contains(t, buf.String(), "key=<nil>")
}

func TestRegistered(t *testing.T) {
	a, err := sink.NewAdapter("stdout")
	require.NoError(t, err)
	assert.IsType(t, &driver{}, a)
}
