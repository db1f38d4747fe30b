package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdcrelay/internal/codec"
	"cdcrelay/internal/record"
	"cdcrelay/internal/transform"
)

func TestParseVersion(t *testing.T) {
	for _, s := range []string{"1", "v1", " V1 "} {
		v, err := ParseVersion(s)
		require.NoError(t, err)
		assert.Equal(t, V1, v)
	}
	_, err := ParseVersion("v2")
	assert.Error(t, err)
}

func TestResolveRejectsUnknown(t *testing.T) {
	_, err := Resolve(Selection{Version: "v3", Format: "avro"}, codec.IDs{}, nil)
	assert.Error(t, err)
	_, err = Resolve(Selection{Version: "v1", Format: "xml"}, codec.IDs{}, nil)
	assert.Error(t, err)
}

func TestProcessScenarioA(t *testing.T) {
	for _, f := range []string{"protobuf", "avro", "json"} {
		t.Run(f, func(t *testing.T) {
			p, err := Resolve(Selection{Version: "v1", Format: f}, codec.IDs{}, nil)
			require.NoError(t, err)

			c, err := codec.New(p.Format, codec.IDs{})
			require.NoError(t, err)
			value, err := c.EncodeSource(record.SourcePerson{
				PersonID: 1, FirstName: "Tony", LastName: "Sneed", FavoriteColor: "Green", Age: 29,
			})
			require.NoError(t, err)

			k, v, err := p.Process(&record.Envelope{Topic: "people", Value: value})
			require.NoError(t, err)

			key, err := c.DecodeKey(k)
			require.NoError(t, err)
			assert.Equal(t, record.SinkKey{PersonID: 1}, key)
			sink, err := c.DecodeValue(v)
			require.NoError(t, err)
			assert.Equal(t, record.SinkPerson{PersonID: 1, Name: "Tony Sneed", FavoriteColor: "Green", Age: 29}, sink)
		})
	}
}

func TestProcessMismatch(t *testing.T) {
	p, err := Resolve(Selection{Version: "1", Format: "json"}, codec.IDs{}, nil)
	require.NoError(t, err)
	_, _, err = p.Process(&record.Envelope{Value: []byte(`{"name":"x"}`)})
	var sm *codec.SchemaMismatchError
	assert.True(t, errors.As(err, &sm))
}

func TestProcessIdentity(t *testing.T) {
	p, err := Resolve(Selection{Version: "v1", Format: "identity"}, codec.IDs{}, nil)
	require.NoError(t, err)
	k, v, err := p.Process(&record.Envelope{Key: []byte("k"), Value: []byte{0xde, 0xad}})
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), k)
	assert.Equal(t, []byte{0xde, 0xad}, v)
}

func TestResolveExtraStages(t *testing.T) {
	reg := transform.Builtins()
	reg.Register("sink.tag", func() transform.Stage {
		return transform.NewStage("sink.tag", func(r record.SinkRecord) (record.SinkRecord, error) {
			r.Value.FavoriteColor = "tagged"
			return r, nil
		})
	})
	p, err := Resolve(Selection{Version: "v1", Format: "json"}, codec.IDs{}, reg, "sink.tag")
	require.NoError(t, err)

	_, v, err := p.Process(&record.Envelope{Value: []byte(`{"person_id":2,"first_name":"a","last_name":"b"}`)})
	require.NoError(t, err)
	assert.Contains(t, string(v), `"tagged"`)

	// a typed stage cannot follow the identity chain
	_, err = Resolve(Selection{Version: "v1", Format: "identity"}, codec.IDs{}, reg, "sink.tag")
	assert.Error(t, err)
}
