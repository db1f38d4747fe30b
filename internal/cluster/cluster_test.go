package cluster

import (
	"strings"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	c := Config{Brokers: []string{"localhost:9092"}, SASL: SASL{Enabled: true, Username: "u"}}
	c.ApplyDefaults()
	assert.True(t, strings.HasPrefix(c.ClientID, "cdcrelay-"))
	assert.Equal(t, MechanismSCRAMSHA512, c.SASL.Mechanism)
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Brokers: []string{"b"}, SASL: SASL{Enabled: true, Mechanism: "gssapi", Username: "u"}}.Validate())
	assert.Error(t, Config{Brokers: []string{"b"}, SASL: SASL{Enabled: true, Mechanism: MechanismPlain}}.Validate())
}

func TestSarama(t *testing.T) {
	c := Config{
		Brokers:  []string{"b:9092"},
		Version:  "3.6.0",
		ClientID: "relay-test",
		SASL:     SASL{Enabled: true, Mechanism: MechanismSCRAMSHA256, Username: "u", Password: "p"},
	}
	conf, err := c.Sarama()
	require.NoError(t, err)
	assert.Equal(t, "relay-test", conf.ClientID)
	assert.Equal(t, sarama.V3_6_0_0, conf.Version)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA256), conf.Net.SASL.Mechanism)
	require.NotNil(t, conf.Net.SASL.SCRAMClientGeneratorFunc)
	assert.IsType(t, &XDGSCRAMClient{}, conf.Net.SASL.SCRAMClientGeneratorFunc())
	assert.False(t, conf.Net.TLS.Enable)

	c.Version = "not-a-version"
	_, err = c.Sarama()
	assert.Error(t, err)
}

func TestTLSMissingCA(t *testing.T) {
	c := Config{Brokers: []string{"b"}, TLS: TLS{Enabled: true, CAFile: "/does/not/exist.pem"}}
	_, err := c.Sarama()
	assert.Error(t, err)
	_, err = c.KgoOpts()
	assert.Error(t, err)
}

func TestKgoOpts(t *testing.T) {
	c := Config{Brokers: []string{"a:9092", "b:9092"}, ClientID: "x", TLS: TLS{Enabled: true, SkipVerify: true}}
	opts, err := c.KgoOpts()
	require.NoError(t, err)
	assert.Len(t, opts, 3)
}

func TestSCRAMConversation(t *testing.T) {
	x := &XDGSCRAMClient{HashGeneratorFcn: SHA512}
	require.NoError(t, x.Begin("user", "pencil", ""))
	first, err := x.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=user")
	assert.False(t, x.Done())
}
