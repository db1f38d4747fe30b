// Package cluster turns the broker connection settings into client
// configuration for the sarama and franz-go drivers.
package cluster

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

const (
	MechanismPlain       = "plain"
	MechanismSCRAMSHA256 = "scram-sha-256"
	MechanismSCRAMSHA512 = "scram-sha-512"
)

type SASL struct {
	Enabled   bool   `koanf:"enabled" yaml:"enabled"`
	Mechanism string `koanf:"mechanism" yaml:"mechanism"`
	Username  string `koanf:"username" yaml:"username"`
	Password  string `koanf:"password" yaml:"password"`
}

type TLS struct {
	Enabled    bool   `koanf:"enabled" yaml:"enabled"`
	CAFile     string `koanf:"ca_file" yaml:"ca_file"`
	CertFile   string `koanf:"cert_file" yaml:"cert_file"`
	KeyFile    string `koanf:"key_file" yaml:"key_file"`
	SkipVerify bool   `koanf:"skip_verify" yaml:"skip_verify"`
}

type Config struct {
	Brokers  []string `koanf:"brokers" yaml:"brokers"`
	Version  string   `koanf:"version" yaml:"version"`
	ClientID string   `koanf:"client_id" yaml:"client_id"`
	SASL     SASL     `koanf:"sasl" yaml:"sasl"`
	TLS      TLS      `koanf:"tls" yaml:"tls"`
}

// ApplyDefaults fills the client id with a unique name so several relay
// instances can be told apart in broker logs.
func (c *Config) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "cdcrelay-" + uuid.NewString()[:8]
	}
	if c.SASL.Enabled && c.SASL.Mechanism == "" {
		c.SASL.Mechanism = MechanismSCRAMSHA512
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("cluster: at least one broker is required")
	}
	if c.SASL.Enabled {
		switch strings.ToLower(c.SASL.Mechanism) {
		case MechanismPlain, MechanismSCRAMSHA256, MechanismSCRAMSHA512:
		default:
			return fmt.Errorf("cluster: unsupported sasl mechanism %q", c.SASL.Mechanism)
		}
		if c.SASL.Username == "" {
			return errors.New("cluster: sasl username is required")
		}
	}
	return nil
}

// TLSConfig returns nil when TLS is disabled.
func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLS.Enabled {
		return nil, nil
	}
	t := &tls.Config{InsecureSkipVerify: c.TLS.SkipVerify}
	if c.TLS.CAFile != "" {
		ca, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("cluster: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("cluster: no certificates in %s", c.TLS.CAFile)
		}
		t.RootCAs = pool
	}
	if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("cluster: load client certificate: %w", err)
		}
		t.Certificates = []tls.Certificate{cert}
	}
	return t, nil
}

// Sarama returns a base sarama configuration carrying version, client id,
// SASL and TLS. Drivers layer their consumer or producer settings on top.
func (c Config) Sarama() (*sarama.Config, error) {
	conf := sarama.NewConfig()
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("cluster: parse kafka version: %w", err)
		}
		conf.Version = v
	}
	if c.ClientID != "" {
		conf.ClientID = c.ClientID
	}

	if c.SASL.Enabled {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true
		switch strings.ToLower(c.SASL.Mechanism) {
		case MechanismPlain:
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case MechanismSCRAMSHA256:
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case MechanismSCRAMSHA512:
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			return nil, fmt.Errorf("cluster: unsupported sasl mechanism %q", c.SASL.Mechanism)
		}
	}

	tlsConf, err := c.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsConf != nil {
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConf
	}
	return conf, nil
}

// KgoOpts returns the franz-go client options for the same settings.
func (c Config) KgoOpts() ([]kgo.Opt, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(c.Brokers...)}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	if c.SASL.Enabled {
		switch strings.ToLower(c.SASL.Mechanism) {
		case MechanismPlain:
			opts = append(opts, kgo.SASL(plain.Auth{User: c.SASL.Username, Pass: c.SASL.Password}.AsMechanism()))
		case MechanismSCRAMSHA256:
			opts = append(opts, kgo.SASL(scram.Auth{User: c.SASL.Username, Pass: c.SASL.Password}.AsSha256Mechanism()))
		case MechanismSCRAMSHA512:
			opts = append(opts, kgo.SASL(scram.Auth{User: c.SASL.Username, Pass: c.SASL.Password}.AsSha512Mechanism()))
		default:
			return nil, fmt.Errorf("cluster: unsupported sasl mechanism %q", c.SASL.Mechanism)
		}
	}
	tlsConf, err := c.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsConf != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsConf))
	}
	return opts, nil
}
