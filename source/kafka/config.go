package kafka

import (
	"errors"
	"fmt"
	"time"

	"cdcrelay/internal/cluster"
)

const (
	StartEarliest = "earliest"
	StartLatest   = "latest"
)

type Config struct {
	cluster.Config `koanf:",squash" yaml:",inline"`

	Driver    string   `koanf:"driver" yaml:"driver"`
	GroupID   string   `koanf:"group_id" yaml:"group_id"`
	Topics    []string `koanf:"topics" yaml:"topics"`
	StartFrom string   `koanf:"start_from" yaml:"start_from"` // earliest|latest (default earliest)

	SessionTimeout   time.Duration `koanf:"session_timeout" yaml:"session_timeout"`
	DiscoveryTimeout time.Duration `koanf:"discovery_timeout" yaml:"discovery_timeout"`
	PollTimeout      time.Duration `koanf:"poll_timeout" yaml:"poll_timeout"`
	RetryBackoff     time.Duration `koanf:"retry_backoff" yaml:"retry_backoff"`
}

// ApplyDefaults mirrors the consumer settings of a manually committing CDC
// relay: start from the oldest offset and a short session timeout.
func (c *Config) ApplyDefaults() {
	c.Config.ApplyDefaults()
	if c.Driver == "" {
		c.Driver = "sarama"
	}
	if c.StartFrom == "" {
		c.StartFrom = StartEarliest
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 6 * time.Second
	}
	if c.DiscoveryTimeout == 0 {
		c.DiscoveryTimeout = 10 * time.Second
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = time.Second
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
}

func (c Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.GroupID == "" {
		return errors.New("kafka: group_id is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka: at least one source topic is required")
	}
	switch c.StartFrom {
	case StartEarliest, StartLatest:
	default:
		return fmt.Errorf("kafka: start_from %q (want earliest|latest)", c.StartFrom)
	}
	return nil
}
