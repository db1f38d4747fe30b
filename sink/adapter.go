// Package sink is the produce side of the broker facade. Drivers register
// themselves by name and are configured from the sink section of the relay
// configuration.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cdcrelay/internal/cluster"
	"cdcrelay/internal/record"
)

// Message is one record to publish. Source is the consumed envelope it was
// derived from and is carried into delivery errors.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string][]byte
	Source  *record.Envelope
}

// EmitFn receives the outcome of an async delivery.
type EmitFn func(ack record.DeliveryAck, err error)

// Adapter is the common behaviour every sink exposes.
//
// In sync mode Produce blocks until the broker acknowledged the record and
// returns *record.DeliveryError on rejection. In async mode it returns a
// pending ack and the outcome goes to the bound EmitFn.
type Adapter interface {
	Configure(Config) error
	Connect(ctx context.Context) error
	Produce(ctx context.Context, m Message) (record.DeliveryAck, error)
	Close(ctx context.Context) error // flushes in-flight records
}

// AckAware is optional; async drivers implement it.
type AckAware interface {
	BindAck(EmitFn)
}

const (
	ModeSync  = "sync"
	ModeAsync = "async"

	AcksAll    = "all"
	AcksLeader = "leader"
	AcksNone   = "none"
)

type StdoutConfig struct {
	PrintCounter bool          `koanf:"print_counter" yaml:"print_counter"`
	Delay        time.Duration `koanf:"delay" yaml:"delay"`
}

type Config struct {
	Driver       string        `koanf:"driver" yaml:"driver"`
	Topic        string        `koanf:"topic" yaml:"topic"`
	Acks         string        `koanf:"acks" yaml:"acks"`
	Mode         string        `koanf:"mode" yaml:"mode"`
	Compression  string        `koanf:"compression" yaml:"compression"`
	MaxRetries   int           `koanf:"max_retries" yaml:"max_retries"`
	FlushTimeout time.Duration `koanf:"flush_timeout" yaml:"flush_timeout"`
	Stdout       StdoutConfig  `koanf:"stdout" yaml:"stdout"`

	// Cluster is shared with the consumer and filled in by the config loader.
	Cluster cluster.Config `koanf:"-" yaml:"-"`
}

func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = "sarama"
	}
	if c.Acks == "" {
		c.Acks = AcksAll
	}
	if c.Mode == "" {
		c.Mode = ModeSync
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = 10 * time.Second
	}
}

func (c Config) Validate() error {
	if c.Topic == "" {
		return errors.New("sink: topic is required")
	}
	switch strings.ToLower(c.Acks) {
	case AcksAll, AcksLeader, AcksNone:
	default:
		return fmt.Errorf("sink: acks %q (want all|leader|none)", c.Acks)
	}
	switch c.Mode {
	case ModeSync, ModeAsync:
	default:
		return fmt.Errorf("sink: mode %q (want sync|async)", c.Mode)
	}
	return nil
}

/*──────── registry ───────*/

type factory = func() Adapter

var (
	mu  sync.RWMutex
	reg = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = f
}

func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	defer mu.RUnlock()
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
