// Package topics creates the relay's source and sink topics when they do not
// exist yet. Creating a topic that already exists is not an error.
package topics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"cdcrelay/internal/cluster"
	"cdcrelay/internal/logging"
)

type Config struct {
	EnsureTopics bool  `koanf:"ensure_topics" yaml:"ensure_topics"`
	Partitions   int32 `koanf:"partitions" yaml:"partitions"`
	Replicas     int16 `koanf:"replicas" yaml:"replicas"`
	RetentionMS  int64 `koanf:"retention_ms" yaml:"retention_ms"`
}

func (c *Config) ApplyDefaults() {
	if c.Partitions == 0 {
		c.Partitions = 1
	}
	if c.Replicas == 0 {
		c.Replicas = 1
	}
}

func (c Config) entries() map[string]*string {
	if c.RetentionMS <= 0 {
		return nil
	}
	v := strconv.FormatInt(c.RetentionMS, 10)
	return map[string]*string{"retention.ms": &v}
}

type Ensurer interface {
	Ensure(ctx context.Context, names ...string) error
	Close() error
}

// New returns an ensurer backed by the same client library as driver.
func New(driver string, cc cluster.Config, cfg Config) (Ensurer, error) {
	switch driver {
	case "kgo":
		opts, err := cc.KgoOpts()
		if err != nil {
			return nil, err
		}
		cl, err := kgo.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		return &kadmEnsurer{adm: kadm.NewClient(cl), cfg: cfg, log: logging.Component("topics")}, nil
	default:
		sc, err := cc.Sarama()
		if err != nil {
			return nil, err
		}
		adm, err := sarama.NewClusterAdmin(cc.Brokers, sc)
		if err != nil {
			return nil, err
		}
		return &saramaEnsurer{adm: adm, cfg: cfg, log: logging.Component("topics")}, nil
	}
}

type saramaAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	Close() error
}

type saramaEnsurer struct {
	adm saramaAdmin
	cfg Config
	log *slog.Logger
}

func (e *saramaEnsurer) Ensure(_ context.Context, names ...string) error {
	existing, err := e.adm.ListTopics()
	if err != nil {
		return fmt.Errorf("topics: list: %w", err)
	}
	for _, name := range names {
		if _, ok := existing[name]; ok {
			continue
		}
		err := e.adm.CreateTopic(name, &sarama.TopicDetail{
			NumPartitions:     e.cfg.Partitions,
			ReplicationFactor: e.cfg.Replicas,
			ConfigEntries:     e.cfg.entries(),
		}, false)
		if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return fmt.Errorf("topics: create %s: %w", name, err)
		}
		e.log.Info("topic created", "topic", name, "partitions", e.cfg.Partitions, "replicas", e.cfg.Replicas)
	}
	return nil
}

func (e *saramaEnsurer) Close() error { return e.adm.Close() }

type kadmAdmin interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
	Close()
}

type kadmEnsurer struct {
	adm kadmAdmin
	cfg Config
	log *slog.Logger
}

func (e *kadmEnsurer) Ensure(ctx context.Context, names ...string) error {
	resp, err := e.adm.CreateTopics(ctx, e.cfg.Partitions, e.cfg.Replicas, e.cfg.entries(), names...)
	if err != nil {
		return fmt.Errorf("topics: create: %w", err)
	}
	var errs []error
	for _, r := range resp.Sorted() {
		switch {
		case r.Err == nil:
			e.log.Info("topic created", "topic", r.Topic, "partitions", e.cfg.Partitions, "replicas", e.cfg.Replicas)
		case errors.Is(r.Err, kerr.TopicAlreadyExists):
		default:
			errs = append(errs, fmt.Errorf("topics: create %s: %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}

func (e *kadmEnsurer) Close() error {
	e.adm.Close()
	return nil
}
