package pipeline

import (
	"fmt"

	"cdcrelay/internal/codec"
	"cdcrelay/internal/config"
	"cdcrelay/internal/dispatch"
	"cdcrelay/internal/registry"
	"cdcrelay/internal/telemetry"
	"cdcrelay/internal/transform"
	"cdcrelay/sink"
	"cdcrelay/source/kafka"
)

// Compile resolves schema ids, the codec and the transform chain once, then
// wires the configured drivers into a Runner. Nothing connects to a broker
// before Runner.Start.
func Compile(cfg config.Config, m *telemetry.Metrics) (*Runner, error) {
	if len(cfg.Kafka.Topics) == 0 {
		return nil, fmt.Errorf("pipeline: no source topics")
	}
	f, err := codec.ParseFormat(cfg.Schema.Format)
	if err != nil {
		return nil, err
	}

	res, err := resolver(cfg.Registry)
	if err != nil {
		return nil, err
	}
	ids, err := registry.Resolve(res, f, cfg.Kafka.Topics[0], cfg.Sink.Topic)
	if err != nil {
		return nil, fmt.Errorf("pipeline: schema ids: %w", err)
	}

	proc, err := dispatch.Resolve(dispatch.Selection{
		Version: cfg.Schema.Version,
		Format:  cfg.Schema.Format,
	}, ids, transform.Builtins(), cfg.Schema.Transforms...)
	if err != nil {
		return nil, err
	}

	src, err := kafka.NewAdapter(cfg.Kafka.Driver)
	if err != nil {
		return nil, err
	}
	if err = src.Configure(cfg.Kafka); err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Kafka.Driver, err)
	}

	sc := cfg.Sink
	sc.Cluster = cfg.Kafka.Config
	snk, err := sink.NewAdapter(sc.Driver)
	if err != nil {
		return nil, err
	}
	if err = snk.Configure(sc); err != nil {
		return nil, fmt.Errorf("sink %s: %w", sc.Driver, err)
	}

	r := NewRunner(src, snk, proc, m, Options{
		SourceTopics:        cfg.Kafka.Topics,
		SinkTopic:           sc.Topic,
		Format:              f,
		PollTimeout:         cfg.Kafka.PollTimeout,
		DrainTimeout:        cfg.Relay.DrainTimeout,
		CommitPeriod:        cfg.Commit.Period,
		CommitInterval:      cfg.Commit.Interval,
		MaxRecordsPerSecond: cfg.Relay.MaxRecordsPerSecond,
	})
	r.log.Info("pipeline compiled",
		"source", cfg.Kafka.Driver, "sink", sc.Driver, "chain", proc.String(),
		"topics", cfg.Kafka.Topics, "sink_topic", sc.Topic, "commit_period", cfg.Commit.Period)
	return r, nil
}

// resolver picks the live registry when a URL is set, otherwise the static
// ids, otherwise none (unframed payloads).
func resolver(rc config.Registry) (registry.Resolver, error) {
	switch {
	case rc.URL != "":
		c, err := registry.NewClient(registry.Options{
			URL:          rc.URL,
			Username:     rc.Username,
			Password:     rc.Password,
			Timeout:      rc.Timeout,
			AutoRegister: rc.AutoRegister,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case len(rc.Static) > 0:
		return registry.Static(rc.Static), nil
	}
	return nil, nil
}
