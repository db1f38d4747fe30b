// Package registry maps topic subjects to schema registry ids so encoded
// payloads can carry the registry header.
package registry

import (
	"fmt"
	"time"

	"github.com/riferrei/srclient"

	"cdcrelay/internal/codec"
	"cdcrelay/internal/logging"
)

// Resolver returns the registry id of the schema registered under subject.
// schema is the document to register when the subject is unknown and the
// resolver is allowed to register.
type Resolver interface {
	ID(subject, schema string, f codec.Format) (int, error)
}

// KeySubject and ValueSubject follow the topic name strategy.
func KeySubject(topic string) string   { return topic + "-key" }
func ValueSubject(topic string) string { return topic + "-value" }

// Resolve looks up the three ids the relay needs: the source value schema and
// the sink key and value schemas. The identity format carries no schema and
// resolves to zero ids.
func Resolve(r Resolver, f codec.Format, sourceTopic, sinkTopic string) (codec.IDs, error) {
	if r == nil || f == codec.Identity {
		return codec.IDs{}, nil
	}
	set, err := codec.Schemas(f)
	if err != nil {
		return codec.IDs{}, err
	}
	var ids codec.IDs
	if ids.SourceValue, err = r.ID(ValueSubject(sourceTopic), set.SourceValue, f); err != nil {
		return codec.IDs{}, err
	}
	if ids.SinkKey, err = r.ID(KeySubject(sinkTopic), set.SinkKey, f); err != nil {
		return codec.IDs{}, err
	}
	if ids.SinkValue, err = r.ID(ValueSubject(sinkTopic), set.SinkValue, f); err != nil {
		return codec.IDs{}, err
	}
	return ids, nil
}

// Static serves ids from configuration. Unknown subjects resolve to 0, which
// disables framing for that side.
type Static map[string]int

func (s Static) ID(subject, _ string, _ codec.Format) (int, error) {
	return s[subject], nil
}

// schemaAPI is the part of the registry protocol the relay uses.
type schemaAPI interface {
	latest(subject string) (int, error)
	register(subject, schema string, t srclient.SchemaType) (int, error)
}

type srAPI struct {
	c *srclient.SchemaRegistryClient
}

func (a srAPI) latest(subject string) (int, error) {
	s, err := a.c.GetLatestSchema(subject)
	if err != nil {
		return 0, err
	}
	return s.ID(), nil
}

func (a srAPI) register(subject, schema string, t srclient.SchemaType) (int, error) {
	s, err := a.c.CreateSchema(subject, schema, t)
	if err != nil {
		return 0, err
	}
	return s.ID(), nil
}

type Options struct {
	URL          string
	Username     string
	Password     string
	Timeout      time.Duration
	AutoRegister bool
}

// Client resolves ids against a Confluent compatible schema registry.
type Client struct {
	api          schemaAPI
	autoRegister bool
}

func NewClient(o Options) (*Client, error) {
	if o.URL == "" {
		return nil, fmt.Errorf("registry: url is required")
	}
	c := srclient.CreateSchemaRegistryClient(o.URL)
	if o.Username != "" {
		c.SetCredentials(o.Username, o.Password)
	}
	if o.Timeout > 0 {
		c.SetTimeout(o.Timeout)
	}
	return &Client{api: srAPI{c}, autoRegister: o.AutoRegister}, nil
}

func (c *Client) ID(subject, schema string, f codec.Format) (int, error) {
	id, err := c.api.latest(subject)
	if err == nil {
		return id, nil
	}
	if !c.autoRegister {
		return 0, fmt.Errorf("registry: lookup %s: %w", subject, err)
	}
	st, terr := schemaType(f)
	if terr != nil {
		return 0, terr
	}
	id, err = c.api.register(subject, schema, st)
	if err != nil {
		return 0, fmt.Errorf("registry: register %s: %w", subject, err)
	}
	logging.L().Info("registered schema", "subject", subject, "id", id, "format", string(f))
	return id, nil
}

func schemaType(f codec.Format) (srclient.SchemaType, error) {
	switch f {
	case codec.Protobuf:
		return srclient.Protobuf, nil
	case codec.Avro:
		return srclient.Avro, nil
	case codec.JSON:
		return srclient.Json, nil
	}
	return "", fmt.Errorf("registry: no schema type for %q", f)
}
