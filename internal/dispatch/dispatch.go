// Package dispatch resolves the configured schema version and wire format
// into the decode, transform and encode steps the relay runs per record.
// Resolution happens once at startup; the result never changes afterwards.
package dispatch

import (
	"fmt"
	"reflect"
	"strings"

	"cdcrelay/internal/codec"
	"cdcrelay/internal/record"
	"cdcrelay/internal/transform"
)

type Version string

const V1 Version = "v1"

func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "v1":
		return V1, nil
	}
	return "", fmt.Errorf("dispatch: unsupported schema version %q", s)
}

type Selection struct {
	Version string
	Format  string
}

// Pipeline is the per-record work for one (version, format) pair.
type Pipeline struct {
	Version Version
	Format  codec.Format
	codec   codec.Codec
	chain   *transform.Chain
}

var (
	typedIn  = reflect.TypeFor[record.SourcePerson]()
	typedOut = reflect.TypeFor[record.SinkRecord]()
	rawType  = reflect.TypeFor[record.Raw]()
)

// Resolve builds the pipeline for sel. Extra stage names are appended to the
// builtin chain and must keep its output type.
func Resolve(sel Selection, ids codec.IDs, reg *transform.Registry, extra ...string) (*Pipeline, error) {
	v, err := ParseVersion(sel.Version)
	if err != nil {
		return nil, err
	}
	f, err := codec.ParseFormat(sel.Format)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = transform.Builtins()
	}

	p := &Pipeline{Version: v, Format: f}
	in, out := typedIn, typedOut
	base := transform.NamePersonToSink
	if f == codec.Identity {
		in, out = rawType, rawType
		base = transform.NameIdentity
	} else if p.codec, err = codec.New(f, ids); err != nil {
		return nil, err
	}

	if p.chain, err = reg.Chain(append([]string{base}, extra...)...); err != nil {
		return nil, err
	}
	if p.chain.In() != in || p.chain.Out() != out {
		return nil, fmt.Errorf("dispatch: chain %s maps %v to %v, want %v to %v",
			p.chain, p.chain.In(), p.chain.Out(), in, out)
	}
	return p, nil
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("%s/%s [%s]", p.Version, p.Format, p.chain)
}

// Process turns one consumed record into the sink key and value. Payloads
// that cannot be decoded, transformed or re-encoded come back as
// *codec.SchemaMismatchError.
func (p *Pipeline) Process(env *record.Envelope) (key, value []byte, err error) {
	if p.codec == nil {
		out, err := p.chain.Apply(codec.RawFromEnvelope(env))
		if err != nil {
			return nil, nil, p.mismatch("raw", err)
		}
		raw := out.(record.Raw)
		return raw.Key, raw.Value, nil
	}

	src, err := p.codec.DecodeSource(env.Value)
	if err != nil {
		return nil, nil, err
	}
	out, err := p.chain.Apply(src)
	if err != nil {
		return nil, nil, p.mismatch("sink", err)
	}
	rec := out.(record.SinkRecord)
	if key, err = p.codec.EncodeKey(rec.Key); err != nil {
		return nil, nil, p.mismatch("sink key", err)
	}
	if value, err = p.codec.EncodeValue(rec.Value); err != nil {
		return nil, nil, p.mismatch("sink value", err)
	}
	return key, value, nil
}

func (p *Pipeline) mismatch(schema string, err error) error {
	return &codec.SchemaMismatchError{Format: p.Format, Schema: schema, Err: err}
}
