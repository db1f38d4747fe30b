package transform

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

const (
	NamePersonToSink = "person.v1.to-sink"
	NameIdentity     = "identity"
)

// Func is the untyped form of a stage, as stored in a Chain.
type Func func(any) (any, error)

// Stage is one step of a chain with its declared input and output types.
type Stage struct {
	Name string
	In   reflect.Type
	Out  reflect.Type
	Fn   Func
}

// NewStage wraps a typed function. The returned stage rejects inputs of any
// other type.
func NewStage[I, O any](name string, fn func(I) (O, error)) Stage {
	in := reflect.TypeFor[I]()
	return Stage{
		Name: name,
		In:   in,
		Out:  reflect.TypeFor[O](),
		Fn: func(v any) (any, error) {
			x, ok := v.(I)
			if !ok {
				return nil, fmt.Errorf("transform %s: got %T, want %v", name, v, in)
			}
			return fn(x)
		},
	}
}

var ErrEmptyChain = errors.New("transform: empty chain")

// ContractError reports adjacent stages whose types do not line up.
type ContractError struct {
	From, To string
	Out, In  reflect.Type
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("transform: %s returns %v but %s expects %v", e.From, e.Out, e.To, e.In)
}

// Chain applies its stages in order.
type Chain struct {
	stages []Stage
}

// Compose validates and builds a chain.
func Compose(stages ...Stage) (*Chain, error) {
	if len(stages) == 0 {
		return nil, ErrEmptyChain
	}
	for i, s := range stages {
		if s.Fn == nil || s.In == nil || s.Out == nil {
			return nil, fmt.Errorf("transform: stage %q is incomplete", s.Name)
		}
		if i == 0 {
			continue
		}
		prev := stages[i-1]
		if prev.Out != s.In {
			return nil, &ContractError{From: prev.Name, To: s.Name, Out: prev.Out, In: s.In}
		}
	}
	return &Chain{stages: append([]Stage(nil), stages...)}, nil
}

func (c *Chain) In() reflect.Type  { return c.stages[0].In }
func (c *Chain) Out() reflect.Type { return c.stages[len(c.stages)-1].Out }

func (c *Chain) String() string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name
	}
	return strings.Join(names, " -> ")
}

func (c *Chain) Apply(v any) (any, error) {
	var err error
	for _, s := range c.stages {
		if v, err = s.Fn(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Registry maps stage names to constructors.
type Registry struct {
	stages sync.Map // map[string]func() Stage
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Builtins returns a registry holding the stages shipped with the relay.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register(NamePersonToSink, PersonToSink)
	r.Register(NameIdentity, Identity)
	return r
}

func (r *Registry) Register(name string, factory func() Stage) {
	r.stages.Store(name, factory)
}

func (r *Registry) Get(name string) (Stage, error) {
	if v, ok := r.stages.Load(name); ok {
		return v.(func() Stage)(), nil
	}
	return Stage{}, fmt.Errorf("transform %s not found", name)
}

// Chain looks up names and composes them in order.
func (r *Registry) Chain(names ...string) (*Chain, error) {
	stages := make([]Stage, 0, len(names))
	for _, n := range names {
		s, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return Compose(stages...)
}
