package kafka

import (
	"context"
	"time"

	"cdcrelay/internal/record"
)

// Hooks are called from the driver's own goroutines when the group
// rebalances. They must return quickly and must not call back into the
// adapter.
type Hooks struct {
	OnAssigned func(record.Assignment)
	OnRevoked  func(record.Assignment)
}

func (h Hooks) assigned(a record.Assignment) {
	if h.OnAssigned != nil {
		h.OnAssigned(a)
	}
}

func (h Hooks) revoked(a record.Assignment) {
	if h.OnRevoked != nil {
		h.OnRevoked(a)
	}
}

// Adapter is the consume side of the broker facade.
//
// ConsumeNext returns an *record.Envelope, a record.EndOfPartition, or nil
// when nothing arrived within timeout. Commit stores offset+1 of the given
// envelope for its partition and blocks until the broker answered.
type Adapter interface {
	Configure(Config) error
	Subscribe(ctx context.Context, topics []string, hooks Hooks) error
	ConsumeNext(ctx context.Context, timeout time.Duration) (record.Event, error)
	Commit(ctx context.Context, env *record.Envelope) error
	Close(ctx context.Context) error
}
