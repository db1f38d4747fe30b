package record

import (
	"fmt"
	"strings"
)

// ConnectionError is returned when the brokers cannot be reached during
// startup. It is the only fatal error class of the relay.
type ConnectionError struct {
	Brokers []string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to brokers %s: %v", strings.Join(e.Brokers, ","), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommitError wraps a failed offset commit. Commits are best effort; the
// next successful commit on the partition covers the gap.
type CommitError struct {
	TopicPartition
	Offset int64
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s@%d: %v", e.TopicPartition, e.Offset, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// DeliveryError reports a produce the broker rejected. Envelope is the
// consumed record that produced the rejected output.
type DeliveryError struct {
	Topic    string
	Envelope *Envelope
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Envelope == nil {
		return fmt.Sprintf("deliver to %s: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("deliver %s to %s: %v", e.Envelope, e.Topic, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
