// Package stdout is a dry-run sink: it prints every record it is given and
// acknowledges it immediately.
package stdout

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"cdcrelay/internal/record"
	"cdcrelay/sink"
)

type driver struct {
	cfg sink.Config
	out io.Writer

	mu  sync.Mutex
	seq int64
}

func (d *driver) Configure(cfg sink.Config) error {
	d.cfg = cfg
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Connect(context.Context) error { return nil }

func (d *driver) Produce(ctx context.Context, m sink.Message) (record.DeliveryAck, error) {
	if delay := d.cfg.Stdout.Delay; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return record.DeliveryAck{}, ctx.Err()
		}
	}
	topic := m.Topic
	if topic == "" {
		topic = d.cfg.Topic
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	off := d.seq
	d.seq++

	var err error
	if d.cfg.Stdout.PrintCounter {
		_, err = fmt.Fprintf(d.out, "[sink %06d] %s key=%s value=%s\n", off+1, topic, printable(m.Key), printable(m.Value))
	} else {
		_, err = fmt.Fprintf(d.out, "%s key=%s value=%s\n", topic, printable(m.Key), printable(m.Value))
	}
	if err != nil {
		return record.DeliveryAck{}, &record.DeliveryError{Topic: topic, Envelope: m.Source, Err: err}
	}
	return record.DeliveryAck{Topic: topic, Offset: off}, nil
}

// printable shows text payloads as they are and binary ones as hex.
func printable(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if utf8.Valid(b) && bytes.IndexFunc(b, func(r rune) bool { return !unicode.IsPrint(r) && !unicode.IsSpace(r) }) < 0 {
		return string(b)
	}
	return hex.EncodeToString(b)
}

func (d *driver) Close(context.Context) error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
