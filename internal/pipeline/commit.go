package pipeline

import (
	"sync"
	"time"

	"cdcrelay/internal/record"
)

// CommitPolicy decides whether a processed offset is committed. An offset
// is due when it is a multiple of the period, or, when an interval is set,
// once that much time passed since the last commit.
type CommitPolicy struct {
	period   int64
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

func NewCommitPolicy(period int64, interval time.Duration) *CommitPolicy {
	if period <= 0 {
		period = 1
	}
	return &CommitPolicy{period: period, interval: interval, now: time.Now}
}

func (p *CommitPolicy) Due(offset int64) bool {
	if offset%p.period == 0 {
		return true
	}
	return p.interval > 0 && p.now().Sub(p.last) >= p.interval
}

// Committed records a successful commit for the interval rule.
func (p *CommitPolicy) Committed() {
	p.last = p.now()
}

// Cursor tracks the committed position of every partition: the offset the
// group resumes from. Positions never move backwards.
type Cursor struct {
	mu  sync.RWMutex
	pos map[record.TopicPartition]int64
}

func NewCursor() *Cursor {
	return &Cursor{pos: make(map[record.TopicPartition]int64)}
}

// Advance moves tp to next and reports whether it moved.
func (c *Cursor) Advance(tp record.TopicPartition, next int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pos[tp]; ok && next <= cur {
		return false
	}
	c.pos[tp] = next
	return true
}

func (c *Cursor) Position(tp record.TopicPartition) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	off, ok := c.pos[tp]
	return off, ok
}

func (c *Cursor) Snapshot() map[record.TopicPartition]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[record.TopicPartition]int64, len(c.pos))
	for tp, off := range c.pos {
		out[tp] = off
	}
	return out
}
