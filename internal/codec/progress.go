package codec

import (
	"context"
	"fmt"

	"github.com/dgallion1/docforge/internal/doctree"
)

// DefaultCheckpointInterval is the number of nodes an encoder visits
// between progress polls.
const DefaultCheckpointInterval = 256

// Action is a progress poller's answer.
type Action int

const (
	Continue Action = iota
	Cancel
)

// ProgressInfo describes how far an encode has come.
type ProgressInfo struct {
	Format Format
	// Visited and Total count nodes; Total is the size of the document
	// tree when the encode started.
	Visited int
	Total   int
	Done    bool
}

// Fraction returns progress in [0, 1].
func (p ProgressInfo) Fraction() float64 {
	if p.Total == 0 || p.Done {
		return 1
	}
	return min(float64(p.Visited)/float64(p.Total), 1)
}

// Progress is polled by encoders at checkpoints. Returning Cancel stops
// the encode with ErrCanceled.
type Progress interface {
	Poll(ProgressInfo) Action
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(ProgressInfo) Action

func (f ProgressFunc) Poll(p ProgressInfo) Action { return f(p) }

// Checkpointer counts nodes during an encode and consults the context
// and the progress poller every interval.
type Checkpointer struct {
	ctx      context.Context
	progress Progress
	info     ProgressInfo
	interval int
	since    int
}

// NewCheckpointer prepares checkpoints for encoding doc in format f.
func NewCheckpointer(ctx context.Context, f Format, doc *doctree.Document, c *SaveCommon) *Checkpointer {
	cp := &Checkpointer{ctx: ctx, info: ProgressInfo{Format: f}, interval: DefaultCheckpointInterval}
	if c != nil {
		cp.progress = c.Progress
		if c.CheckpointInterval > 0 {
			cp.interval = c.CheckpointInterval
		}
	}
	if doc != nil {
		for range doc.Descendants() {
			cp.info.Total++
		}
	}
	return cp
}

// Tick records one visited node and polls when an interval has passed.
func (c *Checkpointer) Tick() error {
	c.info.Visited++
	c.since++
	if c.since < c.interval {
		return nil
	}
	c.since = 0
	return c.poll()
}

// Done makes the final poll.
func (c *Checkpointer) Done() error {
	c.info.Done = true
	return c.poll()
}

func (c *Checkpointer) poll() error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if c.progress != nil && c.progress.Poll(c.info) == Cancel {
		return fmt.Errorf("%w by progress callback after %d nodes", ErrCanceled, c.info.Visited)
	}
	return nil
}
