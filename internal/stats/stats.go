// Package stats tracks the two run-wide counters reported in the final
// summary line: discovered object count and estimated total byte size.
package stats

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Counters is a set of monotonically increasing atomic counters, safe for
// concurrent use by every scheduler worker.
type Counters struct {
	objects atomic.Int64
	size    atomic.Int64
}

// AddObject records one discovered object (file or directory).
func (c *Counters) AddObject() {
	c.objects.Add(1)
}

// AddEstimatedSize adds n estimated bytes to the running total. Entries with
// unknown size contribute zero.
func (c *Counters) AddEstimatedSize(n int64) {
	if n > 0 {
		c.size.Add(n)
	}
}

// Objects returns the current discovered-object count.
func (c *Counters) Objects() int64 { return c.objects.Load() }

// EstimatedSize returns the current estimated total byte size.
func (c *Counters) EstimatedSize() int64 { return c.size.Load() }

// Summary renders the final human-readable summary line.
func (c *Counters) Summary() string {
	return "objects=" + humanizeInt(c.Objects()) + " size=" + humanize.Bytes(uint64(max0(c.EstimatedSize())))
}

func max0(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func humanizeInt(n int64) string {
	return humanize.Comma(n)
}
