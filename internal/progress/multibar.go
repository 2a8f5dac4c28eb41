package progress

import (
	"fmt"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
)

// MultiBar is a TTY-friendly Reporter binding one progress bar per active
// download plus a fixed aggregate bar, backed by cheggaaa/pb/v3's pool.
type MultiBar struct {
	pool      *pb.Pool
	aggregate *pb.ProgressBar
	mu        sync.Mutex
	closed    bool
}

// NewMultiBar starts a rendering pool; callers must Close it when the run
// finishes.
func NewMultiBar() (*MultiBar, error) {
	aggregate := pb.New(0).SetTemplateString(`{{ "Discovered:" }} {{counters . }} objects, {{string . "size"}} estimated`)
	aggregate.Set("size", "0 B")
	// FIX: do not call aggregate.Start(); the pool manages it once started.

	pool, err := pb.StartPool(aggregate)
	if err != nil {
		return nil, fmt.Errorf("progress: start pool: %w", err)
	}
	return &MultiBar{pool: pool, aggregate: aggregate}, nil
}

func (m *MultiBar) StartDownload(url string, total int64) DownloadHandle {
	bar := pb.New64(total).Set(pb.Bytes, true).
		SetTemplateString(fmt.Sprintf(`{{ "%s:" }} {{ bar . }} {{percent . }} {{speed . "%%s/s"}} {{etime . }}`, url))

	m.mu.Lock()
	if !m.closed {
		m.pool.Add(bar)
	}
	m.mu.Unlock()

	return &barHandle{bar: bar}
}

func (m *MultiBar) SetAggregate(objects, estimatedBytes int64) {
	m.aggregate.SetCurrent(objects)
	m.aggregate.Set("size", humanize.Bytes(uint64(max0(estimatedBytes))))
}

func max0(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func (m *MultiBar) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.aggregate.Finish()
	_ = m.pool.Stop()
}

type barHandle struct {
	bar *pb.ProgressBar
}

func (h *barHandle) Add(n int64) { h.bar.Add64(n) }
func (h *barHandle) Done()       { h.bar.Finish() }
