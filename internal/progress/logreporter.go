package progress

import (
	"log/slog"

	"github.com/dustin/go-humanize"
)

// LogReporter is the non-TTY fallback: it never renders a bar, only logs
// start/finish events at debug level and aggregate updates at info level,
// satisfying the contract that a non-TTY-attached reporter must not reorder
// or drop log events.
type LogReporter struct{}

func (LogReporter) StartDownload(url string, total int64) DownloadHandle {
	slog.Debug("download started", "url", url, "total_bytes", total)
	return logHandle{url: url}
}

func (LogReporter) SetAggregate(objects, estimatedBytes int64) {
	slog.Info("progress", "objects", objects, "estimated_size", humanize.Bytes(uint64(max0(estimatedBytes))))
}

func (LogReporter) Close() {}

type logHandle struct {
	url string
}

func (logHandle) Add(n int64) {}

func (h logHandle) Done() {
	slog.Debug("download finished", "url", h.url)
}
