// Package progress renders per-download progress bars, grounded on the
// teacher's use of a renderer bound to active transfers plus a fixed
// aggregate line, ported here from indicatif's MultiProgress onto
// github.com/cheggaaa/pb/v3.
package progress

// Reporter is the contract the sync driver uses to surface per-download
// progress plus a running aggregate. Implementations must not reorder or
// drop log events when attached to a non-TTY output.
type Reporter interface {
	// StartDownload registers a new transfer of known (or zero, if
	// unknown) total size and returns a handle for reporting progress.
	StartDownload(url string, total int64) DownloadHandle
	// SetAggregate updates the fixed summary line (objects discovered,
	// estimated total bytes).
	SetAggregate(objects, estimatedBytes int64)
	// Close releases any rendering resources; safe to call once.
	Close()
}

// DownloadHandle tracks one in-flight transfer.
type DownloadHandle interface {
	Add(n int64)
	Done()
}
