// Package compare holds the two pure freshness decisions: whether a local
// file needs to be (re)downloaded, given either directory-listing hints or a
// HEAD response.
package compare

import (
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/APTlantis/http-tree-mirror/internal/listing"
)

// naiveToAbsolute converts a naive (zone-less) remote timestamp into an
// absolute instant using tz, defaulting to UTC when tz is nil.
func naiveToAbsolute(naive time.Time, tz *time.Location) time.Time {
	if tz == nil {
		tz = time.UTC
	}
	return time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), tz)
}

// sizeMatches reports whether localSize matches the remote-reported size,
// tolerating the rounding interval of a humanized value.
func sizeMatches(localSize int64, remote *listing.FileSize) bool {
	if remote == nil {
		// unknown size: do not short-circuit on size alone
		return true
	}
	if remote.Exact != nil {
		return localSize == *remote.Exact
	}
	h := remote.Humanized
	if h == nil {
		return true
	}
	unit := h.Unit.Bytes()
	// Convert the local size into the same unit, trimmed to the same
	// printed precision, and check it lands in the half-open rounding
	// interval [value, value+10^-precision) (in that unit) the remote side
	// would have collapsed any value in that range into.
	scale := math.Pow(10, float64(h.Precision))
	localInUnit := float64(localSize) / float64(unit)
	localTrimmed := listing.RoundTo(localInUnit, h.Precision)
	lowerValue := h.Value
	upperValue := h.Value + 1.0/scale
	return localTrimmed >= lowerValue && localTrimmed < upperValue
}

// ShouldDownloadByList decides freshness from directory-listing hints.
//
// allowMtimeFromParser is accepted for contract parity with the upstream
// decision function but, matching the reference implementation, is never
// consulted here: it only affects which mtime is *written* to a freshly
// downloaded file (see the scheduler's download task), never whether one is
// downloaded.
func ShouldDownloadByList(localPath string, remote listing.Item, tz *time.Location, skipIfExists bool, allowMtimeFromParser bool) bool {
	_ = allowMtimeFromParser

	info, err := os.Stat(localPath)
	exists := err == nil && info.Mode().IsRegular()

	if skipIfExists && exists {
		return false
	}
	if !exists {
		return true
	}
	if remote.SkipCheck {
		return false
	}
	if !sizeMatches(info.Size(), remote.Size) {
		return true
	}
	remoteInstant := naiveToAbsolute(remote.MTime, tz)
	if info.ModTime().Before(remoteInstant) {
		return true
	}
	return false
}

// ShouldDownloadByHead decides freshness from a HEAD response, optionally
// skipping the mtime comparison entirely (compareSizeOnly).
func ShouldDownloadByHead(localPath string, head *http.Response, compareSizeOnly bool) bool {
	info, err := os.Stat(localPath)
	if err != nil || !info.Mode().IsRegular() {
		return true
	}

	if cl := head.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			if n != info.Size() {
				return true
			}
		}
		// unparsable Content-Length: unknown size, do not short-circuit
	}

	if compareSizeOnly {
		return false
	}

	lm := head.Header.Get("Last-Modified")
	if lm == "" {
		// conservative: no mtime hint to compare against, so refresh
		return true
	}
	remoteMTime, err := http.ParseTime(lm)
	if err != nil {
		return true
	}
	if info.ModTime().Before(remoteMTime) {
		return true
	}
	return false
}
