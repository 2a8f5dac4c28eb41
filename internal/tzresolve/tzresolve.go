// Package tzresolve derives the fixed UTC offset used to interpret naive
// remote timestamps, ported from the teacher's determinate_timezone/
// guess_remote_timezone pair in original_source/src/cli/sync.rs.
package tzresolve

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/APTlantis/http-tree-mirror/internal/httpclient"
	"github.com/APTlantis/http-tree-mirror/internal/listing"
)

// Options configures offset resolution; at most one of OffsetHours or
// ProbeURL should be set by the caller (explicit offset wins if both are).
type Options struct {
	OffsetHours *int
	ProbeURL    string
	UpstreamURL string
}

// Resolve derives a *time.Location fixed-offset zone per Options, falling
// back to nil (treated as UTC downstream) on any failure in the guessing
// chain. Failures are logged as warnings, never returned as errors.
func Resolve(ctx context.Context, client *httpclient.Client, parser listing.Parser, opts Options) *time.Location {
	if opts.OffsetHours != nil {
		hours := *opts.OffsetHours
		slog.Info("using configured timezone offset", "hours", hours)
		return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
	}

	probeURL := opts.ProbeURL
	if probeURL == "" {
		url, ok := firstFileInRoot(ctx, client, parser, opts.UpstreamURL)
		if !ok {
			return nil
		}
		probeURL = url
	}

	loc, err := guessFromProbe(ctx, client, parser, probeURL)
	if err != nil {
		slog.Warn("failed to guess timezone, proceeding without one", "probe_url", probeURL, "err", err)
		return nil
	}
	slog.Info("guessed timezone", "location", loc.String())
	return loc
}

func firstFileInRoot(ctx context.Context, client *httpclient.Client, parser listing.Parser, upstreamURL string) (string, bool) {
	result, err := parser.GetList(ctx, client, upstreamURL)
	if err != nil {
		slog.Warn("failed to list root index for timezone guessing, disabling it", "err", err)
		return "", false
	}
	if result.IsRedirect() {
		slog.Warn("root index is a redirect, disabling timezone guessing")
		return "", false
	}
	for _, item := range result.Items {
		if item.Type == listing.File {
			return item.URL, true
		}
	}
	slog.Warn("no files in root index, disabling timezone guessing")
	return "", false
}

// guessFromProbe fetches the parser's naive mtime for probeURL's parent
// listing entry, HEADs probeURL for its Last-Modified, and derives the
// offset by which the naive time is ahead of UTC, rounded to the nearest
// whole hour in [-12, +14].
func guessFromProbe(ctx context.Context, client *httpclient.Client, parser listing.Parser, probeURL string) (*time.Location, error) {
	parent, err := parentURL(probeURL)
	if err != nil {
		return nil, err
	}
	result, err := parser.GetList(ctx, client, parent)
	if err != nil {
		return nil, fmt.Errorf("tzresolve: list parent of probe file: %w", err)
	}
	if result.IsRedirect() {
		return nil, fmt.Errorf("tzresolve: parent of probe file is a redirect")
	}
	var naive time.Time
	found := false
	for _, item := range result.Items {
		if item.URL == probeURL {
			naive = item.MTime
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("tzresolve: probe file %q not found in parent listing", probeURL)
	}

	resp, err := client.Head(ctx, probeURL)
	if err != nil {
		return nil, fmt.Errorf("tzresolve: head probe file: %w", err)
	}
	lastModified := resp.Header.Get("Last-Modified")
	if lastModified == "" {
		return nil, fmt.Errorf("tzresolve: probe file has no Last-Modified header")
	}
	absolute, err := http.ParseTime(lastModified)
	if err != nil {
		return nil, fmt.Errorf("tzresolve: parse Last-Modified %q: %w", lastModified, err)
	}

	diffHours := int(math.Round(naive.Sub(absolute.UTC()).Hours()))
	if diffHours < -12 || diffHours > 14 {
		return nil, fmt.Errorf("tzresolve: derived offset %dh out of range [-12, 14]", diffHours)
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", diffHours), diffHours*3600), nil
}

func parentURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("tzresolve: derive parent of %q: %w", rawURL, err)
	}
	path := strings.TrimSuffix(u.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", fmt.Errorf("tzresolve: %q has no parent directory", rawURL)
	}
	u.Path = path[:idx+1]
	return u.String(), nil
}
